package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"activity-rag/internal/apperr"
	"activity-rag/internal/embeddings"
)

type PostgresStore struct {
	db        *sql.DB
	dimension int
}

// NewPostgres opens a connection and runs migrations. dimension fixes the
// pgvector column size and must match the embedding model.
func NewPostgres(dsn string, dimension int) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db, dimension: dimension}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Use advisory lock to prevent concurrent migrations from multiple services.
	// Note: In production, use dedicated migration tools (e.g., golang-migrate/migrate)
	// that run as a separate deployment step before app services start.
	const lockID = 724031586 // arbitrary number for this application's migration lock

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another service is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			activity_id UUID NOT NULL,
			uploaded_by UUID NOT NULL,
			filename TEXT NOT NULL,
			file_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			content BYTEA NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT,
			chunk_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS documents_activity_idx ON documents(activity_id);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			activity_id UUID NOT NULL,
			ord INT NOT NULL,
			text TEXT NOT NULL,
			start_offset INT NOT NULL,
			end_offset INT NOT NULL,
			char_count INT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id);`,
		`CREATE INDEX IF NOT EXISTS chunks_activity_idx ON chunks(activity_id);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id UUID PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			document_id UUID NOT NULL,
			activity_id UUID NOT NULL,
			vector vector(%d),
			model TEXT
		);`, s.dimension),
		`CREATE INDEX IF NOT EXISTS embeddings_activity_idx ON embeddings(activity_id);`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id UUID PRIMARY KEY,
			activity_id UUID NOT NULL,
			document_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			seq BIGSERIAL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			cited_chunk_ids UUID[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages(session_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// IVFFlat index for fast similarity search
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS embeddings_vector_idx
		ON embeddings USING ivfflat (vector vector_cosine_ops)
		WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	doc.ID = uuid.New()
	doc.Status = StatusPending
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents(id, activity_id, uploaded_by, filename, file_type, description, tags, content, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		doc.ID, doc.ActivityID, doc.UploadedBy, doc.Filename, doc.FileType, doc.Description,
		pq.Array(doc.Tags), doc.Content, doc.Status, now)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, activity_id, uploaded_by, filename, file_type, description, tags, content,
		       status, COALESCE(failure_reason, ''), chunk_count, created_at, updated_at
		FROM documents WHERE id=$1`, id)
	doc, err := scanDocument(row, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, apperr.New(apperr.ErrNotFound, "document %s", id)
		}
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, activityID uuid.UUID, documentID *uuid.UUID) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, activity_id, uploaded_by, filename, file_type, description, tags,
		       status, COALESCE(failure_reason, ''), chunk_count, created_at, updated_at
		FROM documents
		WHERE activity_id=$1 AND ($2::uuid IS NULL OR id=$2)
		ORDER BY created_at`, activityID, uuidArg(documentID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	// chunks and embeddings ride the FK cascades; sessions survive on purpose.
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.ErrNotFound, "document %s", id)
	}
	return nil
}

func (s *PostgresStore) ClaimDocument(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status=$1, updated_at=now()
		WHERE id=$2 AND status=$3`, StatusProcessing, id, StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current DocumentStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id=$1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.ErrNotFound, "document %s", id)
	}
	if err != nil {
		return err
	}
	return apperr.New(apperr.ErrConflict, "document %s is %s, not %s", id, current, StatusPending)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, id uuid.UUID, chunkCount int) error {
	return s.finishProcessing(ctx, id, StatusProcessed, "", chunkCount)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.finishProcessing(ctx, id, StatusFailed, reason, 0)
}

func (s *PostgresStore) MarkEnqueueFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status=$1, failure_reason=NULLIF($2, ''), updated_at=now()
		WHERE id=$3 AND status=$4`, StatusFailed, reason, id, StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.ErrConflict, "document %s is not pending", id)
	}
	return nil
}

func (s *PostgresStore) finishProcessing(ctx context.Context, id uuid.UUID, status DocumentStatus, reason string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status=$1, failure_reason=NULLIF($2, ''), chunk_count=$3, updated_at=now()
		WHERE id=$4 AND status=$5`, status, reason, chunkCount, id, StatusProcessing)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.ErrConflict, "document %s is not processing", id)
	}
	return nil
}

func (s *PostgresStore) ResetForReingest(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET status=$1, failure_reason=NULL, chunk_count=0, updated_at=now()
		WHERE id=$2 AND status <> $3`, StatusPending, id, StatusProcessing)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current DocumentStatus
		err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id=$1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.ErrNotFound, "document %s", id)
		}
		if err != nil {
			return err
		}
		return apperr.New(apperr.ErrConflict, "document %s is being processed", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE documents SET status=$1, failure_reason='processing timed out', updated_at=now()
		WHERE status=$2 AND updated_at < $3
		RETURNING id`, StatusFailed, StatusProcessing, cutoff)
	if err != nil {
		return 0, err
	}
	var swept []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		swept = append(swept, id.String())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(swept) == 0 {
		return 0, tx.Commit()
	}

	// The dead worker may have written chunks before crashing; drop them in
	// the same transaction (embeddings ride the FK cascade) so no partial
	// chunk set of a failed document stays queryable.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ANY($1::uuid[])`, pq.Array(swept)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int64(len(swept)), nil
}

func (s *PostgresStore) SaveChunks(ctx context.Context, docID uuid.UUID, chunks []Chunk) ([]Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		c.ID = uuid.New()
		c.DocumentID = docID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks(id, document_id, activity_id, ord, text, start_offset, end_offset, char_count)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
			c.ID, c.DocumentID, c.ActivityID, c.Ordinal, c.Text, c.Start, c.End, c.CharCount)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, activity_id, ord, text, start_offset, end_offset, char_count
		FROM chunks WHERE document_id=$1 ORDER BY ord`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.ActivityID, &c.Ordinal, &c.Text, &c.Start, &c.End, &c.CharCount); err != nil {
			return nil, err
		}
		c.DocumentID = docID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, docID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, docID)
	return err
}

func (s *PostgresStore) SaveEmbeddings(ctx context.Context, embs []Embedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, emb := range embs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings(chunk_id, document_id, activity_id, vector, model)
			VALUES($1,$2,$3,$4::vector,$5)
			ON CONFLICT (chunk_id) DO UPDATE SET vector=excluded.vector, model=excluded.model`,
			emb.ChunkID, emb.DocumentID, emb.ActivityID, vectorToString(emb.Vector), emb.Model)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Search(ctx context.Context, activityID uuid.UUID, documentID *uuid.UUID, vector embeddings.Vector, k int) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.id, c.document_id, c.activity_id, c.ord, c.text,
			c.start_offset, c.end_offset, c.char_count,
			1 - (e.vector <=> $1::vector) AS similarity
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE e.activity_id = $2 AND ($3::uuid IS NULL OR e.document_id = $3)
		ORDER BY e.vector <=> $1::vector, c.ord
		LIMIT $4`,
		vectorToString(vector), activityID, uuidArg(documentID), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.ActivityID, &r.Chunk.Ordinal, &r.Chunk.Text,
			&r.Chunk.Start, &r.Chunk.End, &r.Chunk.CharCount, &r.Score,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStore) ActivityStats(ctx context.Context, activityID uuid.UUID) (Stats, error) {
	stats := Stats{ActivityID: activityID, ByStatus: map[DocumentStatus]int{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, count(*) FROM documents WHERE activity_id=$1 GROUP BY status`, activityID)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var status DocumentStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.ByStatus[status] = count
		stats.Documents += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM chunks WHERE activity_id=$1`, activityID).Scan(&stats.TotalChunks)
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, activityID uuid.UUID, documentID *uuid.UUID) (Session, error) {
	sess := Session{
		ID:         uuid.New(),
		ActivityID: activityID,
		DocumentID: documentID,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions(id, activity_id, document_id, created_at, updated_at)
		VALUES($1,$2,$3,$4,$4)`,
		sess.ID, sess.ActivityID, uuidArg(documentID), sess.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	var sess Session
	var docID uuid.NullUUID
	row := s.db.QueryRowContext(ctx, `
		SELECT id, activity_id, document_id, created_at, updated_at
		FROM chat_sessions WHERE id=$1`, id)
	if err := row.Scan(&sess.ID, &sess.ActivityID, &docID, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, apperr.New(apperr.ErrNotFound, "session %s", id)
		}
		return Session{}, err
	}
	if docID.Valid {
		sess.DocumentID = &docID.UUID
	}
	return sess, nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]Turn, error) {
	query := `
		SELECT id, role, content, cited_chunk_ids, created_at
		FROM chat_messages WHERE session_id=$1 ORDER BY seq`
	args := []any{sessionID}
	if limit > 0 {
		query = `
			SELECT id, role, content, cited_chunk_ids, created_at FROM (
				SELECT id, seq, role, content, cited_chunk_ids, created_at
				FROM chat_messages WHERE session_id=$1 ORDER BY seq DESC LIMIT $2
			) recent ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var cited []string
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, pq.Array(&cited), &t.CreatedAt); err != nil {
			return nil, err
		}
		t.SessionID = sessionID
		for _, raw := range cited {
			if id, err := uuid.Parse(raw); err == nil {
				t.CitedChunkIDs = append(t.CitedChunkIDs, id)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendTurns(ctx context.Context, sessionID uuid.UUID, turns []Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range turns {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		cited := make([]string, len(t.CitedChunkIDs))
		for i, id := range t.CitedChunkIDs {
			cited[i] = id.String()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_messages(id, session_id, role, content, cited_chunk_ids)
			VALUES($1,$2,$3,$4,$5::uuid[])`,
			t.ID, sessionID, t.Role, t.Content, pq.Array(cited))
		if err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at=now() WHERE id=$1`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, withContent bool) (Document, error) {
	var doc Document
	var tags []string
	dest := []any{
		&doc.ID, &doc.ActivityID, &doc.UploadedBy, &doc.Filename, &doc.FileType,
		&doc.Description, pq.Array(&tags),
	}
	if withContent {
		dest = append(dest, &doc.Content)
	}
	dest = append(dest, &doc.Status, &doc.FailureReason, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return Document{}, err
	}
	doc.Tags = tags
	return doc, nil
}

// uuidArg passes an optional uuid as a nullable query parameter.
func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

// vectorToString converts a Vector ([]float32) to pgvector array format.
// Format: "[0.1,0.2,0.3,...]"
func vectorToString(v embeddings.Vector) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
