package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"activity-rag/internal/embeddings"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded file scoped to an activity. Content carries the
// raw bytes and is only populated by GetDocument, not by listings.
type Document struct {
	ID            uuid.UUID
	ActivityID    uuid.UUID
	UploadedBy    uuid.UUID
	Filename      string
	FileType      string
	Description   string
	Tags          []string
	Content       []byte
	Status        DocumentStatus
	FailureReason string
	ChunkCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chunk is an immutable text span of a document. Start/End are byte offsets
// into the extracted text, kept for citations.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	ActivityID uuid.UUID
	Ordinal    int
	Text       string
	Start      int
	End        int
	CharCount  int
}

// Embedding is the vector index entry for a chunk; exactly one per chunk.
type Embedding struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	ActivityID uuid.UUID
	Vector     embeddings.Vector
	Model      string
}

type SearchResult struct {
	Chunk Chunk
	Score float32
}

// Stats summarizes an activity's documents for the stats endpoint.
type Stats struct {
	ActivityID  uuid.UUID
	Documents   int
	ByStatus    map[DocumentStatus]int
	TotalChunks int
}

// Session is a chat session scoped to an activity, optionally narrowed to a
// single document. Nil DocumentID means activity-wide.
type Session struct {
	ID         uuid.UUID
	ActivityID uuid.UUID
	DocumentID *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Turn is one message in a session. Assistant turns carry the chunk ids
// cited by the answer.
type Turn struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	Role          string
	Content       string
	CitedChunkIDs []uuid.UUID
	CreatedAt     time.Time
}

// Store defines the persistence contract for documents, chunks, the vector
// index, and chat sessions.
type Store interface {
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	ListDocuments(ctx context.Context, activityID uuid.UUID, documentID *uuid.UUID) ([]Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	// ClaimDocument transitions pending -> processing. A document already
	// being processed yields ErrConflict; only one ingestion may be in
	// flight per document.
	ClaimDocument(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID, chunkCount int) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// MarkEnqueueFailed transitions pending -> failed for a document whose
	// ingest task could not be queued, so it never sits in pending forever.
	MarkEnqueueFailed(ctx context.Context, id uuid.UUID, reason string) error
	// ResetForReingest drops the document's chunks and vectors and returns
	// it to pending in one transaction.
	ResetForReingest(ctx context.Context, id uuid.UUID) error
	// ResetStaleProcessing fails documents stuck in processing since before
	// the cutoff and drops any chunks their dead worker already wrote, so no
	// partial chunk set stays queryable; returns how many were flipped.
	ResetStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error)

	SaveChunks(ctx context.Context, docID uuid.UUID, chunks []Chunk) ([]Chunk, error)
	ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error)
	// DeleteChunks removes a document's chunks and, via cascade, its vector
	// index entries. Used to roll back a failed ingestion attempt.
	DeleteChunks(ctx context.Context, docID uuid.UUID) error

	SaveEmbeddings(ctx context.Context, embs []Embedding) error
	// Search returns the k nearest chunks within the activity, optionally
	// narrowed to one document, ordered by similarity descending with ties
	// broken by chunk ordinal.
	Search(ctx context.Context, activityID uuid.UUID, documentID *uuid.UUID, vector embeddings.Vector, k int) ([]SearchResult, error)

	ActivityStats(ctx context.Context, activityID uuid.UUID) (Stats, error)

	CreateSession(ctx context.Context, activityID uuid.UUID, documentID *uuid.UUID) (Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	// ListTurns returns the most recent limit turns in chronological order;
	// limit <= 0 returns all.
	ListTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]Turn, error)
	// AppendTurns persists a request/response pair atomically.
	AppendTurns(ctx context.Context, sessionID uuid.UUID, turns []Turn) error
}
