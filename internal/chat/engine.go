package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"activity-rag/internal/apperr"
	"activity-rag/internal/cache"
	"activity-rag/internal/embeddings"
	"activity-rag/internal/llm"
	"activity-rag/internal/store"
)

// Options tunes retrieval and context assembly.
type Options struct {
	TopK            int
	HistoryWindow   int
	MaxContextChars int
	CacheTTL        time.Duration
}

// Engine answers questions grounded in an activity's documents, maintaining
// session-scoped history with citations.
type Engine struct {
	store    store.Store
	embedder embeddings.Embedder
	llm      llm.Client
	cache    cache.Cache
	log      *slog.Logger
	opts     Options
}

// Request is one chat call. DocumentID narrows retrieval to a single
// document; SessionID continues an existing conversation.
type Request struct {
	ActivityID uuid.UUID
	DocumentID *uuid.UUID
	SessionID  *uuid.UUID
	Message    string
}

// Citation points an answer at a chunk that was part of its grounding
// context.
type Citation struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Score      float32   `json:"score"`
	Preview    string    `json:"preview"`
}

type Response struct {
	SessionID  uuid.UUID
	DocumentID *uuid.UUID
	Answer     string
	Citations  []Citation
}

const (
	defaultTopK            = 5
	defaultHistoryWindow   = 6
	defaultMaxContextChars = 6000
	previewLen             = 150
)

func New(st store.Store, embedder embeddings.Embedder, client llm.Client, c cache.Cache, log *slog.Logger, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = defaultMaxContextChars
	}
	return &Engine{store: st, embedder: embedder, llm: client, cache: c, log: log, opts: opts}
}

// Chat resolves or creates the session, retrieves chunks within the
// session's declared scope, and generates a grounded answer. The session is
// only appended to after a successful generation; a failed call leaves it
// exactly as it was.
func (e *Engine) Chat(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Response{}, apperr.New(apperr.ErrInvalidInput, "message must not be empty")
	}

	sess, err := e.resolveSession(ctx, req)
	if err != nil {
		return Response{}, err
	}

	history, err := e.store.ListTurns(ctx, sess.ID, e.opts.HistoryWindow)
	if err != nil {
		return Response{}, err
	}
	messages := toMessages(history)

	// First turn uses the raw message; any later turn is condensed into a
	// standalone query so pronoun-only follow-ups still retrieve well.
	query := req.Message
	if len(messages) > 0 {
		standalone, err := e.llm.Condense(ctx, req.Message, messages)
		if err != nil {
			e.log.Warn("condensation failed, using raw message", "session_id", sess.ID, "err", err)
		} else if standalone != "" {
			query = standalone
		}
	}

	hits, err := e.retrieve(ctx, sess, query)
	if err != nil {
		return Response{}, err
	}

	contextText, cited := e.assembleContext(hits)

	answer, err := e.llm.Answer(ctx, req.Message, contextText, messages)
	if err != nil {
		return Response{}, err
	}

	citedIDs := make([]uuid.UUID, len(cited))
	for i, c := range cited {
		citedIDs[i] = c.ChunkID
	}
	turns := []store.Turn{
		{SessionID: sess.ID, Role: "user", Content: req.Message},
		{SessionID: sess.ID, Role: "assistant", Content: answer, CitedChunkIDs: citedIDs},
	}
	if err := e.store.AppendTurns(ctx, sess.ID, turns); err != nil {
		return Response{}, err
	}

	return Response{
		SessionID:  sess.ID,
		DocumentID: sess.DocumentID,
		Answer:     answer,
		Citations:  cited,
	}, nil
}

// resolveSession loads the referenced session or lazily creates one scoped
// to (activity, optional document). A document scope must belong to the
// activity.
func (e *Engine) resolveSession(ctx context.Context, req Request) (store.Session, error) {
	if req.SessionID != nil {
		sess, err := e.store.GetSession(ctx, *req.SessionID)
		if err != nil {
			return store.Session{}, err
		}
		if sess.ActivityID != req.ActivityID {
			return store.Session{}, apperr.New(apperr.ErrInvalidInput, "session %s does not belong to activity %s", sess.ID, req.ActivityID)
		}
		return sess, nil
	}

	if req.DocumentID != nil {
		doc, err := e.store.GetDocument(ctx, *req.DocumentID)
		if err != nil {
			return store.Session{}, err
		}
		if doc.ActivityID != req.ActivityID {
			return store.Session{}, apperr.New(apperr.ErrInvalidInput, "document %s does not belong to activity %s", doc.ID, req.ActivityID)
		}
	}
	return e.store.CreateSession(ctx, req.ActivityID, req.DocumentID)
}

// retrieve embeds the standalone query and searches within the session's
// scope, with a cache in front of the embed+search pair.
func (e *Engine) retrieve(ctx context.Context, sess store.Session, query string) ([]cache.Hit, error) {
	key := cache.RetrievalKey(sess.ActivityID, sess.DocumentID, query, e.opts.TopK)
	if cached, err := e.cache.GetRetrieval(ctx, key); err == nil && cached != nil {
		return cached.Hits, nil
	} else if err != nil {
		e.log.Warn("retrieval cache read failed", "err", err)
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := e.store.Search(ctx, sess.ActivityID, sess.DocumentID, vec, e.opts.TopK)
	if err != nil {
		return nil, err
	}

	hits := make([]cache.Hit, len(results))
	for i, r := range results {
		hits[i] = cache.Hit{
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			Ordinal:    r.Chunk.Ordinal,
			Text:       r.Chunk.Text,
			Score:      r.Score,
		}
	}
	if err := e.cache.SetRetrieval(ctx, key, &cache.Retrieval{Query: query, Hits: hits}, e.opts.CacheTTL); err != nil {
		e.log.Warn("retrieval cache write failed", "err", err)
	}
	return hits, nil
}

// assembleContext stitches hit texts in descending similarity order under
// the character budget. Only chunks that made it into the context are cited;
// a chunk dropped for length is never referenced by the answer.
func (e *Engine) assembleContext(hits []cache.Hit) (string, []Citation) {
	var builder strings.Builder
	var cited []Citation
	for _, hit := range hits {
		if builder.Len() > 0 && builder.Len()+len(hit.Text)+1 > e.opts.MaxContextChars {
			break
		}
		builder.WriteString(hit.Text)
		builder.WriteString("\n")
		cited = append(cited, Citation{
			ChunkID:    hit.ChunkID,
			DocumentID: hit.DocumentID,
			Ordinal:    hit.Ordinal,
			Score:      hit.Score,
			Preview:    truncate(hit.Text, previewLen),
		})
	}
	return builder.String(), cited
}

func toMessages(turns []store.Turn) []llm.Message {
	messages := make([]llm.Message, len(turns))
	for i, t := range turns {
		messages[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return messages
}

// truncate limits text to maxLen characters, cutting at word boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if idx := strings.LastIndex(s[:maxLen], " "); idx > 0 {
		return s[:idx] + "..."
	}
	return s[:maxLen] + "..."
}
