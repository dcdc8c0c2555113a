package chat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"activity-rag/internal/apperr"
	"activity-rag/internal/cache"
	"activity-rag/internal/embeddings"
	"activity-rag/internal/llm"
	"activity-rag/internal/store"
)

type fixtures struct {
	st  *store.MockStore
	emb *embeddings.MockEmbedder
	lc  *llm.MockClient
	c   *cache.MockCache
}

func newTestEngine(opts Options) (*Engine, fixtures) {
	f := fixtures{
		st:  &store.MockStore{},
		emb: &embeddings.MockEmbedder{},
		lc:  &llm.MockClient{},
		c:   &cache.MockCache{},
	}
	e := New(f.st, f.emb, f.lc, f.c, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
	return e, f
}

func missCache(c *cache.MockCache) {
	c.On("GetRetrieval", mock.Anything, mock.Anything).Return(nil, nil)
	c.On("SetRetrieval", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func TestChatFirstTurnSkipsCondensation(t *testing.T) {
	activityID := uuid.New()
	sessionID := uuid.New()
	chunkID := uuid.New()
	docID := uuid.New()

	e, f := newTestEngine(Options{})
	missCache(f.c)
	f.st.On("CreateSession", mock.Anything, activityID, (*uuid.UUID)(nil)).
		Return(store.Session{ID: sessionID, ActivityID: activityID}, nil).Once()
	f.st.On("ListTurns", mock.Anything, sessionID, defaultHistoryWindow).Return([]store.Turn{}, nil).Once()
	f.emb.On("Embed", mock.Anything, "What are Newton's three laws of motion?").
		Return(embeddings.Vector{0.1, 0.2}, nil).Once()
	f.st.On("Search", mock.Anything, activityID, (*uuid.UUID)(nil), mock.Anything, defaultTopK).
		Return([]store.SearchResult{
			{Chunk: store.Chunk{ID: chunkID, DocumentID: docID, ActivityID: activityID, Ordinal: 0,
				Text: "Newton's first law: inertia. Second law: F=ma. Third law: action-reaction."}, Score: 0.93},
		}, nil).Once()
	f.lc.On("Answer", mock.Anything, "What are Newton's three laws of motion?", mock.MatchedBy(func(ctxText string) bool {
		return strings.Contains(ctxText, "F=ma")
	}), mock.Anything).Return("The three laws cover inertia, F=ma, and action-reaction.", nil).Once()
	f.st.On("AppendTurns", mock.Anything, sessionID, mock.MatchedBy(func(turns []store.Turn) bool {
		return len(turns) == 2 && turns[0].Role == "user" && turns[1].Role == "assistant" &&
			len(turns[1].CitedChunkIDs) == 1 && turns[1].CitedChunkIDs[0] == chunkID
	})).Return(nil).Once()

	resp, err := e.Chat(context.Background(), Request{ActivityID: activityID, Message: "What are Newton's three laws of motion?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SessionID != sessionID {
		t.Errorf("expected session %s, got %s", sessionID, resp.SessionID)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].ChunkID != chunkID {
		t.Errorf("expected one citation for chunk %s, got %+v", chunkID, resp.Citations)
	}
	f.lc.AssertNotCalled(t, "Condense", mock.Anything, mock.Anything, mock.Anything)
	f.st.AssertExpectations(t)
}

func TestChatFollowUpUsesCondensedQuery(t *testing.T) {
	activityID := uuid.New()
	sessionID := uuid.New()

	e, f := newTestEngine(Options{})
	missCache(f.c)
	sid := sessionID
	f.st.On("GetSession", mock.Anything, sessionID).
		Return(store.Session{ID: sessionID, ActivityID: activityID}, nil).Once()
	f.st.On("ListTurns", mock.Anything, sessionID, defaultHistoryWindow).Return([]store.Turn{
		{Role: "user", Content: "What is kinetic energy?"},
		{Role: "assistant", Content: "Energy of motion."},
	}, nil).Once()
	f.lc.On("Condense", mock.Anything, "What about potential?", mock.MatchedBy(func(history []llm.Message) bool {
		return len(history) == 2
	})).Return("What is potential energy?", nil).Once()
	// Retrieval must use the condensed query, not the pronoun-only message.
	f.emb.On("Embed", mock.Anything, "What is potential energy?").
		Return(embeddings.Vector{0.3, 0.4}, nil).Once()
	f.st.On("Search", mock.Anything, activityID, (*uuid.UUID)(nil), mock.Anything, defaultTopK).
		Return([]store.SearchResult{
			{Chunk: store.Chunk{ID: uuid.New(), Text: "Potential energy depends on height."}, Score: 0.88},
		}, nil).Once()
	f.lc.On("Answer", mock.Anything, "What about potential?", mock.Anything, mock.Anything).
		Return("Potential energy is stored energy due to position.", nil).Once()
	f.st.On("AppendTurns", mock.Anything, sessionID, mock.Anything).Return(nil).Once()

	_, err := e.Chat(context.Background(), Request{ActivityID: activityID, SessionID: &sid, Message: "What about potential?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.emb.AssertExpectations(t)
	f.lc.AssertExpectations(t)
}

func TestChatZeroChunksStillAnswers(t *testing.T) {
	activityID := uuid.New()
	sessionID := uuid.New()

	e, f := newTestEngine(Options{})
	missCache(f.c)
	f.st.On("CreateSession", mock.Anything, activityID, (*uuid.UUID)(nil)).
		Return(store.Session{ID: sessionID, ActivityID: activityID}, nil).Once()
	f.st.On("ListTurns", mock.Anything, sessionID, defaultHistoryWindow).Return([]store.Turn{}, nil).Once()
	f.emb.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{0.1}, nil).Once()
	f.st.On("Search", mock.Anything, activityID, (*uuid.UUID)(nil), mock.Anything, defaultTopK).
		Return([]store.SearchResult{}, nil).Once()
	f.lc.On("Answer", mock.Anything, mock.Anything, "", mock.Anything).
		Return("The documents contain no material on that topic.", nil).Once()
	f.st.On("AppendTurns", mock.Anything, sessionID, mock.Anything).Return(nil).Once()

	resp, err := e.Chat(context.Background(), Request{ActivityID: activityID, Message: "What is quantum entanglement?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer == "" {
		t.Error("expected a non-empty answer in degraded mode")
	}
	if len(resp.Citations) != 0 {
		t.Errorf("expected no citations, got %d", len(resp.Citations))
	}
}

func TestChatGenerationFailureLeavesSessionUntouched(t *testing.T) {
	activityID := uuid.New()
	sessionID := uuid.New()

	e, f := newTestEngine(Options{})
	missCache(f.c)
	f.st.On("CreateSession", mock.Anything, activityID, (*uuid.UUID)(nil)).
		Return(store.Session{ID: sessionID, ActivityID: activityID}, nil).Once()
	f.st.On("ListTurns", mock.Anything, sessionID, defaultHistoryWindow).Return([]store.Turn{}, nil).Once()
	f.emb.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{0.1}, nil).Once()
	f.st.On("Search", mock.Anything, activityID, (*uuid.UUID)(nil), mock.Anything, defaultTopK).
		Return([]store.SearchResult{
			{Chunk: store.Chunk{ID: uuid.New(), Text: "some chunk"}, Score: 0.7},
		}, nil).Once()
	f.lc.On("Answer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", apperr.Wrap(apperr.ErrGeneration, "answer", context.DeadlineExceeded)).Once()

	_, err := e.Chat(context.Background(), Request{ActivityID: activityID, Message: "Explain friction"})
	if !apperr.IsKind(err, apperr.ErrGeneration) {
		t.Fatalf("expected generation error, got %v", err)
	}
	f.st.AssertNotCalled(t, "AppendTurns", mock.Anything, mock.Anything, mock.Anything)
}

func TestChatSessionActivityMismatch(t *testing.T) {
	activityID := uuid.New()
	sessionID := uuid.New()

	e, f := newTestEngine(Options{})
	sid := sessionID
	f.st.On("GetSession", mock.Anything, sessionID).
		Return(store.Session{ID: sessionID, ActivityID: uuid.New()}, nil).Once()

	_, err := e.Chat(context.Background(), Request{ActivityID: activityID, SessionID: &sid, Message: "hello"})
	if !apperr.IsKind(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestChatDocumentScopeMustMatchActivity(t *testing.T) {
	activityID := uuid.New()
	docID := uuid.New()

	e, f := newTestEngine(Options{})
	did := docID
	f.st.On("GetDocument", mock.Anything, docID).
		Return(store.Document{ID: docID, ActivityID: uuid.New()}, nil).Once()

	_, err := e.Chat(context.Background(), Request{ActivityID: activityID, DocumentID: &did, Message: "hello"})
	if !apperr.IsKind(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	f.st.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestChatContextBudgetDropsUncitedChunks(t *testing.T) {
	activityID := uuid.New()
	sessionID := uuid.New()
	keptID := uuid.New()
	droppedID := uuid.New()

	e, f := newTestEngine(Options{MaxContextChars: 60})
	missCache(f.c)
	f.st.On("CreateSession", mock.Anything, activityID, (*uuid.UUID)(nil)).
		Return(store.Session{ID: sessionID, ActivityID: activityID}, nil).Once()
	f.st.On("ListTurns", mock.Anything, sessionID, defaultHistoryWindow).Return([]store.Turn{}, nil).Once()
	f.emb.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{0.1}, nil).Once()
	f.st.On("Search", mock.Anything, activityID, (*uuid.UUID)(nil), mock.Anything, defaultTopK).
		Return([]store.SearchResult{
			{Chunk: store.Chunk{ID: keptID, Text: strings.Repeat("a", 50)}, Score: 0.9},
			{Chunk: store.Chunk{ID: droppedID, Text: strings.Repeat("b", 50)}, Score: 0.8},
		}, nil).Once()
	f.lc.On("Answer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("answer", nil).Once()
	f.st.On("AppendTurns", mock.Anything, sessionID, mock.Anything).Return(nil).Once()

	resp, err := e.Chat(context.Background(), Request{ActivityID: activityID, Message: "question"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].ChunkID != keptID {
		t.Errorf("expected only the kept chunk cited, got %+v", resp.Citations)
	}
}

func TestChatCacheHitSkipsEmbedAndSearch(t *testing.T) {
	activityID := uuid.New()
	sessionID := uuid.New()
	chunkID := uuid.New()

	e, f := newTestEngine(Options{})
	f.st.On("CreateSession", mock.Anything, activityID, (*uuid.UUID)(nil)).
		Return(store.Session{ID: sessionID, ActivityID: activityID}, nil).Once()
	f.st.On("ListTurns", mock.Anything, sessionID, defaultHistoryWindow).Return([]store.Turn{}, nil).Once()
	f.c.On("GetRetrieval", mock.Anything, mock.Anything).Return(&cache.Retrieval{
		Query: "What is inertia?",
		Hits:  []cache.Hit{{ChunkID: chunkID, Text: "Inertia resists changes in motion.", Score: 0.91}},
	}, nil).Once()
	f.lc.On("Answer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("Inertia is resistance to changes in motion.", nil).Once()
	f.st.On("AppendTurns", mock.Anything, sessionID, mock.Anything).Return(nil).Once()

	resp, err := e.Chat(context.Background(), Request{ActivityID: activityID, Message: "What is inertia?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Citations) != 1 {
		t.Errorf("expected cached hit to be cited, got %+v", resp.Citations)
	}
	f.emb.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	f.st.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChatEmptyMessageRejected(t *testing.T) {
	e, _ := newTestEngine(Options{})
	_, err := e.Chat(context.Background(), Request{ActivityID: uuid.New(), Message: "   "})
	if !apperr.IsKind(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}
