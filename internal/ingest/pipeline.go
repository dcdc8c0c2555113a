package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"activity-rag/internal/apperr"
	"activity-rag/internal/cache"
	"activity-rag/internal/chunker"
	"activity-rag/internal/embeddings"
	"activity-rag/internal/extract"
	"activity-rag/internal/store"
)

// Options tunes the pipeline.
type Options struct {
	ChunkSize           int
	ChunkOverlap        int
	EmbeddingModel      string
	MaxTransientRetries int
}

// Pipeline drives a document through
// pending -> processing -> {processed | failed}.
type Pipeline struct {
	store    store.Store
	embedder embeddings.Embedder
	cache    cache.Cache
	log      *slog.Logger
	opts     Options
}

const embedBatchSize = 64

func New(st store.Store, embedder embeddings.Embedder, c cache.Cache, log *slog.Logger, opts Options) *Pipeline {
	return &Pipeline{store: st, embedder: embedder, cache: c, log: log, opts: opts}
}

// Run ingests one document: claim, extract, chunk, embed, index, mark
// processed. The claim is exclusive; a concurrent attempt on the same
// document gets ErrConflict. On any later failure the document's chunks and
// vectors are rolled back before it is marked failed, so nothing partial is
// ever queryable.
func (p *Pipeline) Run(ctx context.Context, docID uuid.UUID) error {
	if err := p.store.ClaimDocument(ctx, docID); err != nil {
		return err
	}
	log := p.log.With("document_id", docID)

	doc, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return p.fail(ctx, docID, doc.ActivityID, fmt.Errorf("load document: %w", err))
	}
	log = log.With("activity_id", doc.ActivityID, "filename", doc.Filename)

	text, err := extract.Text(extract.FileType(doc.FileType), doc.Content)
	if err != nil {
		return p.fail(ctx, docID, doc.ActivityID, fmt.Errorf("extract text: %w", err))
	}

	spans, err := chunker.Split(text, chunker.Options{TargetSize: p.opts.ChunkSize, Overlap: p.opts.ChunkOverlap})
	if err != nil {
		return p.fail(ctx, docID, doc.ActivityID, fmt.Errorf("chunk text: %w", err))
	}
	if len(spans) == 0 {
		log.Info("document produced no chunks", "extracted_bytes", len(text))
		if err := p.store.MarkProcessed(ctx, docID, 0); err != nil {
			return err
		}
		return p.invalidate(ctx, doc.ActivityID)
	}

	chunks := make([]store.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = store.Chunk{
			ActivityID: doc.ActivityID,
			Ordinal:    s.Index,
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			CharCount:  s.CharCount,
		}
	}
	saved, err := p.store.SaveChunks(ctx, docID, chunks)
	if err != nil {
		return p.fail(ctx, docID, doc.ActivityID, fmt.Errorf("save chunks: %w", err))
	}

	if err := p.indexChunks(ctx, saved); err != nil {
		return p.fail(ctx, docID, doc.ActivityID, err)
	}

	if err := p.store.MarkProcessed(ctx, docID, len(saved)); err != nil {
		return err
	}
	log.Info("document processed", "chunks", len(saved))
	return p.invalidate(ctx, doc.ActivityID)
}

// Reingest replaces an existing document's chunk set: prior chunks and
// vectors are dropped atomically, then a fresh cycle runs.
func (p *Pipeline) Reingest(ctx context.Context, docID uuid.UUID) error {
	if err := p.store.ResetForReingest(ctx, docID); err != nil {
		return err
	}
	return p.Run(ctx, docID)
}

// indexChunks embeds and upserts chunks in batches. Transient backend errors
// are retried a bounded number of times with backoff; dimension mismatches
// and other permanent errors fail immediately.
func (p *Pipeline) indexChunks(ctx context.Context, chunks []store.Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		var vectors []embeddings.Vector
		err := retry.Do(
			func() error {
				var embedErr error
				vectors, embedErr = p.embedder.EmbedBatch(ctx, texts)
				return embedErr
			},
			retry.Context(ctx),
			retry.Attempts(uint(p.opts.MaxTransientRetries)+1),
			retry.Delay(500*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
			retry.RetryIf(apperr.IsTransient),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return apperr.New(apperr.ErrEmbedding, "expected %d vectors, got %d", len(batch), len(vectors))
		}

		entries := make([]store.Embedding, len(batch))
		for i, c := range batch {
			entries[i] = store.Embedding{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				ActivityID: c.ActivityID,
				Vector:     vectors[i],
				Model:      p.opts.EmbeddingModel,
			}
		}
		if err := p.store.SaveEmbeddings(ctx, entries); err != nil {
			return fmt.Errorf("save embeddings at %d: %w", start, err)
		}
	}
	return nil
}

// fail rolls back any chunks/vectors written by this attempt and records the
// failure reason. The original error is returned for the caller to log.
func (p *Pipeline) fail(ctx context.Context, docID, activityID uuid.UUID, cause error) error {
	if err := p.store.DeleteChunks(ctx, docID); err != nil {
		p.log.Error("failed to roll back chunks", "document_id", docID, "err", err)
	}
	if err := p.store.MarkFailed(ctx, docID, cause.Error()); err != nil {
		p.log.Error("failed to mark document failed", "document_id", docID, "err", err)
	}
	if activityID != uuid.Nil {
		if err := p.cache.InvalidateActivity(ctx, activityID); err != nil {
			p.log.Warn("failed to invalidate cache", "activity_id", activityID, "err", err)
		}
	}
	return cause
}

func (p *Pipeline) invalidate(ctx context.Context, activityID uuid.UUID) error {
	if err := p.cache.InvalidateActivity(ctx, activityID); err != nil {
		p.log.Warn("failed to invalidate cache", "activity_id", activityID, "err", err)
	}
	return nil
}
