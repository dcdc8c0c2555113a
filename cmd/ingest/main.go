package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"activity-rag/internal/app"
	"activity-rag/internal/apperr"
	"activity-rag/internal/httputil"
	"activity-rag/internal/ingest"
	"activity-rag/internal/queue"
)

type ingestTaskPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("ingest worker starting")

	pipeline := ingest.New(deps.Store, deps.Embedder, deps.Cache, deps.Log, ingest.Options{
		ChunkSize:           deps.Config.ChunkSize,
		ChunkOverlap:        deps.Config.ChunkOverlap,
		EmbeddingModel:      deps.Config.EmbeddingModel,
		MaxTransientRetries: deps.Config.MaxTransientRetries,
	})

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeIngest, func(ctx context.Context, task queue.Task) error {
			return handleIngest(ctx, deps.Log, pipeline, task)
		})
	})

	g.Go(func() error {
		return pipeline.SweepStale(ctx, deps.Config.ProcessingTimeout, deps.Config.SweepInterval)
	})

	g.Go(func() error {
		return httputil.ServeHealth(deps.Log, deps.Config.HealthPort, "ingest")
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("ingest worker stopped", "err", err)
	}
}

// handleIngest runs the pipeline for one queued document. A conflict is
// returned as-is so the queue drops the duplicate task; every other failure
// is already recorded on the document, so the task is consumed.
func handleIngest(ctx context.Context, log *slog.Logger, pipeline *ingest.Pipeline, task queue.Task) error {
	var payload ingestTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		log.Error("malformed ingest task payload", "task_id", task.ID, "err", err)
		return nil
	}
	if payload.DocumentID == uuid.Nil {
		log.Error("ingest task missing document id", "task_id", task.ID)
		return nil
	}

	err := pipeline.Run(ctx, payload.DocumentID)
	switch {
	case err == nil:
		return nil
	case apperr.IsKind(err, apperr.ErrConflict):
		return err
	case apperr.IsKind(err, apperr.ErrNotFound):
		log.Warn("document vanished before ingestion", "document_id", payload.DocumentID)
		return nil
	default:
		log.Error("ingestion failed", "document_id", payload.DocumentID, "err", err)
		return nil
	}
}
