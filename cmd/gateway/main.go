package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"activity-rag/internal/app"
	"activity-rag/internal/apperr"
	"activity-rag/internal/chat"
	"activity-rag/internal/extract"
	"activity-rag/internal/httputil"
	"activity-rag/internal/queue"
	"activity-rag/internal/store"
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
	engine := chat.New(deps.Store, deps.Embedder, deps.LLM, deps.Cache, deps.Log, chat.Options{
		TopK:            deps.Config.TopK,
		HistoryWindow:   deps.Config.HistoryWindow,
		MaxContextChars: deps.Config.MaxContextChars,
		CacheTTL:        deps.Config.CacheTTL,
	})

	r := httputil.NewRouter(deps.Log)

	r.Post("/api/activities/{activityID}/documents", uploadHandler(deps))
	r.Get("/api/activities/{activityID}/documents", listDocumentsHandler(deps))
	r.Get("/api/activities/{activityID}/stats", statsHandler(deps))
	r.Get("/api/documents/{id}", getDocumentHandler(deps))
	r.Get("/api/documents/{id}/chunks", listChunksHandler(deps))
	r.Delete("/api/documents/{id}", deleteDocumentHandler(deps))
	r.Post("/api/documents/{id}/reingest", reingestHandler(deps))
	r.Post("/api/chat", chatHandler(deps, engine))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("gateway listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		deps.Log.Error("server failed", "err", err)
	}
}

// documentResponse is the wire shape of a document; raw content is never
// returned.
type documentResponse struct {
	ID            uuid.UUID `json:"id"`
	ActivityID    uuid.UUID `json:"activity_id"`
	UploadedBy    uuid.UUID `json:"uploaded_by"`
	Filename      string    `json:"filename"`
	FileType      string    `json:"file_type"`
	Description   string    `json:"description,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toDocumentResponse(doc store.Document) documentResponse {
	return documentResponse{
		ID:            doc.ID,
		ActivityID:    doc.ActivityID,
		UploadedBy:    doc.UploadedBy,
		Filename:      doc.Filename,
		FileType:      doc.FileType,
		Description:   doc.Description,
		Tags:          doc.Tags,
		Status:        string(doc.Status),
		FailureReason: doc.FailureReason,
		ChunkCount:    doc.ChunkCount,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		activityID, err := uuid.Parse(chi.URLParam(r, "activityID"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid activity id", err, http.StatusBadRequest)
			return
		}
		uploadedBy, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil {
			httputil.Fail(deps.Log, w, "X-User-ID header is required", err, http.StatusBadRequest)
			return
		}

		// Everything is validated before the document row exists, so a
		// rejected upload leaves no trace.
		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize)

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		fileType, err := extract.DetectType(header.Filename, header.Header.Get("Content-Type"))
		if err != nil {
			httputil.FailErr(deps.Log, w, "unsupported file type (allowed: pdf, txt, csv, json)", err)
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusBadRequest)
			return
		}

		var tags []string
		if raw := strings.TrimSpace(r.FormValue("tags")); raw != "" {
			for _, tag := range strings.Split(raw, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
		}

		doc, err := deps.Store.CreateDocument(ctx, store.Document{
			ActivityID:  activityID,
			UploadedBy:  uploadedBy,
			Filename:    header.Filename,
			FileType:    string(fileType),
			Description: r.FormValue("description"),
			Tags:        tags,
			Content:     content,
			Status:      store.StatusPending,
		})
		if err != nil {
			httputil.FailErr(deps.Log, w, "failed to persist document", err)
			return
		}

		if err := enqueueIngest(r, deps, doc.ID); err != nil {
			failUpload(deps, w, r, doc.ID, err)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"document_id": doc.ID.String(),
			"status":      doc.Status,
		})
	}
}

func enqueueIngest(r *http.Request, deps app.Deps, docID uuid.UUID) error {
	body, err := json.Marshal(ingestTaskPayload{DocumentID: docID})
	if err != nil {
		return err
	}
	task := queue.Task{Type: queue.TaskTypeIngest, Payload: body}
	return queue.EnqueueWithRetry(r.Context(), deps.Queue, task, 3, 200*time.Millisecond)
}

// failUpload marks a still-pending document failed when its ingest task
// could not be enqueued, so it does not sit in pending forever.
func failUpload(deps app.Deps, w http.ResponseWriter, r *http.Request, docID uuid.UUID, err error) {
	log := deps.Log.With("document_id", docID)
	if markErr := deps.Store.MarkEnqueueFailed(r.Context(), docID, "failed to enqueue ingestion task"); markErr != nil {
		log.Error("failed to mark document failed", "err", markErr)
	}
	httputil.Fail(log, w, "failed to enqueue document; please retry", err, http.StatusInternalServerError)
}

func listDocumentsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activityID, err := uuid.Parse(chi.URLParam(r, "activityID"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid activity id", err, http.StatusBadRequest)
			return
		}
		var docFilter *uuid.UUID
		if raw := r.URL.Query().Get("document_id"); raw != "" {
			docID, err := uuid.Parse(raw)
			if err != nil {
				httputil.Fail(deps.Log, w, "invalid document_id filter", err, http.StatusBadRequest)
				return
			}
			docFilter = &docID
		}

		docs, err := deps.Store.ListDocuments(r.Context(), activityID, docFilter)
		if err != nil {
			httputil.FailErr(deps.Log, w, "failed to list documents", err)
			return
		}
		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"documents": out})
	}
}

func getDocumentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		doc, err := deps.Store.GetDocument(r.Context(), docID)
		if err != nil {
			httputil.FailErr(deps.Log, w, "failed to load document", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toDocumentResponse(doc))
	}
}

type chunkResponse struct {
	ID        uuid.UUID `json:"id"`
	Ordinal   int       `json:"ordinal"`
	Text      string    `json:"text"`
	Start     int       `json:"start_offset"`
	End       int       `json:"end_offset"`
	CharCount int       `json:"char_count"`
}

func listChunksHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		// Load the document first so a missing id is a 404, not an empty list.
		doc, err := deps.Store.GetDocument(r.Context(), docID)
		if err != nil {
			httputil.FailErr(deps.Log, w, "failed to load document", err)
			return
		}
		chunks, err := deps.Store.ListChunks(r.Context(), docID)
		if err != nil {
			httputil.FailErr(deps.Log, w, "failed to list chunks", err)
			return
		}
		out := make([]chunkResponse, len(chunks))
		for i, c := range chunks {
			out[i] = chunkResponse{
				ID:        c.ID,
				Ordinal:   c.Ordinal,
				Text:      c.Text,
				Start:     c.Start,
				End:       c.End,
				CharCount: c.CharCount,
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"document_id": doc.ID,
			"status":      doc.Status,
			"chunks":      out,
		})
	}
}

func deleteDocumentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		doc, err := deps.Store.GetDocument(r.Context(), docID)
		if err != nil {
			httputil.FailErr(deps.Log, w, "failed to load document", err)
			return
		}
		if err := deps.Store.DeleteDocument(r.Context(), docID); err != nil {
			httputil.FailErr(deps.Log, w, "failed to delete document", err)
			return
		}
		if err := deps.Cache.InvalidateActivity(r.Context(), doc.ActivityID); err != nil {
			deps.Log.Warn("failed to invalidate cache", "activity_id", doc.ActivityID, "err", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func reingestHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		// The reset happens here rather than in the worker so a conflicting
		// in-flight ingestion is reported to the caller as 409.
		if err := deps.Store.ResetForReingest(r.Context(), docID); err != nil {
			httputil.FailErr(deps.Log, w, "failed to reset document for re-ingestion", err)
			return
		}
		if err := enqueueIngest(r, deps, docID); err != nil {
			failUpload(deps, w, r, docID, err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"document_id": docID.String(),
			"status":      store.StatusPending,
		})
	}
}

func statsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activityID, err := uuid.Parse(chi.URLParam(r, "activityID"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid activity id", err, http.StatusBadRequest)
			return
		}
		stats, err := deps.Store.ActivityStats(r.Context(), activityID)
		if err != nil {
			httputil.FailErr(deps.Log, w, "failed to load activity stats", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"activity_id":  stats.ActivityID,
			"documents":    stats.Documents,
			"by_status":    stats.ByStatus,
			"total_chunks": stats.TotalChunks,
		})
	}
}

type chatRequest struct {
	ActivityID uuid.UUID  `json:"activity_id" validate:"required"`
	DocumentID *uuid.UUID `json:"document_id"`
	SessionID  *uuid.UUID `json:"session_id"`
	Message    string     `json:"message" validate:"required"`
}

type chatResponse struct {
	SessionID  uuid.UUID       `json:"session_id"`
	ActivityID uuid.UUID       `json:"activity_id"`
	DocumentID *uuid.UUID      `json:"document_id,omitempty"`
	Message    string          `json:"message"`
	Citations  []chat.Citation `json:"citations"`
}

func chatHandler(deps app.Deps, engine *chat.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.FailErr(deps.Log, w, err.Error(), err)
			return
		}

		resp, err := engine.Chat(r.Context(), chat.Request{
			ActivityID: req.ActivityID,
			DocumentID: req.DocumentID,
			SessionID:  req.SessionID,
			Message:    req.Message,
		})
		if err != nil {
			if apperr.IsKind(err, apperr.ErrInvalidInput) || apperr.IsKind(err, apperr.ErrNotFound) {
				httputil.FailErr(deps.Log, w, err.Error(), err)
				return
			}
			httputil.FailErr(deps.Log, w, "failed to answer", err)
			return
		}

		citations := resp.Citations
		if citations == nil {
			citations = []chat.Citation{}
		}
		httputil.WriteJSON(w, http.StatusOK, chatResponse{
			SessionID:  resp.SessionID,
			ActivityID: req.ActivityID,
			DocumentID: resp.DocumentID,
			Message:    resp.Answer,
			Citations:  citations,
		})
	}
}
