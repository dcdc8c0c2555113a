package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"activity-rag/internal/apperr"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", apperr.New(apperr.ErrInvalidInput, "bad"), http.StatusBadRequest},
		{"not found", apperr.New(apperr.ErrNotFound, "missing"), http.StatusNotFound},
		{"conflict", apperr.New(apperr.ErrConflict, "busy"), http.StatusConflict},
		{"transient embedding", apperr.Wrap(apperr.ErrEmbedding, "embed", apperr.Wrap(apperr.ErrTransient, "call", context.DeadlineExceeded)), http.StatusServiceUnavailable},
		{"permanent embedding", apperr.New(apperr.ErrEmbedding, "dimension mismatch"), http.StatusBadGateway},
		{"permanent generation", apperr.New(apperr.ErrGeneration, "refused"), http.StatusBadGateway},
		{"unknown", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Message string `json:"message" validate:"required"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"message":"hello"}`, false},
		{"missing required field", `{}`, true},
		{"unknown field", `{"message":"hi","extra":1}`, true},
		{"malformed json", `{"message":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var b body
			err := DecodeJSON(req, &b)
			if tt.wantErr {
				if !apperr.IsKind(err, apperr.ErrInvalidInput) {
					t.Errorf("expected invalid input error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
