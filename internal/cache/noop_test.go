package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNoOpCacheAlwaysMisses(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()

	if err := c.SetRetrieval(ctx, "key", &Retrieval{Query: "q"}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := c.GetRetrieval(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected cache miss from no-op cache")
	}
	if err := c.InvalidateActivity(ctx, uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRetrievalKeyDeterministic(t *testing.T) {
	activity := uuid.New()
	doc := uuid.New()

	a := RetrievalKey(activity, &doc, "what is kinetic energy", 5)
	b := RetrievalKey(activity, &doc, "what is kinetic energy", 5)
	if a != b {
		t.Error("expected identical keys for identical inputs")
	}
	if a == RetrievalKey(activity, nil, "what is kinetic energy", 5) {
		t.Error("expected document scope to change the key")
	}
	if a == RetrievalKey(activity, &doc, "what is kinetic energy", 8) {
		t.Error("expected top_k to change the key")
	}
}
