package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cache stores retrieval results for repeated standalone queries. Only the
// retrieval stage is cached; answers depend on conversation history and are
// always generated fresh.
type Cache interface {
	// GetRetrieval returns the cached hits for a key, or nil on a miss.
	GetRetrieval(ctx context.Context, key string) (*Retrieval, error)

	// SetRetrieval stores retrieval hits with a TTL.
	SetRetrieval(ctx context.Context, key string, result *Retrieval, ttl time.Duration) error

	// InvalidateActivity removes all cached retrievals for an activity.
	// Called whenever a document in the activity is ingested or deleted.
	InvalidateActivity(ctx context.Context, activityID uuid.UUID) error

	// Close closes the cache connection.
	Close() error
}

// Retrieval is a cached set of scored chunk hits for one standalone query.
type Retrieval struct {
	Query string `json:"query"`
	Hits  []Hit  `json:"hits"`
}

// Hit mirrors one vector search result.
type Hit struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Score      float32   `json:"score"`
}
