package embeddings

import "context"

// Vector is a fixed-dimensionality embedding.
type Vector []float32

// Embedder converts text into vectors. Implementations must return one
// vector per input, each matching the configured index dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
}
