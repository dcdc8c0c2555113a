package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"activity-rag/internal/apperr"
)

// OpenAIEmbedder calls OpenAI's embeddings API.
type OpenAIEmbedder struct {
	model     openai.EmbeddingModel
	dimension int
	timeout   time.Duration
	client    *openai.Client
}

const defaultEmbeddingTimeout = 30 * time.Second

// NewOpenAIEmbedder creates a new OpenAI embedder. dimension is the vector
// size the index was created with; responses of any other size fail hard.
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel, dimension int, timeout time.Duration) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	if dimension <= 0 {
		return nil, apperr.New(apperr.ErrConfig, "embedding dimension must be positive, got %d", dimension)
	}
	if timeout <= 0 {
		timeout = defaultEmbeddingTimeout
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIEmbedder{
		model:     model,
		dimension: dimension,
		timeout:   timeout,
		client:    &cli,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in a single API call. Backend/transport
// failures are transient; a dimensionality mismatch is not and must never be
// retried.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w: %w: %w", apperr.ErrEmbedding, apperr.ErrTransient, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.New(apperr.ErrEmbedding, "expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vecs := make([]Vector, len(resp.Data))
	for _, item := range resp.Data {
		if len(item.Embedding) != e.dimension {
			return nil, apperr.New(apperr.ErrEmbedding, "dimension mismatch: index expects %d, model returned %d", e.dimension, len(item.Embedding))
		}
		vec := make(Vector, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vecs[item.Index] = vec
	}
	return vecs, nil
}
