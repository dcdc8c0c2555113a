package llm

import "context"

// Message is one prior conversation turn passed to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client is a minimal LLM interface to allow pluggable providers.
type Client interface {
	// Answer generates a grounded reply to question using the retrieved
	// contextText and recent history. An empty contextText means retrieval
	// found nothing; the reply must say so instead of inventing sources.
	Answer(ctx context.Context, question, contextText string, history []Message) (string, error)

	// Condense rewrites a follow-up question into a standalone retrieval
	// query using the conversation history.
	Condense(ctx context.Context, question string, history []Message) (string, error)
}
