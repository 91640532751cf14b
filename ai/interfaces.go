package ai

import "context"

// Embedder converts text to vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// ModelID names the embedding space. Vectors from different models are
	// never mixed in one store.
	ModelID() string
}

// Generator produces free text from a system prompt and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// QueryRewriter expands a question for retrieval. Rewriting is advisory:
// callers fall back to the raw question when it fails.
type QueryRewriter interface {
	// Rewrite analyzes question. companies lists the company keys the
	// rewriter may return in Rewrite.Companies.
	Rewrite(ctx context.Context, question string, companies []string) (*Rewrite, error)
}

// AIProvider aggregates the model services.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the answer generation service.
	Generator() Generator

	// QueryRewriter returns the rewrite service, or nil when rewriting is disabled.
	QueryRewriter() QueryRewriter

	// Close releases resources held by the provider and its services.
	Close() error
}
