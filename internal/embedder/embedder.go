// Package embedder converts text into fixed-length vectors for the semantic
// index. Providers are interchangeable; the rest of the system only cares
// that a provider is internally consistent (same text, same vector space).
package embedder

import "context"

// Provider generates embedding vectors.
type Provider interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns embedding vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length, or 0 if not yet known.
	Dimensions() int
	// ModelName identifies the model for statistics reporting.
	ModelName() string
}
