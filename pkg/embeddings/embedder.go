// Package embeddings provides pluggable text-embedding providers.
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts into vector embeddings, one per
	// input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed dimension of vectors this provider
	// produces.
	Dimensions() int

	// Close releases any resources held by the embedder.
	Close() error
}
