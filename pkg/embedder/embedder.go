// Package embedder turns text into vectors for semantic retrieval. The only
// shipping implementation talks to an OpenAI-compatible embeddings endpoint;
// when no embedder is configured, semantic retrieval degrades to keyword
// search upstream.
package embedder

import (
	"context"
)

// Embedder produces embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}
