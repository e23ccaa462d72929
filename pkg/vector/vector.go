// Package vector stores passage embeddings for semantic retrieval. Two
// backends: chromem (embedded, pure Go, optional file persistence) and
// qdrant (external, gRPC). Embeddings are always computed upstream; the
// store only holds pre-computed vectors.
package vector

import (
	"context"
	"fmt"

	"github.com/fathom-agent/fathom/pkg/config"
)

// Result is one search hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Store holds vectors grouped into collections (one per batch).
type Store interface {
	Name() string
	Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]any) error
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error)
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// New constructs the configured store.
func New(cfg config.VectorConfig) (Store, error) {
	switch cfg.Provider {
	case "chromem":
		return NewChromemStore(cfg.Path)
	case "qdrant":
		return NewQdrantStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector provider: %q", cfg.Provider)
	}
}
