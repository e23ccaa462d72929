package vector

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemStore keeps vectors in-process with optional gob persistence.
// Single-process and memory-bound, which matches the one-batch working set
// of a research run.
type ChromemStore struct {
	db          *chromem.DB
	persistPath string

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemStore creates an embedded store. An empty path keeps vectors in
// memory only.
func NewChromemStore(path string) (*ChromemStore, error) {
	db := chromem.NewDB()

	dbPath := ""
	if path != "" {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector directory: %w", err)
		}
		dbPath = path + "/vectors.gob"
		if _, err := os.Stat(dbPath); err == nil {
			if err := db.Import(dbPath, ""); err != nil {
				return nil, fmt.Errorf("failed to load vector store: %w", err)
			}
		}
	}

	return &ChromemStore{
		db:          db,
		persistPath: dbPath,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *ChromemStore) Name() string { return "chromem" }

// identityEmbed exists because chromem requires an embedding func; vectors
// here are always pre-computed, so being called is a bug.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding requested for pre-computed vector store")
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]any) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	strMeta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMeta[k] = fmt.Sprint(v)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMeta,
		Embedding: vec,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return s.persist()
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem errors when topK exceeds the collection size.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	hits, err := col.QueryEmbedding(ctx, vec, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		metadata := make(map[string]any, len(hit.Metadata))
		for k, v := range hit.Metadata {
			metadata[k] = v
		}
		out = append(out, Result{
			ID:       hit.ID,
			Score:    hit.Similarity,
			Content:  hit.Content,
			Metadata: metadata,
		})
	}
	return out, nil
}

func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(s.collections, collection)
	return s.persist()
}

func (s *ChromemStore) Close() error {
	return s.persist()
}

func (s *ChromemStore) persist() error {
	if s.persistPath == "" {
		return nil
	}
	if err := s.db.Export(s.persistPath, false, ""); err != nil {
		return fmt.Errorf("failed to persist vector store: %w", err)
	}
	return nil
}

var _ Store = (*ChromemStore)(nil)
