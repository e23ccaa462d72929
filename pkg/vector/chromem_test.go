package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemUpsertAndSearch(t *testing.T) {
	store, err := NewChromemStore("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "batch_1", "a", []float32{1, 0, 0}, "about cats", map[string]any{"link_id": "v1"}))
	require.NoError(t, store.Upsert(ctx, "batch_1", "b", []float32{0, 1, 0}, "about dogs", map[string]any{"link_id": "v2"}))

	results, err := store.Search(ctx, "batch_1", []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "about cats", results[0].Content)
	assert.Equal(t, "v1", results[0].Metadata["link_id"])
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestChromemSearchCapsTopK(t *testing.T) {
	store, err := NewChromemStore("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "batch_1", "only", []float32{0, 0, 1}, "single doc", nil))

	results, err := store.Search(ctx, "batch_1", []float32{0, 0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	store, err := NewChromemStore("")
	require.NoError(t, err)
	defer store.Close()

	results, err := store.Search(context.Background(), "empty", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemDeleteCollection(t *testing.T) {
	store, err := NewChromemStore("")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "batch_1", "a", []float32{1, 0}, "doc", nil))
	require.NoError(t, store.DeleteCollection(ctx, "batch_1"))

	results, err := store.Search(ctx, "batch_1", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemPersistence(t *testing.T) {
	dir := t.TempDir()

	store, err := NewChromemStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "batch_1", "a", []float32{1, 0, 0}, "persisted doc", nil))
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(ctx, "batch_1", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted doc", results[0].Content)
}
