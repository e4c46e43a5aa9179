package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest runs the contract tests against every backend that can
// run without a server.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  local,
	}
}

func TestStoreUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureCollection(ctx, "c", 3))
			require.NoError(t, store.Upsert(ctx, "c", []Point{
				{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]any{"title": "A"}},
				{ID: "b", Vector: []float32{0, 1, 0}, Payload: map[string]any{"title": "B"}},
				{ID: "c", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]any{"title": "C"}},
			}))

			hits, err := store.Search(ctx, "c", []float32{1, 0, 0}, 2, 0)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "a", hits[0].ID)
			assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
			assert.Equal(t, "c", hits[1].ID)
			assert.Equal(t, "A", PayloadString(hits[0].Payload, "title"))
		})
	}
}

func TestStoreSearchTieBreaksByID(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureCollection(ctx, "c", 2))
			// Same direction, same score: order must come from ids.
			require.NoError(t, store.Upsert(ctx, "c", []Point{
				{ID: "z", Vector: []float32{2, 0}, Payload: map[string]any{}},
				{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{}},
				{ID: "m", Vector: []float32{3, 0}, Payload: map[string]any{}},
			}))

			hits, err := store.Search(ctx, "c", []float32{1, 0}, 10, 0)
			require.NoError(t, err)
			require.Len(t, hits, 3)
			assert.Equal(t, []string{"a", "m", "z"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
		})
	}
}

func TestStoreSearchThreshold(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureCollection(ctx, "c", 2))
			require.NoError(t, store.Upsert(ctx, "c", []Point{
				{ID: "near", Vector: []float32{1, 0}, Payload: map[string]any{}},
				{ID: "far", Vector: []float32{0, 1}, Payload: map[string]any{}},
			}))

			hits, err := store.Search(ctx, "c", []float32{1, 0}, 10, 0.5)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "near", hits[0].ID)
		})
	}
}

func TestStoreUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureCollection(ctx, "c", 2))
			require.NoError(t, store.Upsert(ctx, "c", []Point{
				{ID: "x", Vector: []float32{1, 0}, Payload: map[string]any{"title": "old"}},
			}))
			require.NoError(t, store.Upsert(ctx, "c", []Point{
				{ID: "x", Vector: []float32{0, 1}, Payload: map[string]any{"title": "new"}},
			}))

			count, err := store.Count(ctx, "c")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			payloads, err := store.GetByIDs(ctx, "c", []string{"x"})
			require.NoError(t, err)
			assert.Equal(t, "new", PayloadString(payloads["x"], "title"))
		})
	}
}

func TestStoreGetByIDsMissingAbsent(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureCollection(ctx, "c", 2))
			require.NoError(t, store.Upsert(ctx, "c", []Point{
				{ID: "x", Vector: []float32{1, 0}, Payload: map[string]any{"title": "X"}},
			}))

			payloads, err := store.GetByIDs(ctx, "c", []string{"x", "ghost"})
			require.NoError(t, err)
			assert.Len(t, payloads, 1)
			assert.Contains(t, payloads, "x")
			assert.NotContains(t, payloads, "ghost")
		})
	}
}

func TestStoreDeleteByField(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureCollection(ctx, "c", 2))
			require.NoError(t, store.Upsert(ctx, "c", []Point{
				{ID: "a1", Vector: []float32{1, 0}, Payload: map[string]any{"source_chunk_id": "c1"}},
				{ID: "a2", Vector: []float32{0, 1}, Payload: map[string]any{"source_chunk_id": "c1"}},
				{ID: "b1", Vector: []float32{1, 1}, Payload: map[string]any{"source_chunk_id": "c2"}},
			}))

			require.NoError(t, store.DeleteByField(ctx, "c", "source_chunk_id", "c1"))

			count, err := store.Count(ctx, "c")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			payloads, err := store.GetByIDs(ctx, "c", []string{"b1"})
			require.NoError(t, err)
			assert.Contains(t, payloads, "b1")
		})
	}
}

func TestStoreDeleteByFieldKeepsListedIDs(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureCollection(ctx, "c", 2))
			require.NoError(t, store.Upsert(ctx, "c", []Point{
				{ID: "a1", Vector: []float32{1, 0}, Payload: map[string]any{"source_chunk_id": "c1"}},
				{ID: "a2", Vector: []float32{0, 1}, Payload: map[string]any{"source_chunk_id": "c1"}},
				{ID: "a3", Vector: []float32{1, 1}, Payload: map[string]any{"source_chunk_id": "c1"}},
			}))

			require.NoError(t, store.DeleteByField(ctx, "c", "source_chunk_id", "c1", "a2"))

			count, err := store.Count(ctx, "c")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			payloads, err := store.GetByIDs(ctx, "c", []string{"a1", "a2", "a3"})
			require.NoError(t, err)
			assert.Contains(t, payloads, "a2")
			assert.NotContains(t, payloads, "a1")
			assert.NotContains(t, payloads, "a3")
		})
	}
}

func TestStoreDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.EnsureCollection(ctx, "c", 2))

			err := store.EnsureCollection(ctx, "c", 3)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDimensionMismatch)

			err = store.Upsert(ctx, "c", []Point{
				{ID: "x", Vector: []float32{1, 0, 0}, Payload: map[string]any{}},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDimensionMismatch)
		})
	}
}

func TestPayloadStrings(t *testing.T) {
	payload := map[string]any{
		"native":  []string{"a", "b"},
		"decoded": []any{"a", "b"},
		"mixed":   []any{"a", 1, "b"},
	}
	assert.Equal(t, []string{"a", "b"}, PayloadStrings(payload, "native"))
	assert.Equal(t, []string{"a", "b"}, PayloadStrings(payload, "decoded"))
	assert.Equal(t, []string{"a", "b"}, PayloadStrings(payload, "mixed"))
	assert.Nil(t, PayloadStrings(payload, "absent"))
}
