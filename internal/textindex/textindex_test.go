package textindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAndSearch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "textindex")
	idx, err := Create(dir)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexChunk("c1", ChunkDoc{
		Title:   "Oscars",
		Content: "Bong Joon-ho directed Parasite.",
	}))
	require.NoError(t, idx.IndexChunk("c2", ChunkDoc{
		Title:   "Space",
		Content: "The James Webb telescope observes infrared light.",
	}))

	hits, err := idx.Search("parasite", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "Oscars", hits[0].Title)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestDeleteChunk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "textindex")
	idx, err := Create(dir)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexChunk("c1", ChunkDoc{Title: "T", Content: "unique marker text"}))
	require.NoError(t, idx.DeleteChunk("c1"))

	hits, err := idx.Search("marker", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
