package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRecords(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[
		{"chunk_id": "c1", "title": "T1", "content": "one", "atoms": ["q1"]}
	]`), 0644))

	yamlPath := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
- chunk_id: c2
  title: T2
  content: two
  atoms:
    - q2a
    - q2b
`), 0644))

	records, err := LoadRecords([]string{filepath.Join(dir, "*.json"), filepath.Join(dir, "*.yaml")})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "c1", records[0].ChunkID)
	assert.Equal(t, []string{"q1"}, records[0].Atoms)
	assert.Equal(t, "c2", records[1].ChunkID)
	assert.Equal(t, []string{"q2a", "q2b"}, records[1].Atoms)
}

func TestLoadRecordsNoMatches(t *testing.T) {
	_, err := LoadRecords([]string{filepath.Join(t.TempDir(), "*.json")})
	require.Error(t, err)
}

func TestLoadRecordsUnsupportedType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.txt")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0644))

	_, err := LoadRecords([]string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported record file type")
}
