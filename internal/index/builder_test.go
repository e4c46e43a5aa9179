package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DreamCats/atomdex/internal/config"
	"github.com/DreamCats/atomdex/internal/embedding"
	"github.com/DreamCats/atomdex/internal/vectorstore"
)

// stubClient returns canned vectors per text and can be told to fail for
// specific texts.
type stubClient struct {
	vectors map[string][]float32
	failing map[string]bool
}

func newStubClient() *stubClient {
	return &stubClient{
		vectors: make(map[string][]float32),
		failing: make(map[string]bool),
	}
}

func (c *stubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *stubClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if c.failing[text] {
			return nil, fmt.Errorf("provider unreachable for %q", text)
		}
		vec, ok := c.vectors[text]
		if !ok {
			vec = []float32{1, 1, 1}
		}
		out[i] = vec
	}
	return out, nil
}

func (c *stubClient) Dimensions() int { return 3 }

func newTestBuilder(t *testing.T, client *stubClient) (*Builder, *vectorstore.MemoryStore, *vectorstore.MemoryStore) {
	t.Helper()
	chunks := vectorstore.NewMemoryStore()
	atoms := vectorstore.NewMemoryStore()
	svc := embedding.NewServiceWithClient(&config.EmbeddingConfig{BatchSize: 8}, client)
	builder, err := NewBuilder(context.Background(), chunks, atoms, svc, Options{
		ChunkCollection: "chunks",
		AtomCollection:  "atoms",
		MaxWorkers:      2,
	})
	require.NoError(t, err)
	return builder, chunks, atoms
}

func TestIngestPopulatesBothStores(t *testing.T) {
	ctx := context.Background()
	client := newStubClient()
	client.vectors["Bong Joon-ho directed Parasite."] = []float32{1, 0, 0}
	client.vectors["Who directed Parasite?"] = []float32{0, 1, 0}
	client.vectors["What did Bong Joon-ho direct?"] = []float32{0, 0, 1}

	builder, chunks, atoms := newTestBuilder(t, client)

	reports, err := builder.Ingest(ctx, []Record{{
		ChunkID: "c1",
		Title:   "Oscars",
		Content: "Bong Joon-ho directed Parasite.",
		Atoms:   []string{"Who directed Parasite?", "What did Bong Joon-ho direct?"},
	}})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NoError(t, reports[0].Err)
	assert.Equal(t, 2, reports[0].Atoms)

	payloads, err := chunks.GetByIDs(ctx, "chunks", []string{"c1"})
	require.NoError(t, err)
	require.Contains(t, payloads, "c1")
	assert.Equal(t, "Bong Joon-ho directed Parasite.", vectorstore.PayloadString(payloads["c1"], "content"))
	assert.Equal(t, "Oscars", vectorstore.PayloadString(payloads["c1"], "title"))
	assert.Equal(t,
		[]string{"Who directed Parasite?", "What did Bong Joon-ho direct?"},
		vectorstore.PayloadStrings(payloads["c1"], "atom_texts"))

	count, err := atoms.Count(ctx, "atoms")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hits, err := atoms.Search(ctx, "atoms", []float32{0, 1, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Who directed Parasite?", vectorstore.PayloadString(hits[0].Payload, "text"))
	assert.Equal(t, "c1", vectorstore.PayloadString(hits[0].Payload, "source_chunk_id"))
}

func TestIngestDropsBlankAtoms(t *testing.T) {
	ctx := context.Background()
	builder, chunks, atoms := newTestBuilder(t, newStubClient())

	reports, err := builder.Ingest(ctx, []Record{{
		ChunkID: "c1",
		Title:   "T",
		Content: "some content",
		Atoms:   []string{"  ", "", "\t"},
	}})
	require.NoError(t, err)
	require.NoError(t, reports[0].Err)
	assert.Equal(t, 0, reports[0].Atoms)

	// The chunk is still ingested; atoms are optional enrichment.
	chunkCount, err := chunks.Count(ctx, "chunks")
	require.NoError(t, err)
	assert.Equal(t, 1, chunkCount)

	atomCount, err := atoms.Count(ctx, "atoms")
	require.NoError(t, err)
	assert.Equal(t, 0, atomCount)
}

func TestIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	builder, chunks, atoms := newTestBuilder(t, newStubClient())

	batch := []Record{{
		ChunkID: "c1",
		Title:   "T",
		Content: "content",
		Atoms:   []string{"q1", "q2", "q3"},
	}}

	_, err := builder.Ingest(ctx, batch)
	require.NoError(t, err)
	_, err = builder.Ingest(ctx, batch)
	require.NoError(t, err)

	chunkCount, err := chunks.Count(ctx, "chunks")
	require.NoError(t, err)
	assert.Equal(t, 1, chunkCount)

	atomCount, err := atoms.Count(ctx, "atoms")
	require.NoError(t, err)
	assert.Equal(t, 3, atomCount)
}

func TestIngestReplacesAtomGeneration(t *testing.T) {
	ctx := context.Background()
	builder, _, atoms := newTestBuilder(t, newStubClient())

	_, err := builder.Ingest(ctx, []Record{{
		ChunkID: "c1", Title: "T", Content: "v1", Atoms: []string{"old q1", "old q2"},
	}})
	require.NoError(t, err)

	_, err = builder.Ingest(ctx, []Record{{
		ChunkID: "c1", Title: "T", Content: "v2", Atoms: []string{"new q"},
	}})
	require.NoError(t, err)

	count, err := atoms.Count(ctx, "atoms")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "stale atoms from the previous generation must be gone")

	payloads, err := atoms.GetByIDs(ctx, "atoms", []string{AtomID("c1", 0, "new q")})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
}

func TestIngestPartialFailure(t *testing.T) {
	ctx := context.Background()
	client := newStubClient()
	client.failing["bad content"] = true

	builder, chunks, _ := newTestBuilder(t, client)

	reports, err := builder.Ingest(ctx, []Record{
		{ChunkID: "good", Title: "G", Content: "good content", Atoms: []string{"q"}},
		{ChunkID: "bad", Title: "B", Content: "bad content", Atoms: []string{"q"}},
	})
	require.NoError(t, err, "a per-record failure must not abort the batch")
	require.Len(t, reports, 2)

	byID := map[string]Report{}
	for _, r := range reports {
		byID[r.ChunkID] = r
	}
	require.NoError(t, byID["good"].Err)
	require.Error(t, byID["bad"].Err)
	assert.Contains(t, byID["bad"].Err.Error(), "embed chunk content")

	payloads, err := chunks.GetByIDs(ctx, "chunks", []string{"good", "bad"})
	require.NoError(t, err)
	assert.Contains(t, payloads, "good")
	assert.NotContains(t, payloads, "bad")
}

func TestIngestDuplicateChunkIDLastWins(t *testing.T) {
	ctx := context.Background()
	builder, chunks, atoms := newTestBuilder(t, newStubClient())

	reports, err := builder.Ingest(ctx, []Record{
		{ChunkID: "c1", Title: "T", Content: "v1", Atoms: []string{"old q1", "old q2"}},
		{ChunkID: "c1", Title: "T", Content: "v2", Atoms: []string{"new q"}},
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	require.Error(t, reports[0].Err)
	assert.Contains(t, reports[0].Err.Error(), "superseded")
	require.NoError(t, reports[1].Err)
	assert.Equal(t, 1, reports[1].Atoms)

	payloads, err := chunks.GetByIDs(ctx, "chunks", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, "v2", vectorstore.PayloadString(payloads["c1"], "content"))

	count, err := atoms.Count(ctx, "atoms")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	atomPayloads, err := atoms.GetByIDs(ctx, "atoms", []string{AtomID("c1", 0, "new q")})
	require.NoError(t, err)
	assert.Len(t, atomPayloads, 1)
}

func TestIngestReplaceKeepsSurvivingAtoms(t *testing.T) {
	ctx := context.Background()
	builder, _, atoms := newTestBuilder(t, newStubClient())

	_, err := builder.Ingest(ctx, []Record{{
		ChunkID: "c1", Title: "T", Content: "v1", Atoms: []string{"q1", "q2"},
	}})
	require.NoError(t, err)

	// q1 keeps its ordinal, so its deterministic id survives the swap;
	// only q2's atom is pruned.
	_, err = builder.Ingest(ctx, []Record{{
		ChunkID: "c1", Title: "T", Content: "v2", Atoms: []string{"q1"},
	}})
	require.NoError(t, err)

	count, err := atoms.Count(ctx, "atoms")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	payloads, err := atoms.GetByIDs(ctx, "atoms", []string{AtomID("c1", 0, "q1"), AtomID("c1", 1, "q2")})
	require.NoError(t, err)
	assert.Contains(t, payloads, AtomID("c1", 0, "q1"))
	assert.NotContains(t, payloads, AtomID("c1", 1, "q2"))
}

func TestIngestRejectsMissingChunkID(t *testing.T) {
	ctx := context.Background()
	builder, _, _ := newTestBuilder(t, newStubClient())

	reports, err := builder.Ingest(ctx, []Record{{Title: "T", Content: "c"}})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Error(t, reports[0].Err)
}

func TestAtomIDDeterministic(t *testing.T) {
	a := AtomID("c1", 0, "who?")
	b := AtomID("c1", 0, "who?")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, AtomID("c1", 1, "who?"))
	assert.NotEqual(t, a, AtomID("c2", 0, "who?"))
}

func TestNewBuilderDimensionMismatch(t *testing.T) {
	chunks := vectorstore.NewMemoryStore()
	atoms := vectorstore.NewMemoryStore()
	svc := embedding.NewServiceWithClient(&config.EmbeddingConfig{BatchSize: 8}, newStubClient())

	_, err := NewBuilder(context.Background(), chunks, atoms, svc, Options{
		ChunkCollection: "chunks",
		AtomCollection:  "atoms",
		ChunkDimensions: 1536, // stub embeds into 3 dimensions
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}
