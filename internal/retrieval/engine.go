// Package retrieval implements the dual-granularity query paths over the
// chunk and atom stores: atom-first, chunk-first and hybrid search.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/DreamCats/atomdex/internal/embedding"
	"github.com/DreamCats/atomdex/internal/vectorstore"
)

// ErrEmptyQuery is returned for blank query strings, before any
// embedding call is made.
var ErrEmptyQuery = errors.New("query is empty")

// AtomResult is one query-time retrieval result. It is assembled fresh
// per query and never persisted.
type AtomResult struct {
	AtomQuery          string
	AtomText           string
	SourceChunkID      string
	SourceChunkTitle   string
	SourceChunkContent string
	Score              float64
	AtomVector         []float32
}

// Options configures an Engine.
type Options struct {
	ChunkCollection string
	AtomCollection  string
	ChunkDimensions int
	AtomDimensions  int
	// ScoreThreshold filters atom-store hits; <= 0 disables.
	ScoreThreshold float64
	// Logger receives diagnostics such as dropped hits. Defaults to the
	// standard logger.
	Logger *log.Logger
}

// Engine answers retrieval queries against already-published store
// snapshots. It holds no mutable state: reconfiguration means building a
// new Engine and swapping the handle.
type Engine struct {
	chunks   vectorstore.Store
	atoms    vectorstore.Store
	embedder *embedding.Service
	opts     Options
	logger   *log.Logger
}

// NewEngine creates an engine over the two stores. Collection dimensions
// are validated against the embedder here; a mismatch prevents the engine
// from starting rather than surfacing at query time.
func NewEngine(ctx context.Context, chunks, atoms vectorstore.Store, embedder *embedding.Service, opts Options) (*Engine, error) {
	if opts.ChunkCollection == "" || opts.AtomCollection == "" {
		return nil, fmt.Errorf("chunk and atom collection names are required")
	}
	if opts.ChunkDimensions <= 0 {
		opts.ChunkDimensions = embedder.Dimensions()
	}
	if opts.AtomDimensions <= 0 {
		opts.AtomDimensions = embedder.Dimensions()
	}
	if dims := embedder.Dimensions(); dims != opts.ChunkDimensions || dims != opts.AtomDimensions {
		return nil, fmt.Errorf("embedder produces dimension %d, stores configured for chunk=%d atom=%d: %w",
			dims, opts.ChunkDimensions, opts.AtomDimensions, vectorstore.ErrDimensionMismatch)
	}
	if err := chunks.EnsureCollection(ctx, opts.ChunkCollection, opts.ChunkDimensions); err != nil {
		return nil, fmt.Errorf("ensure chunk collection: %w", err)
	}
	if err := atoms.EnsureCollection(ctx, opts.AtomCollection, opts.AtomDimensions); err != nil {
		return nil, fmt.Errorf("ensure atom collection: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		chunks:   chunks,
		atoms:    atoms,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
	}, nil
}

// RetrieveByAtom searches the atom store with one or more query strings
// and resolves every hit back to its source chunk. With multiple queries
// the budget is split as ceil(totalK / len(queries)) per query. Results
// from different queries are not deduplicated against each other; that is
// the hybrid layer's job.
func (e *Engine) RetrieveByAtom(ctx context.Context, queries []string, totalK int) ([]AtomResult, error) {
	if len(queries) == 0 {
		return nil, ErrEmptyQuery
	}
	for _, q := range queries {
		if strings.TrimSpace(q) == "" {
			return nil, ErrEmptyQuery
		}
	}
	if totalK <= 0 {
		totalK = 10
	}
	perQueryK := (totalK + len(queries) - 1) / len(queries)

	// Embed and search every query concurrently; the call either fully
	// succeeds or fails as a whole.
	queryHits := make([][]vectorstore.SearchHit, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range queries {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, query)
			if err != nil {
				return fmt.Errorf("embed query %q: %w", query, err)
			}
			hits, err := e.atoms.Search(gctx, e.opts.AtomCollection, vec, perQueryK, e.opts.ScoreThreshold)
			if err != nil {
				return fmt.Errorf("atom search for %q: %w", query, err)
			}
			queryHits[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Resolve all referenced chunks in a single batch lookup.
	var chunkIDs []string
	seen := make(map[string]bool)
	for _, hits := range queryHits {
		for _, hit := range hits {
			id := vectorstore.PayloadString(hit.Payload, "source_chunk_id")
			if id != "" && !seen[id] {
				seen[id] = true
				chunkIDs = append(chunkIDs, id)
			}
		}
	}
	chunkPayloads, err := e.chunks.GetByIDs(ctx, e.opts.ChunkCollection, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve source chunks: %w", err)
	}

	// Re-embed the surviving hits' own texts in one batch so every result
	// carries the matched atom's vector, not the query's.
	var atomTexts []string
	seenText := make(map[string]bool)
	for _, hits := range queryHits {
		for _, hit := range hits {
			chunkID := vectorstore.PayloadString(hit.Payload, "source_chunk_id")
			if _, ok := chunkPayloads[chunkID]; !ok {
				continue
			}
			text := vectorstore.PayloadString(hit.Payload, "text")
			if text != "" && !seenText[text] {
				seenText[text] = true
				atomTexts = append(atomTexts, text)
			}
		}
	}
	atomVecs := make(map[string][]float32, len(atomTexts))
	if len(atomTexts) > 0 {
		vecs, err := e.embedder.EmbedBatch(ctx, atomTexts)
		if err != nil {
			return nil, fmt.Errorf("embed hit atoms: %w", err)
		}
		for i, text := range atomTexts {
			atomVecs[text] = vecs[i]
		}
	}

	var results []AtomResult
	for i, hits := range queryHits {
		for _, hit := range hits {
			chunkID := vectorstore.PayloadString(hit.Payload, "source_chunk_id")
			chunk, ok := chunkPayloads[chunkID]
			if !ok {
				// Data corruption: the atom points at a chunk the chunk
				// store no longer has. Drop the hit, keep going.
				e.logger.Printf("Warning: atom %s references missing chunk %s, dropping hit", hit.ID, chunkID)
				continue
			}
			text := vectorstore.PayloadString(hit.Payload, "text")
			results = append(results, AtomResult{
				AtomQuery:          queries[i],
				AtomText:           text,
				SourceChunkID:      chunkID,
				SourceChunkTitle:   vectorstore.PayloadString(chunk, "title"),
				SourceChunkContent: vectorstore.PayloadString(chunk, "content"),
				Score:              hit.Score,
				AtomVector:         atomVecs[text],
			})
		}
	}
	return results, nil
}

// RetrieveByChunk searches the chunk store, then re-scores every
// candidate chunk by its own stored atom texts against the query. Each
// candidate yields one result whose score is the similarity of its
// best atom, not the chunk-level search score. On equal atom scores the
// first atom in stored order wins. A chunk without atoms yields an empty
// representative atom with score 0.
func (e *Engine) RetrieveByChunk(ctx context.Context, query string, k int) ([]AtomResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.chunks.Search(ctx, e.opts.ChunkCollection, queryVec, k, 0)
	if err != nil {
		return nil, fmt.Errorf("chunk search: %w", err)
	}

	results := make([]AtomResult, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	for i, hit := range hits {
		g.Go(func() error {
			res, err := e.scoreChunkAtoms(gctx, query, queryVec, hit)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// scoreChunkAtoms picks the representative atom of one candidate chunk.
func (e *Engine) scoreChunkAtoms(ctx context.Context, query string, queryVec []float32, hit vectorstore.SearchHit) (AtomResult, error) {
	result := AtomResult{
		AtomQuery:          query,
		SourceChunkID:      hit.ID,
		SourceChunkTitle:   vectorstore.PayloadString(hit.Payload, "title"),
		SourceChunkContent: vectorstore.PayloadString(hit.Payload, "content"),
	}

	atomTexts := vectorstore.PayloadStrings(hit.Payload, "atom_texts")
	if len(atomTexts) == 0 {
		return result, nil
	}

	vecs, err := e.embedder.EmbedBatch(ctx, atomTexts)
	if err != nil {
		return AtomResult{}, fmt.Errorf("embed atoms of chunk %s: %w", hit.ID, err)
	}

	best := -1
	bestScore := 0.0
	for ord, vec := range vecs {
		if vec == nil {
			continue
		}
		score := float64(embedding.Similarity(queryVec, vec))
		if best == -1 || score > bestScore {
			best = ord
			bestScore = score
		}
	}
	if best >= 0 {
		result.AtomText = atomTexts[best]
		result.Score = bestScore
		result.AtomVector = vecs[best]
	}
	return result, nil
}

// RetrieveHybrid unions direct chunk-search contents with atom-derived
// chunk contents. Chunk-store results come first, then atom-derived ones;
// exact duplicates are removed, first-seen order preserved. The output is
// an order-stable union, not a re-ranking.
func (e *Engine) RetrieveHybrid(ctx context.Context, query string, k int) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	chunkHits, err := e.chunks.Search(ctx, e.opts.ChunkCollection, queryVec, k, 0)
	if err != nil {
		return nil, fmt.Errorf("chunk search: %w", err)
	}

	atomResults, err := e.RetrieveByAtom(ctx, []string{query}, k)
	if err != nil {
		return nil, err
	}

	var contents []string
	seen := make(map[string]bool)
	for _, hit := range chunkHits {
		content := vectorstore.PayloadString(hit.Payload, "content")
		if content != "" && !seen[content] {
			seen[content] = true
			contents = append(contents, content)
		}
	}
	for _, res := range atomResults {
		if res.SourceChunkContent != "" && !seen[res.SourceChunkContent] {
			seen[res.SourceChunkContent] = true
			contents = append(contents, res.SourceChunkContent)
		}
	}
	return contents, nil
}
