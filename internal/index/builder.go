package index

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/DreamCats/atomdex/internal/embedding"
	"github.com/DreamCats/atomdex/internal/textindex"
	"github.com/DreamCats/atomdex/internal/vectorstore"
)

// atomNamespace salts the UUIDv5 atom ids so they cannot collide with
// caller-chosen chunk ids.
var atomNamespace = uuid.MustParse("8d6f5b3e-8a3c-4f4e-9f0a-2b1b6d9c4e71")

// Record is one ingestion input: a chunk plus the atom questions an
// external extraction stage derived from it.
type Record struct {
	ChunkID string   `json:"chunk_id" yaml:"chunk_id"`
	Title   string   `json:"title" yaml:"title"`
	Content string   `json:"content" yaml:"content"`
	Atoms   []string `json:"atoms" yaml:"atoms"`
}

// Report is the per-record ingestion outcome.
type Report struct {
	ChunkID string
	Atoms   int
	Err     error
}

// Options configures a Builder.
type Options struct {
	ChunkCollection string
	AtomCollection  string
	ChunkDimensions int
	AtomDimensions  int
	MaxWorkers      int
	TextIndex       *textindex.Index // optional keyword index, updated alongside the chunk store
	Progress        ProgressReporter // optional
}

// Builder populates the chunk and atom stores from ingestion records.
type Builder struct {
	chunks   vectorstore.Store
	atoms    vectorstore.Store
	embedder *embedding.Service
	opts     Options
}

// NewBuilder creates a builder over the two stores. It verifies both
// collections exist with the embedder's dimension; a mismatch is fatal
// here, never at query time.
func NewBuilder(ctx context.Context, chunks, atoms vectorstore.Store, embedder *embedding.Service, opts Options) (*Builder, error) {
	if opts.ChunkCollection == "" || opts.AtomCollection == "" {
		return nil, fmt.Errorf("chunk and atom collection names are required")
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
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
	return &Builder{chunks: chunks, atoms: atoms, embedder: embedder, opts: opts}, nil
}

// Ingest processes a batch of records. Failures are reported per record;
// the batch continues past them. All chunk upserts complete before any
// atom referencing them becomes visible, so a concurrent reader never
// resolves an atom to a missing chunk.
func (b *Builder) Ingest(ctx context.Context, records []Record) ([]Report, error) {
	if len(records) == 0 {
		return nil, nil
	}

	reports := make([]Report, len(records))
	for i, rec := range records {
		reports[i].ChunkID = rec.ChunkID
		if strings.TrimSpace(rec.ChunkID) == "" {
			reports[i].Err = fmt.Errorf("record %d: chunk_id is required", i)
		}
	}

	// Duplicate chunk ids within one batch would race their atom swaps.
	// The last occurrence wins, matching upsert replace semantics.
	lastByID := make(map[string]int, len(records))
	for i, rec := range records {
		if reports[i].Err != nil {
			continue
		}
		if prev, ok := lastByID[rec.ChunkID]; ok {
			reports[prev].Err = fmt.Errorf("record %d: chunk_id %q superseded by a later record in the batch", prev, rec.ChunkID)
		}
		lastByID[rec.ChunkID] = i
	}

	if b.opts.Progress != nil {
		b.opts.Progress.Start(len(records))
		defer b.opts.Progress.Finish()
	}

	// Phase 1: embed and upsert every chunk.
	chunkVecs := make([][]float32, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxWorkers)
	for i, rec := range records {
		if reports[i].Err != nil {
			continue
		}
		g.Go(func() error {
			vec, err := b.embedder.Embed(gctx, rec.Content)
			if err != nil {
				reports[i].Err = fmt.Errorf("embed chunk content: %w", err)
				return nil
			}
			chunkVecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	if err := ctx.Err(); err != nil {
		return reports, err
	}

	chunkPoints := make([]vectorstore.Point, 0, len(records))
	for i, rec := range records {
		if reports[i].Err != nil {
			continue
		}
		chunkPoints = append(chunkPoints, vectorstore.Point{
			ID:     rec.ChunkID,
			Vector: chunkVecs[i],
			Payload: map[string]any{
				"title":      rec.Title,
				"content":    rec.Content,
				"atom_texts": trimAtoms(rec.Atoms),
			},
		})
	}
	if err := b.chunks.Upsert(ctx, b.opts.ChunkCollection, chunkPoints); err != nil {
		// The whole phase failed; every still-healthy record shares the error.
		for i := range reports {
			if reports[i].Err == nil {
				reports[i].Err = fmt.Errorf("upsert chunks: %w", err)
			}
		}
		return reports, nil
	}

	if b.opts.TextIndex != nil {
		for i, rec := range records {
			if reports[i].Err != nil {
				continue
			}
			if err := b.opts.TextIndex.IndexChunk(rec.ChunkID, textindex.ChunkDoc{
				Title:   rec.Title,
				Content: rec.Content,
			}); err != nil {
				log.Printf("Warning: text index update failed for %s: %v", rec.ChunkID, err)
			}
		}
	}

	// Phase 2: per record, embed atoms and swap out the previous
	// generation. The upsert-then-prune pair only runs once the new
	// vectors are in hand.
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxWorkers)
	for i, rec := range records {
		if reports[i].Err != nil {
			if b.opts.Progress != nil {
				b.opts.Progress.Increment()
			}
			continue
		}
		g.Go(func() error {
			defer func() {
				if b.opts.Progress != nil {
					b.opts.Progress.Increment()
				}
			}()
			n, err := b.ingestAtoms(gctx, rec)
			if err != nil {
				reports[i].Err = err
				return nil
			}
			reports[i].Atoms = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, ctx.Err()
}

// ingestAtoms replaces the atom generation for one chunk and returns the
// number of atoms published.
func (b *Builder) ingestAtoms(ctx context.Context, rec Record) (int, error) {
	atoms := trimAtoms(rec.Atoms)
	if len(atoms) == 0 {
		// Atoms are optional enrichment; still drop any stale generation.
		if err := b.atoms.DeleteByField(ctx, b.opts.AtomCollection, "source_chunk_id", rec.ChunkID); err != nil {
			return 0, fmt.Errorf("delete stale atoms: %w", err)
		}
		return 0, nil
	}

	vecs, err := b.embedder.EmbedBatch(ctx, atoms)
	if err != nil {
		return 0, fmt.Errorf("embed atoms: %w", err)
	}

	points := make([]vectorstore.Point, 0, len(atoms))
	for ord, text := range atoms {
		if vecs[ord] == nil {
			return 0, fmt.Errorf("embed atoms: no vector for atom %d", ord)
		}
		points = append(points, vectorstore.Point{
			ID:     AtomID(rec.ChunkID, ord, text),
			Vector: vecs[ord],
			Payload: map[string]any{
				"text":            text,
				"source_chunk_id": rec.ChunkID,
				"title":           rec.Title,
			},
		})
	}

	// Publish the new generation first, then prune what the deterministic
	// ids did not overwrite. A concurrent reader always sees the chunk
	// with at least one full atom generation.
	if err := b.atoms.Upsert(ctx, b.opts.AtomCollection, points); err != nil {
		return 0, fmt.Errorf("upsert atoms: %w", err)
	}
	keep := make([]string, len(points))
	for i, p := range points {
		keep[i] = p.ID
	}
	if err := b.atoms.DeleteByField(ctx, b.opts.AtomCollection, "source_chunk_id", rec.ChunkID, keep...); err != nil {
		return 0, fmt.Errorf("delete stale atoms: %w", err)
	}
	return len(points), nil
}

// AtomID derives the deterministic store id for an atom. Re-ingesting the
// same chunk yields byte-identical ids, which keeps ingestion idempotent.
func AtomID(chunkID string, ord int, text string) string {
	key := fmt.Sprintf("%s\x00%d\x00%s", chunkID, ord, text)
	return uuid.NewSHA1(atomNamespace, []byte(key)).String()
}

// trimAtoms drops blank atom strings, preserving order.
func trimAtoms(atoms []string) []string {
	out := make([]string, 0, len(atoms))
	for _, atom := range atoms {
		atom = strings.TrimSpace(atom)
		if atom != "" {
			out = append(out, atom)
		}
	}
	return out
}
