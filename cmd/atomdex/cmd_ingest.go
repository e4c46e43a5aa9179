package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"

	"github.com/DreamCats/atomdex/internal/config"
	"github.com/DreamCats/atomdex/internal/embedding"
	"github.com/DreamCats/atomdex/internal/index"
	"github.com/DreamCats/atomdex/internal/textindex"
	"github.com/DreamCats/atomdex/internal/vectorstore"
)

func handleIngest(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	recreate := fs.Bool("recreate", false, "Rebuild the keyword index from scratch")
	progress := fs.Bool("progress", cfg.Indexer.Progress, "Show a progress bar on TTYs")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: atomdex ingest [options] <records-glob>...

Reads record files (JSON array or YAML list of {chunk_id, title, content,
atoms}) and publishes them to the chunk and atom stores. Globs support
** for recursive matching, e.g. 'data/**/*.json'.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}

	records, err := index.LoadRecords(fs.Args())
	if err != nil {
		log.Fatalf("Failed to load records: %v", err)
	}
	log.Printf("Loaded %d records", len(records))

	store, err := vectorstore.New(&cfg.Stores)
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}
	defer store.Close()

	embedder, err := embedding.NewService(&cfg.Embedding)
	if err != nil {
		log.Fatalf("Failed to create embedding service: %v", err)
	}

	var keyword *textindex.Index
	if cfg.Stores.TextIndexPath != "" {
		keyword, err = openTextIndex(cfg.Stores.TextIndexPath, *recreate)
		if err != nil {
			log.Fatalf("Failed to open text index: %v", err)
		}
		defer keyword.Close()
	}

	ctx := context.Background()
	builder, err := index.NewBuilder(ctx, store, store, embedder, index.Options{
		ChunkCollection: cfg.Stores.ChunkCollection,
		AtomCollection:  cfg.Stores.AtomCollection,
		ChunkDimensions: cfg.Stores.ChunkDimensions,
		AtomDimensions:  cfg.Stores.AtomDimensions,
		MaxWorkers:      cfg.Indexer.MaxWorkers,
		TextIndex:       keyword,
		Progress:        index.NewIngestProgress(*progress),
	})
	if err != nil {
		log.Fatalf("Failed to create index builder: %v", err)
	}

	reports, err := builder.Ingest(ctx, records)
	if err != nil {
		log.Fatalf("Ingestion aborted: %v", err)
	}

	ingested, atoms, failed := 0, 0, 0
	for _, rep := range reports {
		if rep.Err != nil {
			failed++
			color.Red("  ✗ %s: %v", rep.ChunkID, rep.Err)
			continue
		}
		ingested++
		atoms += rep.Atoms
	}

	fmt.Println()
	color.Green("Ingested %d chunks, %d atoms", ingested, atoms)
	if failed > 0 {
		color.Yellow("%d records failed; see log for details", failed)
		os.Exit(1)
	}
}

// openTextIndex opens the keyword index at dir, creating it when missing
// or when a full rebuild was requested.
func openTextIndex(dir string, recreate bool) (*textindex.Index, error) {
	if recreate {
		return textindex.Create(dir)
	}
	idx, err := textindex.Open(dir)
	if err == nil {
		return idx, nil
	}
	if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
		return textindex.Create(dir)
	}
	return nil, err
}
