package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"

	"github.com/DreamCats/atomdex/internal/config"
	"github.com/DreamCats/atomdex/internal/vectorstore"
)

func handleStats(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: atomdex stats\n\nShows point counts for the chunk and atom collections.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	store, err := vectorstore.New(&cfg.Stores)
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	chunks, err := store.Count(ctx, cfg.Stores.ChunkCollection)
	if err != nil {
		log.Fatalf("Failed to count chunks: %v", err)
	}
	atoms, err := store.Count(ctx, cfg.Stores.AtomCollection)
	if err != nil {
		log.Fatalf("Failed to count atoms: %v", err)
	}

	color.Cyan("Store backend: %s", cfg.Stores.Backend)
	fmt.Printf("  %-12s %d points (%d dims)\n", cfg.Stores.ChunkCollection, chunks, cfg.Stores.ChunkDimensions)
	fmt.Printf("  %-12s %d points (%d dims)\n", cfg.Stores.AtomCollection, atoms, cfg.Stores.AtomDimensions)
	if chunks > 0 {
		fmt.Printf("  %.1f atoms per chunk on average\n", float64(atoms)/float64(chunks))
	}
}
