package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/DreamCats/atomdex/internal/config"
	"github.com/DreamCats/atomdex/internal/embedding"
	"github.com/DreamCats/atomdex/internal/retrieval"
	"github.com/DreamCats/atomdex/internal/textindex"
	"github.com/DreamCats/atomdex/internal/vectorstore"
)

func handleSearch(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	mode := fs.String("mode", "atom", "Retrieval mode: atom, chunk, hybrid or keyword")
	topK := fs.Int("k", cfg.Search.DefaultTopK, "Number of results")
	asJSON := fs.Bool("json", false, "Emit results as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: atomdex search [options] <query>...

Modes:
    atom       Search the atom store, resolve hits to source chunks.
               Multiple query arguments split the -k budget between them.
    chunk      Search the chunk store, re-score candidates by their atoms
    hybrid     Union of chunk-store and atom-derived contents
    keyword    Full-text search over titles and contents (no embeddings)

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
	queries := fs.Args()

	if *mode == "keyword" {
		runKeywordSearch(cfg, strings.Join(queries, " "), *topK, *asJSON)
		return
	}

	store, err := vectorstore.New(&cfg.Stores)
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}
	defer store.Close()

	embedder, err := embedding.NewService(&cfg.Embedding)
	if err != nil {
		log.Fatalf("Failed to create embedding service: %v", err)
	}

	ctx := context.Background()
	engine, err := retrieval.NewEngine(ctx, store, store, embedder, retrieval.Options{
		ChunkCollection: cfg.Stores.ChunkCollection,
		AtomCollection:  cfg.Stores.AtomCollection,
		ChunkDimensions: cfg.Stores.ChunkDimensions,
		AtomDimensions:  cfg.Stores.AtomDimensions,
		ScoreThreshold:  cfg.Search.ScoreThreshold,
	})
	if err != nil {
		log.Fatalf("Failed to create retrieval engine: %v", err)
	}

	switch *mode {
	case "atom":
		results, err := engine.RetrieveByAtom(ctx, queries, *topK)
		exitOnQueryError(err)
		printAtomResults(results, *asJSON)
	case "chunk":
		results, err := engine.RetrieveByChunk(ctx, strings.Join(queries, " "), *topK)
		exitOnQueryError(err)
		printAtomResults(results, *asJSON)
	case "hybrid":
		contents, err := engine.RetrieveHybrid(ctx, strings.Join(queries, " "), *topK)
		exitOnQueryError(err)
		printContents(contents, *asJSON)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown mode %q\n", *mode)
		fs.Usage()
		os.Exit(1)
	}
}

func runKeywordSearch(cfg *config.Config, query string, k int, asJSON bool) {
	if cfg.Stores.TextIndexPath == "" {
		log.Fatal("keyword mode requires stores.text_index_path in the config")
	}
	idx, err := textindex.Open(cfg.Stores.TextIndexPath)
	if err != nil {
		log.Fatalf("Failed to open text index: %v", err)
	}
	defer idx.Close()

	hits, err := idx.Search(query, k)
	if err != nil {
		log.Fatalf("Keyword search failed: %v", err)
	}
	if asJSON {
		emitJSON(hits)
		return
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, hit := range hits {
		color.Cyan("%d. %s  (score %.4f)", i+1, hit.ChunkID, hit.Score)
		if hit.Title != "" {
			fmt.Printf("   %s\n", hit.Title)
		}
	}
}

func exitOnQueryError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, retrieval.ErrEmptyQuery) {
		fmt.Fprintln(os.Stderr, "Error: query must not be empty")
		os.Exit(1)
	}
	log.Fatalf("Search failed: %v", err)
}

func printAtomResults(results []retrieval.AtomResult, asJSON bool) {
	if asJSON {
		type jsonResult struct {
			AtomQuery          string  `json:"atom_query"`
			AtomText           string  `json:"atom_text,omitempty"`
			SourceChunkID      string  `json:"source_chunk_id"`
			SourceChunkTitle   string  `json:"source_chunk_title,omitempty"`
			SourceChunkContent string  `json:"source_chunk_content"`
			Score              float64 `json:"score"`
		}
		out := make([]jsonResult, len(results))
		for i, res := range results {
			out[i] = jsonResult{
				AtomQuery:          res.AtomQuery,
				AtomText:           res.AtomText,
				SourceChunkID:      res.SourceChunkID,
				SourceChunkTitle:   res.SourceChunkTitle,
				SourceChunkContent: res.SourceChunkContent,
				Score:              res.Score,
			}
		}
		emitJSON(out)
		return
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, res := range results {
		color.Cyan("%d. %s  (score %.4f)", i+1, res.SourceChunkID, res.Score)
		if res.SourceChunkTitle != "" {
			color.Yellow("   title: %s", res.SourceChunkTitle)
		}
		if res.AtomText != "" {
			fmt.Printf("   atom:  %s\n", res.AtomText)
		}
		fmt.Printf("   %s\n\n", truncate(res.SourceChunkContent, 240))
	}
}

func printContents(contents []string, asJSON bool) {
	if asJSON {
		emitJSON(contents)
		return
	}
	if len(contents) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, content := range contents {
		color.Cyan("%d.", i+1)
		fmt.Printf("   %s\n\n", truncate(content, 240))
	}
}

func emitJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode results: %v", err)
	}
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
