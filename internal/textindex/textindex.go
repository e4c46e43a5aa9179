// Package textindex maintains a bleve full-text index over chunk titles
// and contents. It backs the keyword-only search mode and stays outside
// the vector retrieval paths.
package textindex

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// ChunkDoc is the indexed document shape.
type ChunkDoc struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Hit is one keyword search result.
type Hit struct {
	ChunkID string
	Title   string
	Score   float64
}

// Index wraps a bleve index over chunks.
type Index struct {
	index bleve.Index
}

// Create resets dir and builds a fresh index there.
func Create(dir string) (*Index, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("reset text index dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create text index dir: %w", err)
	}
	index, err := bleve.New(dir, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

// Open opens an existing index.
func Open(dir string) (*Index, error) {
	index, err := bleve.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &Index{index: index}, nil
}

// IndexChunk adds or replaces one chunk document.
func (i *Index) IndexChunk(id string, doc ChunkDoc) error {
	return i.index.Index(id, doc)
}

// DeleteChunk removes a chunk document.
func (i *Index) DeleteChunk(id string) error {
	return i.index.Delete(id)
}

// Search runs a query-string search and returns up to k hits.
func (i *Index) Search(query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), k, 0, false)
	req.Fields = []string{"title"}
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		title, _ := hit.Fields["title"].(string)
		hits = append(hits, Hit{ChunkID: hit.ID, Title: title, Score: hit.Score})
	}
	return hits, nil
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.index.Close()
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "en"
	indexMapping.DefaultField = "content"

	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = false
	contentField.Index = true
	docMapping.AddFieldMappingsAt("content", contentField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Store = true
	titleField.Index = true
	docMapping.AddFieldMappingsAt("title", titleField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}
