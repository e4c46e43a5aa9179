package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/DreamCats/atomdex/internal/config"
)

// ErrDimensionMismatch is returned when a collection already exists with a
// different vector width than the one requested. It is fatal at startup.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Point is a single entry in a collection.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchHit is one similarity-search result.
type SearchHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Store is an id-keyed cosine-similarity index. Implementations must order
// search results by descending score and break ties by ascending id, and
// must treat upserts of an existing id as atomic replacement.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dims int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, k int, threshold float64) ([]SearchHit, error)
	// GetByIDs resolves payloads in one round trip. Missing ids are simply
	// absent from the result map.
	GetByIDs(ctx context.Context, collection string, ids []string) (map[string]map[string]any, error)
	// DeleteByField removes every point whose payload field equals value,
	// except points whose id is listed in keep.
	DeleteByField(ctx context.Context, collection, field string, value any, keep ...string) error
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// New selects a store backend from configuration.
func New(cfg *config.StoresConfig) (Store, error) {
	switch cfg.Backend {
	case "qdrant":
		return NewQdrantStore(cfg.QdrantURL, cfg.QdrantAPIKey), nil
	case "local":
		return NewLocalStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// sortHits orders hits by descending score, ascending id on equal score.
func sortHits(hits []SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// PayloadString extracts a string field from a payload.
func PayloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	val, ok := payload[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PayloadStrings extracts a string-slice field from a payload. JSON
// round-trips turn []string into []any, so both shapes are accepted.
func PayloadStrings(payload map[string]any, key string) []string {
	if payload == nil {
		return nil
	}
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
