package vectorstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a map-backed store with brute-force cosine search.
// It backs tests and short-lived pipelines that never touch disk.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dims   int
	points map[string]Point
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("collection %s: dims must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if coll, ok := s.collections[name]; ok {
		if coll.dims != dims {
			return fmt.Errorf("collection %s has dimension %d, want %d: %w",
				name, coll.dims, dims, ErrDimensionMismatch)
		}
		return nil
	}
	s.collections[name] = &memoryCollection{dims: dims, points: make(map[string]Point)}
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	for _, p := range points {
		if len(p.Vector) != coll.dims {
			return fmt.Errorf("point %s has dimension %d, want %d: %w",
				p.ID, len(p.Vector), coll.dims, ErrDimensionMismatch)
		}
	}
	for _, p := range points {
		coll.points[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, collection string, vector []float32, k int, threshold float64) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	queryVec, queryNorm := toFloat64Vector(vector)
	if len(queryVec) == 0 || queryNorm == 0 {
		return nil, fmt.Errorf("vector query is empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s does not exist", collection)
	}

	var hits []SearchHit
	for id, p := range coll.points {
		vec, _ := toFloat64Vector(p.Vector)
		score := cosineSimilarity(queryVec, vec, queryNorm)
		if threshold > 0 && score < threshold {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Score: score, Payload: p.Payload})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *MemoryStore) GetByIDs(ctx context.Context, collection string, ids []string) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(ids))
	coll, ok := s.collections[collection]
	if !ok {
		return out, nil
	}
	for _, id := range ids {
		if p, ok := coll.points[id]; ok {
			out[id] = p.Payload
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteByField(ctx context.Context, collection, field string, value any, keep ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil
	}
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	want := fmt.Sprintf("%v", value)
	for id, p := range coll.points {
		if keepSet[id] {
			continue
		}
		if got, ok := p.Payload[field]; ok && fmt.Sprintf("%v", got) == want {
			delete(coll.points, id)
		}
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	return len(coll.points), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
