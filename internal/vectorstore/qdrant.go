package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QdrantStore talks to a Qdrant server over its HTTP API.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewQdrantStore creates a store backed by a Qdrant server.
func NewQdrantStore(url, apiKey string) *QdrantStore {
	return &QdrantStore{
		baseURL: strings.TrimRight(url, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	data, err := s.doRequest(ctx, http.MethodGet, "/collections/"+name, nil)
	if err == nil {
		var parsed struct {
			Result struct {
				Config struct {
					Params struct {
						Vectors struct {
							Size int `json:"size"`
						} `json:"vectors"`
					} `json:"params"`
				} `json:"config"`
			} `json:"result"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("parse collection info: %w", err)
		}
		if size := parsed.Result.Config.Params.Vectors.Size; size != 0 && size != dims {
			return fmt.Errorf("collection %s has dimension %d, want %d: %w",
				name, size, dims, ErrDimensionMismatch)
		}
		return nil
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dims,
			"distance": "Cosine",
		},
	}
	_, err = s.doRequest(ctx, http.MethodPut, "/collections/"+name, req)
	return err
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	payload := make([]map[string]any, 0, len(points))
	for _, p := range points {
		payload = append(payload, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	req := map[string]any{"points": payload}
	_, err := s.doRequest(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", req)
	return err
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, k int, threshold float64) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if threshold > 0 {
		req["score_threshold"] = threshold
	}
	data, err := s.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/search", req)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(parsed.Result))
	for _, item := range parsed.Result {
		hits = append(hits, SearchHit{
			ID:      fmt.Sprintf("%v", item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	// The server orders by score only; re-sort for a stable id tie-break.
	sortHits(hits)
	return hits, nil
}

func (s *QdrantStore) GetByIDs(ctx context.Context, collection string, ids []string) (map[string]map[string]any, error) {
	if len(ids) == 0 {
		return map[string]map[string]any{}, nil
	}
	req := map[string]any{
		"ids":          ids,
		"with_payload": true,
	}
	data, err := s.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points", req)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Result []struct {
			ID      any            `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(parsed.Result))
	for _, item := range parsed.Result {
		out[fmt.Sprintf("%v", item.ID)] = item.Payload
	}
	return out, nil
}

func (s *QdrantStore) DeleteByField(ctx context.Context, collection, field string, value any, keep ...string) error {
	filter := map[string]any{
		"must": []map[string]any{
			{
				"key": field,
				"match": map[string]any{
					"value": value,
				},
			},
		},
	}
	if len(keep) > 0 {
		filter["must_not"] = []map[string]any{
			{"has_id": keep},
		}
	}
	req := map[string]any{"filter": filter}
	_, err := s.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", req)
	return err
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	req := map[string]any{"exact": true}
	data, err := s.doRequest(ctx, http.MethodPost, "/collections/"+collection+"/points/count", req)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, err
	}
	return parsed.Result.Count, nil
}

func (s *QdrantStore) Close() error {
	return nil
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
