package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// LocalStore is a sqlite-backed store with brute-force cosine search.
// It serves deployments that do not run a Qdrant server.
type LocalStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewLocalStore opens (or creates) the store under dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("path is required for local vector store")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, "vectors.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	store := &LocalStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *LocalStore) initSchema() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
	}
	for _, stmt := range pragmas {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init vector db: %w", err)
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dims INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS points (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT,
			vector TEXT,
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_points_collection ON points (collection);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init vector db: %w", err)
		}
	}
	return nil
}

func (s *LocalStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("collection %s: dims must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRowContext(ctx, `SELECT dims FROM collections WHERE name = ?`, name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx, `INSERT INTO collections (name, dims) VALUES (?, ?)`, name, dims)
		return err
	case err != nil:
		return err
	case existing != dims:
		return fmt.Errorf("collection %s has dimension %d, want %d: %w",
			name, existing, dims, ErrDimensionMismatch)
	}
	return nil
}

func (s *LocalStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dims, err := s.collectionDims(ctx, collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO points
		(collection, id, payload, vector) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if len(p.Vector) != dims {
			_ = tx.Rollback()
			return fmt.Errorf("point %s has dimension %d, want %d: %w",
				p.ID, len(p.Vector), dims, ErrDimensionMismatch)
		}
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		vectorJSON, err := encodeVector(p.Vector)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, collection, p.ID, string(payloadJSON), vectorJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *LocalStore) Search(ctx context.Context, collection string, vector []float32, k int, threshold float64) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	queryVec, queryNorm := toFloat64Vector(vector)
	if len(queryVec) == 0 || queryNorm == 0 {
		return nil, fmt.Errorf("vector query is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, payload, vector FROM points WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var id, payloadJSON, vectorJSON string
		if err := rows.Scan(&id, &payloadJSON, &vectorJSON); err != nil {
			return nil, err
		}
		vec, err := decodeVector(vectorJSON)
		if err != nil {
			continue
		}
		score := cosineSimilarity(queryVec, vec, queryNorm)
		if threshold > 0 && score < threshold {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *LocalStore) GetByIDs(ctx context.Context, collection string, ids []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	holders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		holders = append(holders, "?")
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id, payload FROM points WHERE collection = ? AND id IN (%s)`,
		strings.Join(holders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, payloadJSON string
		if err := rows.Scan(&id, &payloadJSON); err != nil {
			return nil, err
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			continue
		}
		out[id] = payload
	}
	return out, rows.Err()
}

func (s *LocalStore) DeleteByField(ctx context.Context, collection, field string, value any, keep ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM points WHERE collection = ?`, collection)
	if err != nil {
		return err
	}
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	var doomed []string
	want := fmt.Sprintf("%v", value)
	for rows.Next() {
		var id, payloadJSON string
		if err := rows.Scan(&id, &payloadJSON); err != nil {
			_ = rows.Close()
			return err
		}
		if keepSet[id] {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			continue
		}
		if got, ok := payload[field]; ok && fmt.Sprintf("%v", got) == want {
			doomed = append(doomed, id)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	if len(doomed) == 0 {
		return nil
	}
	holders := make([]string, 0, len(doomed))
	args := make([]any, 0, len(doomed)+1)
	args = append(args, collection)
	for _, id := range doomed {
		holders = append(holders, "?")
		args = append(args, id)
	}
	query := fmt.Sprintf(`DELETE FROM points WHERE collection = ? AND id IN (%s)`,
		strings.Join(holders, ","))
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *LocalStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE collection = ?`, collection).Scan(&count)
	return count, err
}

func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) collectionDims(ctx context.Context, collection string) (int, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT dims FROM collections WHERE name = ?`, collection).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("collection %s does not exist", collection)
	}
	return dims, err
}

func encodeVector(vec []float32) (string, error) {
	data := make([]float64, len(vec))
	for i, val := range vec {
		data[i] = float64(val)
	}
	out, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeVector(raw string) ([]float64, error) {
	var vec []float64
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func toFloat64Vector(vec []float32) ([]float64, float64) {
	out := make([]float64, len(vec))
	var sum float64
	for i, val := range vec {
		v := float64(val)
		out[i] = v
		sum += v * v
	}
	return out, math.Sqrt(sum)
}

func cosineSimilarity(query []float64, vec []float64, queryNorm float64) float64 {
	if len(query) == 0 || len(vec) == 0 || queryNorm == 0 {
		return 0
	}
	if len(query) != len(vec) {
		return 0
	}
	var dot float64
	var norm float64
	for i, val := range vec {
		dot += query[i] * val
		norm += val * val
	}
	if norm == 0 {
		return 0
	}
	return dot / (queryNorm * math.Sqrt(norm))
}
