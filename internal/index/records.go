package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// LoadRecords reads ingestion records from every file matching the given
// glob patterns. JSON files hold an array of records; YAML files hold a
// document list. Files are visited in sorted path order so batches are
// reproducible.
func LoadRecords(patterns []string) ([]Record, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				paths = append(paths, match)
			}
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no record files matched %v", patterns)
	}
	sort.Strings(paths)

	var records []Record
	for _, path := range paths {
		recs, err := loadRecordFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

func loadRecordFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse json records: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parse yaml records: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported record file type: %s", filepath.Ext(path))
	}
	return records, nil
}
