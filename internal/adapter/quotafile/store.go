// Package quotafile implements the quotastore port as a single JSON file.
package quotafile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantlab/dispatch/internal/port/quotastore"
)

// Store persists quota records to one JSON file of the form
// {"quota_key": {"used": N, "limit": M}}.
type Store struct {
	path string
}

// New creates a file-backed quota store at the given path. The parent
// directory is created if missing.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("quotafile: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("quotafile: create dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Load reads the persisted records. A missing file yields an empty map.
func (s *Store) Load(_ context.Context) (map[string]quotastore.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]quotastore.Record{}, nil
		}
		return nil, fmt.Errorf("quotafile: read %s: %w", s.path, err)
	}

	var records map[string]quotastore.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("quotafile: parse %s: %w", s.path, err)
	}
	if records == nil {
		records = map[string]quotastore.Record{}
	}
	return records, nil
}

// Save writes the records atomically via a temp file rename.
func (s *Store) Save(_ context.Context, records map[string]quotastore.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("quotafile: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("quotafile: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("quotafile: rename: %w", err)
	}
	return nil
}
