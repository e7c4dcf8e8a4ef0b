// Package memstore implements the memorystore port in process memory.
// It backs tests and runs without any persistence configured.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/quantlab/dispatch/internal/port/memorystore"
)

type entry struct {
	content  string
	metadata map[string]string
}

// Store is a mutex-guarded in-memory content store with token-overlap search.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Put stores content under a fresh id.
func (s *Store) Put(_ context.Context, content string, metadata map[string]string) (string, error) {
	id := "mem-" + uuid.NewString()

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	s.mu.Lock()
	s.entries[id] = entry{content: content, metadata: meta}
	s.mu.Unlock()
	return id, nil
}

// Get returns the content stored under id.
func (s *Store) Get(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return "", memorystore.ErrNotFound
	}
	return e.content, nil
}

// Search ranks entries by the fraction of query tokens they contain.
func (s *Store) Search(_ context.Context, query string, limit int) ([]memorystore.Result, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []memorystore.Result
	for id, e := range s.entries {
		lower := strings.ToLower(e.content)
		hits := 0
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, memorystore.Result{
			ID:       id,
			Content:  e.content,
			Metadata: e.metadata,
			Score:    float64(hits) / float64(len(tokens)),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
