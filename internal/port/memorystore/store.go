// Package memorystore defines the port interface for the external memory
// store used by handoffs. The core never depends on the store's indexing.
package memorystore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no entry matches the id.
var ErrNotFound = errors.New("memory not found")

// Result is one ranked search hit.
type Result struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// Store is the port interface for content storage and retrieval.
type Store interface {
	// Put stores content with metadata and returns its id.
	Put(ctx context.Context, content string, metadata map[string]string) (string, error)

	// Get returns the content stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) (string, error)

	// Search returns up to limit results ranked by relevance to query.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}
