// Package quotastore defines the port interface for quota persistence.
package quotastore

import "context"

// Record is the persisted state for one quota key. A nil Limit means the
// key is unlimited. Reservations are process-lifetime and never persisted.
type Record struct {
	Used  int  `json:"used"`
	Limit *int `json:"limit,omitempty"`
}

// Store persists quota usage across process restarts.
type Store interface {
	// Load returns the persisted records, or an empty map when nothing
	// has been saved yet.
	Load(ctx context.Context) (map[string]Record, error)

	// Save replaces the persisted records.
	Save(ctx context.Context, records map[string]Record) error
}
