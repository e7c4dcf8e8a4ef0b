// Package quota provides per-provider admission control and usage accounting.
package quota

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quantlab/dispatch/internal/port/quotastore"
)

// Status is a point-in-time snapshot of one quota key.
type Status struct {
	Used       int     `json:"used"`
	Reserved   int     `json:"reserved"`
	Limit      *int    `json:"limit,omitempty"`
	Percentage float64 `json:"percentage"`
}

type entry struct {
	used     int
	reserved int
	limit    *int // nil means unlimited
}

// Tracker owns all mutable quota state. Every read and write goes through
// a single mutex so concurrent tasks can never jointly exceed a limit:
// Reserve re-checks admissibility under the same lock that increments.
type Tracker struct {
	mu    sync.Mutex
	keys  map[string]*entry
	store quotastore.Store // optional; nil keeps state process-lifetime only
}

// NewTracker creates a tracker with the given configured limits. When store
// is non-nil, previously persisted usage is restored; configured limits take
// precedence over persisted ones.
func NewTracker(limits map[string]int, store quotastore.Store) (*Tracker, error) {
	t := &Tracker{
		keys:  make(map[string]*entry),
		store: store,
	}

	if store != nil {
		records, err := store.Load(context.Background())
		if err != nil {
			return nil, err
		}
		for key, rec := range records {
			t.keys[key] = &entry{used: rec.Used, limit: rec.Limit}
		}
	}

	for key, limit := range limits {
		l := limit
		e := t.ensure(key)
		e.limit = &l
	}

	return t, nil
}

// CanUse reports whether the key admits another call: true when the key has
// no configured limit, or used + reserved is still below it.
func (t *Tracker) CanUse(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admissible(t.ensure(key))
}

// Reserve atomically claims one slot for the key. It returns false, never an
// error, when the key is exhausted; callers must check the result before
// proceeding. Every successful reservation must be released exactly once.
func (t *Tracker) Reserve(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.ensure(key)
	if !t.admissible(e) {
		return false
	}
	e.reserved++
	return true
}

// Release returns a previously reserved slot. When charge is true the call
// succeeded and one unit of usage is recorded; on failure, timeout, or
// cancellation the slot is simply freed.
func (t *Tracker) Release(key string, charge bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.ensure(key)
	if e.reserved <= 0 {
		slog.Error("quota release without matching reservation", "quota_key", key)
	} else {
		e.reserved--
	}
	if charge {
		e.used++
	}
	t.persist()
}

// RecordUsage directly adds n units of usage for call sites that do not go
// through Reserve/Release.
func (t *Tracker) RecordUsage(key string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure(key).used += n
	t.persist()
}

// GetStatus returns a snapshot of every tracked key.
func (t *Tracker) GetStatus() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Status, len(t.keys))
	for key, e := range t.keys {
		s := Status{Used: e.used, Reserved: e.reserved}
		if e.limit != nil {
			l := *e.limit
			s.Limit = &l
			if l > 0 {
				s.Percentage = float64(e.used) / float64(l) * 100
			}
		}
		out[key] = s
	}
	return out
}

// ensure must be called with t.mu held.
func (t *Tracker) ensure(key string) *entry {
	e, ok := t.keys[key]
	if !ok {
		e = &entry{}
		t.keys[key] = e
	}
	return e
}

// admissible must be called with t.mu held.
func (t *Tracker) admissible(e *entry) bool {
	if e.limit == nil {
		return true
	}
	return e.used+e.reserved < *e.limit
}

// persist must be called with t.mu held. Persistence failures are logged,
// not returned: admission control keeps working on in-memory state.
func (t *Tracker) persist() {
	if t.store == nil {
		return
	}

	records := make(map[string]quotastore.Record, len(t.keys))
	for key, e := range t.keys {
		rec := quotastore.Record{Used: e.used}
		if e.limit != nil {
			l := *e.limit
			rec.Limit = &l
		}
		records[key] = rec
	}

	if err := t.store.Save(context.Background(), records); err != nil {
		slog.Warn("quota persist failed", "error", err)
	}
}
