package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantlab/dispatch/internal/domain/chain"
	"github.com/quantlab/dispatch/internal/port/quotastore"
)

// ErrChainNotFound is returned when a chain id has no ledger row.
var ErrChainNotFound = errors.New("chain not found")

// Store persists chain accounting and quota snapshots. It also implements
// the quotastore port, as an alternative to the JSON file store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Chains ---

// UpsertChain writes the current chain accumulators.
func (s *Store) UpsertChain(ctx context.Context, c *chain.Chain) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_chains (id, root_task_id, total_cost, total_tokens, depth, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   total_cost = EXCLUDED.total_cost,
		   total_tokens = EXCLUDED.total_tokens,
		   depth = EXCLUDED.depth,
		   updated_at = EXCLUDED.updated_at`,
		c.ID, c.RootTaskID, c.TotalCost, c.TotalTokens, c.Depth, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert chain: %w", err)
	}
	return nil
}

// GetChain returns the persisted state of one chain.
func (s *Store) GetChain(ctx context.Context, id string) (*chain.Chain, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, root_task_id, total_cost, total_tokens, depth, created_at, updated_at
		 FROM task_chains WHERE id = $1`, id)

	var c chain.Chain
	err := row.Scan(&c.ID, &c.RootTaskID, &c.TotalCost, &c.TotalTokens, &c.Depth, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChainNotFound
		}
		return nil, fmt.Errorf("get chain: %w", err)
	}
	return &c, nil
}

// ListChains returns all chains ordered by most recent activity.
func (s *Store) ListChains(ctx context.Context) ([]chain.Chain, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, root_task_id, total_cost, total_tokens, depth, created_at, updated_at
		 FROM task_chains ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var chains []chain.Chain
	for rows.Next() {
		var c chain.Chain
		if err := rows.Scan(&c.ID, &c.RootTaskID, &c.TotalCost, &c.TotalTokens, &c.Depth, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}

// --- Quota (quotastore port) ---

// Load returns all persisted quota records.
func (s *Store) Load(ctx context.Context) (map[string]quotastore.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT quota_key, used, quota_limit FROM quota_usage`)
	if err != nil {
		return nil, fmt.Errorf("load quota: %w", err)
	}
	defer rows.Close()

	records := make(map[string]quotastore.Record)
	for rows.Next() {
		var key string
		var rec quotastore.Record
		if err := rows.Scan(&key, &rec.Used, &rec.Limit); err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		records[key] = rec
	}
	return records, rows.Err()
}

// Save upserts every quota record in one transaction.
func (s *Store) Save(ctx context.Context, records map[string]quotastore.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin quota save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for key, rec := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO quota_usage (quota_key, used, quota_limit, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (quota_key) DO UPDATE SET
			   used = EXCLUDED.used,
			   quota_limit = EXCLUDED.quota_limit,
			   updated_at = now()`,
			key, rec.Used, rec.Limit)
		if err != nil {
			return fmt.Errorf("upsert quota %s: %w", key, err)
		}
	}

	return tx.Commit(ctx)
}
