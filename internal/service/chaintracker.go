package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantlab/dispatch/internal/domain/chain"
)

// ChainLedger persists chain accounting outside the process. Optional.
type ChainLedger interface {
	UpsertChain(ctx context.Context, c *chain.Chain) error
}

// ChainTracker accumulates cost and token usage per task chain. Chains are
// created lazily on first record; the root task id is fixed by that first
// record and never changes.
type ChainTracker struct {
	mu     sync.Mutex
	chains map[string]*chain.Chain
	ledger ChainLedger // nil keeps accounting in memory only
}

// NewChainTracker creates an empty tracker. ledger may be nil.
func NewChainTracker(ledger ChainLedger) *ChainTracker {
	return &ChainTracker{
		chains: make(map[string]*chain.Chain),
		ledger: ledger,
	}
}

// RecordTask adds one task's cost and tokens to a chain, creating the chain
// if needed. Depth counts recorded tasks.
func (ct *ChainTracker) RecordTask(ctx context.Context, chainID, taskID string, cost float64, tokens int) {
	now := time.Now().UTC()

	ct.mu.Lock()
	c, ok := ct.chains[chainID]
	if !ok {
		c = &chain.Chain{ID: chainID, RootTaskID: taskID, CreatedAt: now}
		ct.chains[chainID] = c
	}
	c.TotalCost += cost
	c.TotalTokens += tokens
	c.Depth++
	c.UpdatedAt = now
	snapshot := *c
	ct.mu.Unlock()

	if ct.ledger != nil {
		if err := ct.ledger.UpsertChain(ctx, &snapshot); err != nil {
			slog.Warn("chain ledger write failed", "chain_id", chainID, "error", err)
		}
	}
}

// GetChain returns a copy of the chain, or nil when unknown.
func (ct *ChainTracker) GetChain(chainID string) *chain.Chain {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	c, ok := ct.chains[chainID]
	if !ok {
		return nil
	}
	snapshot := *c
	return &snapshot
}

// GetChainCost returns the accumulated cost for a chain. Unknown chains
// cost 0: querying before the first record is normal, not an error.
func (ct *ChainTracker) GetChainCost(chainID string) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	c, ok := ct.chains[chainID]
	if !ok {
		return 0
	}
	return c.TotalCost
}
