package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/quantlab/dispatch/internal/domain/chain"
)

type fakeLedger struct {
	mu    sync.Mutex
	calls []chain.Chain
	err   error
}

func (l *fakeLedger) UpsertChain(_ context.Context, c *chain.Chain) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, *c)
	return l.err
}

func TestChainTrackerAccumulates(t *testing.T) {
	ct := NewChainTracker(nil)
	ctx := context.Background()

	ct.RecordTask(ctx, "chain-1", "task-a", 0.02, 150)
	ct.RecordTask(ctx, "chain-1", "task-b", 0, 300)
	ct.RecordTask(ctx, "chain-1", "task-c", 0.02, 50)

	c := ct.GetChain("chain-1")
	if c == nil {
		t.Fatal("expected chain-1 to exist")
	}
	if c.RootTaskID != "task-a" {
		t.Errorf("root task = %q, want task-a", c.RootTaskID)
	}
	if c.Depth != 3 {
		t.Errorf("depth = %d, want 3", c.Depth)
	}
	if got, want := c.TotalCost, 0.04; got != want {
		t.Errorf("total cost = %v, want %v", got, want)
	}
	if c.TotalTokens != 500 {
		t.Errorf("total tokens = %d, want 500", c.TotalTokens)
	}
	if got := ct.GetChainCost("chain-1"); got != 0.04 {
		t.Errorf("GetChainCost = %v, want 0.04", got)
	}
}

func TestChainTrackerUnknownChain(t *testing.T) {
	ct := NewChainTracker(nil)

	if got := ct.GetChainCost("nope"); got != 0 {
		t.Errorf("cost of unknown chain = %v, want 0", got)
	}
	if c := ct.GetChain("nope"); c != nil {
		t.Errorf("GetChain for unknown chain = %+v, want nil", c)
	}
}

func TestChainTrackerRootFixedByFirstRecord(t *testing.T) {
	ct := NewChainTracker(nil)
	ctx := context.Background()

	ct.RecordTask(ctx, "chain-1", "first", 0, 0)
	ct.RecordTask(ctx, "chain-1", "second", 0, 0)

	if got := ct.GetChain("chain-1").RootTaskID; got != "first" {
		t.Errorf("root task = %q, want first", got)
	}
}

func TestChainTrackerGetChainReturnsCopy(t *testing.T) {
	ct := NewChainTracker(nil)
	ct.RecordTask(context.Background(), "chain-1", "task-a", 1, 10)

	c := ct.GetChain("chain-1")
	c.TotalCost = 999

	if got := ct.GetChainCost("chain-1"); got != 1 {
		t.Errorf("mutating the returned chain leaked into the tracker: cost = %v", got)
	}
}

func TestChainTrackerMirrorsToLedger(t *testing.T) {
	ledger := &fakeLedger{}
	ct := NewChainTracker(ledger)
	ctx := context.Background()

	ct.RecordTask(ctx, "chain-1", "task-a", 0.02, 100)
	ct.RecordTask(ctx, "chain-1", "task-b", 0.02, 100)

	if len(ledger.calls) != 2 {
		t.Fatalf("ledger writes = %d, want 2", len(ledger.calls))
	}
	last := ledger.calls[1]
	if last.Depth != 2 || last.TotalCost != 0.04 || last.TotalTokens != 200 {
		t.Errorf("last snapshot = %+v, want depth 2, cost 0.04, tokens 200", last)
	}
}

func TestChainTrackerLedgerFailureIsNonFatal(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("db down")}
	ct := NewChainTracker(ledger)

	ct.RecordTask(context.Background(), "chain-1", "task-a", 0.02, 100)

	if got := ct.GetChainCost("chain-1"); got != 0.02 {
		t.Errorf("in-memory accounting lost on ledger failure: cost = %v", got)
	}
}

func TestChainTrackerConcurrentRecords(t *testing.T) {
	ct := NewChainTracker(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct.RecordTask(ctx, "chain-1", "task", 0.01, 10)
		}()
	}
	wg.Wait()

	c := ct.GetChain("chain-1")
	if c.Depth != 50 {
		t.Errorf("depth = %d, want 50", c.Depth)
	}
	if c.TotalTokens != 500 {
		t.Errorf("tokens = %d, want 500", c.TotalTokens)
	}
}
