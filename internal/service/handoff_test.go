package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quantlab/dispatch/internal/adapter/memstore"
	"github.com/quantlab/dispatch/internal/domain/task"
	"github.com/quantlab/dispatch/internal/port/memorystore"
)

type failingMemStore struct {
	putErr error
	getErr error
}

func (f *failingMemStore) Put(_ context.Context, _ string, _ map[string]string) (string, error) {
	return "", f.putErr
}

func (f *failingMemStore) Get(_ context.Context, _ string) (string, error) {
	return "", f.getErr
}

func (f *failingMemStore) Search(_ context.Context, _ string, _ int) ([]memorystore.Result, error) {
	return nil, nil
}

func parentResult(output string) *task.Result {
	parent := task.New("analysis", "inspect the logs")
	parent.Platform = task.PlatformChatGPT
	return &task.Result{
		Task:     parent,
		TaskID:   parent.ID,
		Platform: task.PlatformChatGPT,
		Output:   output,
		Success:  true,
		Status:   task.StatusCompleted,
	}
}

func TestSpawnChildTaskRoundTrip(t *testing.T) {
	svc := NewHandoffService(memstore.New(), nil, NewChainTracker(nil), nil)
	ctx := context.Background()
	parent := parentResult("full parent output with every detail intact")

	child, hctx, err := svc.SpawnChildTask(ctx, parent, "summarize the findings", "", 100)
	if err != nil {
		t.Fatalf("SpawnChildTask: %v", err)
	}

	if child.Context[ContextKeyMemoryID] != hctx.MemoryID {
		t.Errorf("child memory id = %q, want %q", child.Context[ContextKeyMemoryID], hctx.MemoryID)
	}
	if child.Context[ContextKeyParentTaskID] != parent.TaskID {
		t.Errorf("child parent task id = %q, want %q", child.Context[ContextKeyParentTaskID], parent.TaskID)
	}
	if child.Metadata["chain_id"] != hctx.ChainID {
		t.Errorf("child chain id = %q, want %q", child.Metadata["chain_id"], hctx.ChainID)
	}
	if !svc.HasHandoffContext(child) {
		t.Error("HasHandoffContext(child) = false, want true")
	}

	content, err := svc.LoadHandoffContext(ctx, child)
	if err != nil {
		t.Fatalf("LoadHandoffContext: %v", err)
	}
	if content != parent.Output {
		t.Errorf("loaded content = %q, want full parent output", content)
	}
}

func TestSpawnChildTaskSummaryTruncation(t *testing.T) {
	svc := NewHandoffService(memstore.New(), nil, NewChainTracker(nil), nil)
	parent := parentResult(strings.Repeat("x", 1000))

	_, hctx, err := svc.SpawnChildTask(context.Background(), parent, "continue", "", 100)
	if err != nil {
		t.Fatalf("SpawnChildTask: %v", err)
	}

	if len(hctx.Summary) != 103 {
		t.Errorf("summary length = %d, want 103", len(hctx.Summary))
	}
	if !strings.HasSuffix(hctx.Summary, "...") {
		t.Errorf("summary %q does not end with ellipsis", hctx.Summary)
	}
}

func TestSpawnChildTaskShortOutputNotTruncated(t *testing.T) {
	svc := NewHandoffService(memstore.New(), nil, NewChainTracker(nil), nil)
	parent := parentResult("short")

	_, hctx, err := svc.SpawnChildTask(context.Background(), parent, "continue", "", 100)
	if err != nil {
		t.Fatalf("SpawnChildTask: %v", err)
	}
	if hctx.Summary != "short" {
		t.Errorf("summary = %q, want %q", hctx.Summary, "short")
	}
}

func TestSpawnChildTaskChainIDResolution(t *testing.T) {
	svc := NewHandoffService(memstore.New(), nil, NewChainTracker(nil), nil)
	ctx := context.Background()

	// Parent metadata wins over the explicit argument.
	parent := parentResult("output")
	parent.Task.Metadata = map[string]string{"chain_id": "chain-from-parent"}
	_, hctx, err := svc.SpawnChildTask(ctx, parent, "next", "chain-arg", 0)
	if err != nil {
		t.Fatalf("SpawnChildTask: %v", err)
	}
	if hctx.ChainID != "chain-from-parent" {
		t.Errorf("chain id = %q, want chain-from-parent", hctx.ChainID)
	}

	// Explicit argument used when the parent carries none.
	parent = parentResult("output")
	_, hctx, err = svc.SpawnChildTask(ctx, parent, "next", "chain-arg", 0)
	if err != nil {
		t.Fatalf("SpawnChildTask: %v", err)
	}
	if hctx.ChainID != "chain-arg" {
		t.Errorf("chain id = %q, want chain-arg", hctx.ChainID)
	}

	// Neither present mints a fresh id.
	parent = parentResult("output")
	_, hctx, err = svc.SpawnChildTask(ctx, parent, "next", "", 0)
	if err != nil {
		t.Fatalf("SpawnChildTask: %v", err)
	}
	if !strings.HasPrefix(hctx.ChainID, "chain-") {
		t.Errorf("minted chain id = %q, want chain- prefix", hctx.ChainID)
	}
}

func TestSpawnChildTaskPutFailure(t *testing.T) {
	svc := NewHandoffService(&failingMemStore{putErr: errors.New("store down")}, nil, NewChainTracker(nil), nil)

	_, _, err := svc.SpawnChildTask(context.Background(), parentResult("output"), "next", "", 0)
	if err == nil {
		t.Fatal("expected error when the memory store rejects the write")
	}
}

func TestLoadHandoffContextNoReference(t *testing.T) {
	svc := NewHandoffService(memstore.New(), nil, NewChainTracker(nil), nil)

	plain := task.New("analysis", "no handoff here")
	_, err := svc.LoadHandoffContext(context.Background(), plain)
	if !errors.Is(err, ErrNoHandoffContext) {
		t.Errorf("err = %v, want ErrNoHandoffContext", err)
	}
	if svc.HasHandoffContext(plain) {
		t.Error("HasHandoffContext = true for a plain task")
	}
}

func TestLoadHandoffContextMissingMemory(t *testing.T) {
	svc := NewHandoffService(memstore.New(), nil, NewChainTracker(nil), nil)

	child := task.New("handoff", "continue")
	child.Context = map[string]string{ContextKeyMemoryID: "mem-gone"}

	_, err := svc.LoadHandoffContext(context.Background(), child)
	if !errors.Is(err, ErrHandoffNotFound) {
		t.Errorf("err = %v, want ErrHandoffNotFound", err)
	}
	if errors.Is(err, ErrNoHandoffContext) {
		t.Error("missing memory must not be reported as a missing reference")
	}
}

func TestLoadHandoffContextStoreError(t *testing.T) {
	svc := NewHandoffService(&failingMemStore{getErr: errors.New("io error")}, nil, NewChainTracker(nil), nil)

	child := task.New("handoff", "continue")
	child.Context = map[string]string{ContextKeyMemoryID: "mem-1"}

	_, err := svc.LoadHandoffContext(context.Background(), child)
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
	if errors.Is(err, ErrHandoffNotFound) {
		t.Error("io error must not be reported as not-found")
	}
}
