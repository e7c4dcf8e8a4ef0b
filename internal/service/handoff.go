package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantlab/dispatch/internal/domain/chain"
	"github.com/quantlab/dispatch/internal/domain/task"
	"github.com/quantlab/dispatch/internal/port/cache"
	"github.com/quantlab/dispatch/internal/port/events"
	"github.com/quantlab/dispatch/internal/port/memorystore"
)

// Context keys wired into a child task by SpawnChildTask.
const (
	ContextKeyMemoryID     = "handoff_memory_id"
	ContextKeyParentTaskID = "parent_task_id"
	ContextKeyChainID      = "chain_id"
)

// DefaultMaxSummaryLength bounds handoff summaries when the caller passes 0.
const DefaultMaxSummaryLength = 200

// ErrNoHandoffContext indicates a task that was never wired to a handoff.
// This is a logic bug at the call site, not a recoverable condition.
var ErrNoHandoffContext = errors.New("task has no handoff context")

// ErrHandoffNotFound indicates the memory store has no entry for the
// referenced memory id.
var ErrHandoffNotFound = errors.New("handoff memory not found")

// handoffCacheTTL bounds how long parent output stays in the read cache.
const handoffCacheTTL = 30 * time.Minute

// HandoffService persists a parent task's output into the external memory
// store and wires child tasks to retrieve it.
type HandoffService struct {
	mem    memorystore.Store
	cache  cache.Cache // optional read-through cache for parent content
	chains *ChainTracker
	events events.Publisher
}

// NewHandoffService creates a HandoffService. readCache may be nil.
func NewHandoffService(mem memorystore.Store, readCache cache.Cache, chains *ChainTracker, publisher events.Publisher) *HandoffService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &HandoffService{
		mem:    mem,
		cache:  readCache,
		chains: chains,
		events: publisher,
	}
}

// Chains exposes the chain tracker for accounting queries.
func (s *HandoffService) Chains() *ChainTracker { return s.chains }

// SpawnChildTask stores the parent result's full output in the memory store
// and returns a child task wired to retrieve it. Chain id resolution order:
// the parent task's existing chain id, then the explicit argument, then a
// newly minted id.
func (s *HandoffService) SpawnChildTask(ctx context.Context, parent *task.Result, childPrompt, chainID string, maxSummaryLen int) (*task.Task, *chain.HandoffContext, error) {
	if parent == nil {
		return nil, nil, errors.New("handoff: parent result is required")
	}
	if maxSummaryLen <= 0 {
		maxSummaryLen = DefaultMaxSummaryLength
	}

	if parent.Task != nil && parent.Task.ChainID() != "" {
		chainID = parent.Task.ChainID()
	}
	if chainID == "" {
		chainID = "chain-" + uuid.NewString()
	}

	memoryID, err := s.mem.Put(ctx, parent.Output, map[string]string{
		"type":           "handoff",
		"parent_task_id": parent.TaskID,
		"chain_id":       chainID,
		"platform":       string(parent.Platform),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("handoff: store parent output: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, memoryID, []byte(parent.Output), handoffCacheTTL); err != nil {
			slog.Debug("handoff cache set failed", "memory_id", memoryID, "error", err)
		}
	}

	summary := parent.Output
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen] + "..."
	}

	child := task.New("handoff", childPrompt)
	child.Context = map[string]string{
		ContextKeyMemoryID:     memoryID,
		ContextKeyParentTaskID: parent.TaskID,
		ContextKeyChainID:      chainID,
	}
	child.Metadata = map[string]string{"chain_id": chainID}

	hctx := &chain.HandoffContext{
		MemoryID:     memoryID,
		Summary:      summary,
		ParentTaskID: parent.TaskID,
		ChainID:      chainID,
	}

	s.publish(ctx, events.SubjectHandoffCreated, map[string]string{
		"memory_id":      memoryID,
		"parent_task_id": parent.TaskID,
		"child_task_id":  child.ID,
		"chain_id":       chainID,
	})

	slog.Info("handoff created",
		"parent_task_id", parent.TaskID,
		"child_task_id", child.ID,
		"chain_id", chainID,
		"memory_id", memoryID,
	)

	return child, hctx, nil
}

// LoadHandoffContext returns the parent content referenced by the task.
// Both a missing reference and a missing memory entry fail fast; there is
// deliberately no silent fallback to empty content.
func (s *HandoffService) LoadHandoffContext(ctx context.Context, t *task.Task) (string, error) {
	memoryID := ""
	if t.Context != nil {
		memoryID = t.Context[ContextKeyMemoryID]
	}
	if memoryID == "" {
		return "", fmt.Errorf("task %s: %w", t.ID, ErrNoHandoffContext)
	}

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, memoryID); err == nil && ok {
			return string(data), nil
		}
	}

	content, err := s.mem.Get(ctx, memoryID)
	if err != nil {
		if errors.Is(err, memorystore.ErrNotFound) {
			return "", fmt.Errorf("memory id %s: %w", memoryID, ErrHandoffNotFound)
		}
		return "", fmt.Errorf("handoff: load %s: %w", memoryID, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, memoryID, []byte(content), handoffCacheTTL); err != nil {
			slog.Debug("handoff cache set failed", "memory_id", memoryID, "error", err)
		}
	}
	return content, nil
}

// HasHandoffContext reports whether the task references a stored handoff.
func (s *HandoffService) HasHandoffContext(t *task.Task) bool {
	return t.Context != nil && t.Context[ContextKeyMemoryID] != ""
}

func (s *HandoffService) publish(ctx context.Context, subject string, payload map[string]string) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, subject, data); err != nil {
		slog.Warn("event publish failed", "subject", subject, "error", err)
	}
}
