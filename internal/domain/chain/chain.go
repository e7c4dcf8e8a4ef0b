// Package chain defines the task chain and handoff domain entities.
package chain

import "time"

// Chain accumulates cost and token usage across a causal sequence of
// handoff-linked tasks. RootTaskID is fixed by the first recorded task.
type Chain struct {
	ID          string    `json:"id"`
	RootTaskID  string    `json:"root_task_id"`
	TotalCost   float64   `json:"total_cost"`
	TotalTokens int       `json:"total_tokens"`
	Depth       int       `json:"depth"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HandoffContext describes a stored parent output a child task can retrieve.
type HandoffContext struct {
	MemoryID     string `json:"memory_id"`
	Summary      string `json:"summary"`
	ParentTaskID string `json:"parent_task_id"`
	ChainID      string `json:"chain_id"`
}
