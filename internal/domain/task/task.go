// Package task defines the Task and Result domain entities.
package task

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform identifies which provider adapter executes a task.
type Platform string

const (
	PlatformChatGPT    Platform = "chatgpt"
	PlatformGemini     Platform = "gemini"
	PlatformClaudeCode Platform = "claude_code"
)

// Valid returns true if the platform is a known value.
func (p Platform) Valid() bool {
	switch p {
	case PlatformChatGPT, PlatformGemini, PlatformClaudeCode:
		return true
	default:
		return false
	}
}

// Status represents the current state of a submitted task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	StatusUnknown   Status = "unknown"
)

// Terminal returns true once a task can no longer change state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// Constraints map onto provider call parameters.
type Constraints struct {
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Task represents a unit of work for one AI provider.
// A task is treated as immutable once submitted.
type Task struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Prompt      string            `json:"prompt"`
	Constraints *Constraints      `json:"constraints,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	Files       []string          `json:"files,omitempty"`
	Platform    Platform          `json:"platform,omitempty"` // routing hint; empty lets the router decide
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// New creates a task with a fresh id and creation timestamp.
func New(taskType, prompt string) *Task {
	return &Task{
		ID:        NewID(""),
		Type:      taskType,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
}

// NewID generates an id of the form <platform>-<unix-millis>-<suffix>.
// An empty platform yields a bare task-<millis>-<suffix> id.
func NewID(p Platform) string {
	prefix := "task"
	if p != "" {
		prefix = string(p)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}

// RenderPrompt returns the prompt with context entries prepended as
// "key: value" lines. Keys are sorted so the rendering is deterministic.
func (t *Task) RenderPrompt() string {
	if len(t.Context) == 0 {
		return t.Prompt
	}

	keys := make([]string, 0, len(t.Context))
	for k := range t.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(t.Context[k])
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(t.Prompt)
	return b.String()
}

// ChainID returns the chain id carried in task metadata, if any.
func (t *Task) ChainID() string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata["chain_id"]
}

// Result holds the terminal outcome of one submitted task.
// A result is never mutated after it is returned to the caller.
type Result struct {
	Task         *Task    `json:"task,omitempty"`
	TaskID       string   `json:"task_id"`
	Platform     Platform `json:"platform"`
	Output       string   `json:"output,omitempty"`
	Success      bool     `json:"success"`
	Status       Status   `json:"status"`
	Error        string   `json:"error,omitempty"`
	Model        string   `json:"model,omitempty"`
	TokensIn     int      `json:"tokens_in"`
	TokensOut    int      `json:"tokens_out"`
	FilesCreated []string `json:"files_created,omitempty"`
	ParseError   bool     `json:"parse_error,omitempty"`
	CostUSD      float64  `json:"cost_usd"`
}

// TokensUsed returns the total token count for the call.
func (r *Result) TokensUsed() int {
	return r.TokensIn + r.TokensOut
}

// Failure builds a failed result for the given task in the given terminal state.
func Failure(t *Task, p Platform, status Status, errText string) *Result {
	r := &Result{
		Task:     t,
		Platform: p,
		Success:  false,
		Status:   status,
		Error:    errText,
	}
	if t != nil {
		r.TaskID = t.ID
	}
	return r
}
