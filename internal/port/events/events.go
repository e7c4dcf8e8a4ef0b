// Package events defines the port interface for task lifecycle events.
package events

import "context"

// Subjects for lifecycle events.
const (
	SubjectTaskSubmitted  = "tasks.submitted"
	SubjectTaskCompleted  = "tasks.completed"
	SubjectTaskFailed     = "tasks.failed"
	SubjectHandoffCreated = "handoff.created"
)

// Publisher emits lifecycle events. Implementations must be safe for
// concurrent use; publishing is fire-and-forget from the caller's view.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Nop is a Publisher that drops everything. Used when no broker is configured.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(_ context.Context, _ string, _ []byte) error { return nil }
