// Package provider defines the provider port (interface) shared by all
// AI execution substrates, plus the in-flight job table they build on.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/quantlab/dispatch/internal/domain/task"
)

// ErrUnavailable indicates the underlying capability is missing: an absent
// CLI binary or API credential. Raised at construction or Open, never later.
var ErrUnavailable = errors.New("provider unavailable")

// ErrUnknownTask indicates a task id this provider instance never issued.
var ErrUnknownTask = errors.New("unknown task id")

// Provider is the port interface for one AI execution substrate. A provider
// is a scoped resource: Open acquires the underlying capability, Close
// cancels every task still outstanding on the instance and releases it.
type Provider interface {
	// Platform returns the platform this provider executes.
	Platform() task.Platform

	// Open prepares the underlying capability (HTTP client, CLI check).
	Open(ctx context.Context) error

	// Close cancels outstanding tasks and releases the capability.
	Close(ctx context.Context) error

	// Submit begins executing the task in the background and returns a
	// task id without blocking.
	Submit(ctx context.Context, t *task.Task) (string, error)

	// Status reports the state of a submitted task. Unrecognized ids
	// yield StatusUnknown.
	Status(ctx context.Context, taskID string) task.Status

	// Result awaits completion up to timeout. Exceeding the deadline
	// returns a failed timeout result and triggers best-effort
	// cancellation; it never retries. The only error is ErrUnknownTask.
	Result(ctx context.Context, taskID string, timeout time.Duration) (*task.Result, error)

	// Cancel terminates an in-flight task. True only when a pending unit
	// was found and actively stopped.
	Cancel(ctx context.Context, taskID string) (bool, error)
}
