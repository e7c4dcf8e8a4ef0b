package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantlab/dispatch/internal/domain/task"
)

// job is one in-flight unit of work: a cancellable future with an optional
// kill hook for genuinely parallel substrates (subprocesses).
type job struct {
	task     *task.Task
	platform task.Platform
	status   task.Status
	result   *task.Result
	errText  string
	done     chan struct{}
	cancel   context.CancelFunc
	kill     func()
}

// Jobs tracks the in-flight units of one provider instance. All three
// adapters share this table; it implements the async contract (status,
// await-with-timeout, cooperative cancellation) once.
type Jobs struct {
	mu   sync.Mutex
	jobs map[string]*job
}

// NewJobs creates an empty job table.
func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*job)}
}

// Start registers the task under id and runs fn on its own goroutine. The
// goroutine's context is detached from the submission context: Submit
// returns immediately while the unit keeps executing. fn must return a
// result in a terminal state; the table enforces that on the way out.
func (j *Jobs) Start(id string, t *task.Task, p task.Platform, run func(ctx context.Context) *task.Result) {
	ctx, cancel := context.WithCancel(context.Background())
	jb := &job{
		task:     t,
		platform: p,
		status:   task.StatusRunning,
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	j.mu.Lock()
	j.jobs[id] = jb
	j.mu.Unlock()

	go func() {
		defer cancel()
		res := run(ctx)

		j.mu.Lock()
		defer j.mu.Unlock()

		if jb.status.Terminal() {
			// Cancelled or timed out while running: the pre-set state wins.
			jb.result = task.Failure(t, p, jb.status, jb.errText)
		} else {
			if res == nil {
				res = task.Failure(t, p, task.StatusFailed, "provider returned no result")
			}
			if !res.Status.Terminal() {
				res.Status = task.StatusFailed
			}
			jb.status = res.Status
			jb.result = res
		}
		close(jb.done)
	}()
}

// RegisterKill attaches a kill hook to a running job, typically right after
// the underlying subprocess has started. If the job was already cancelled in
// the meantime the hook fires immediately so the unit does not leak.
func (j *Jobs) RegisterKill(id string, kill func()) {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	if ok && !jb.status.Terminal() {
		jb.kill = kill
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()

	if ok {
		kill()
	}
}

// Status reports the state of a job; unknown ids yield StatusUnknown.
func (j *Jobs) Status(id string) task.Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	jb, ok := j.jobs[id]
	if !ok {
		return task.StatusUnknown
	}
	return jb.status
}

// Await blocks until the job finishes, the timeout elapses, or ctx is done.
// On timeout it marks the job timed out, triggers best-effort cancellation
// without waiting for it, and returns a failed timeout result.
func (j *Jobs) Await(ctx context.Context, id string, timeout time.Duration) (*task.Result, error) {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return nil, ErrUnknownTask
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-jb.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return jb.result, nil

	case <-ctx.Done():
		return j.interrupt(jb, id, task.StatusCancelled,
			fmt.Sprintf("task %s abandoned: %v", id, ctx.Err())), nil

	case <-timer.C:
		return j.interrupt(jb, id, task.StatusTimeout,
			fmt.Sprintf("task %s timed out after %s", id, timeout)), nil
	}
}

// interrupt moves a job to a terminal state from the awaiting side and fires
// its kill hook without waiting for the unit to unwind.
func (j *Jobs) interrupt(jb *job, id string, status task.Status, errText string) *task.Result {
	j.mu.Lock()

	// The unit may have finished between the select firing and this lock.
	if jb.result != nil {
		defer j.mu.Unlock()
		return jb.result
	}
	if jb.status.Terminal() {
		defer j.mu.Unlock()
		return task.Failure(jb.task, jb.platform, jb.status, jb.errText)
	}

	jb.status = status
	jb.errText = errText
	kill := jb.kill
	cancel := jb.cancel
	res := task.Failure(jb.task, jb.platform, status, errText)
	j.mu.Unlock()

	if kill != nil {
		go kill()
	}
	cancel()
	return res
}

// Cancel terminates an in-flight job and waits for the unit to stop.
// Returns false for unknown or already-finished jobs.
func (j *Jobs) Cancel(id string) bool {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	if !ok || jb.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	jb.status = task.StatusCancelled
	jb.errText = "task cancelled"
	kill := jb.kill
	j.mu.Unlock()

	if kill != nil {
		kill()
	}
	jb.cancel()
	<-jb.done
	return true
}

// CancelAll cancels every in-flight job. Used on provider Close so a scoped
// instance never leaks running units.
func (j *Jobs) CancelAll() {
	j.mu.Lock()
	ids := make([]string, 0, len(j.jobs))
	for id, jb := range j.jobs {
		if !jb.status.Terminal() {
			ids = append(ids, id)
		}
	}
	j.mu.Unlock()

	for _, id := range ids {
		j.Cancel(id)
	}
}
