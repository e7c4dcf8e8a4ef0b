package provider

import (
	"context"
	"testing"
	"time"

	"github.com/quantlab/dispatch/internal/domain/task"
)

func succeedAfter(d time.Duration, t *task.Task) func(context.Context) *task.Result {
	return func(ctx context.Context) *task.Result {
		select {
		case <-time.After(d):
			return &task.Result{Task: t, TaskID: t.ID, Success: true, Status: task.StatusCompleted, Output: "done"}
		case <-ctx.Done():
			return task.Failure(t, "", task.StatusCancelled, ctx.Err().Error())
		}
	}
}

func TestJobsCompleteAndStatus(t *testing.T) {
	jobs := NewJobs()
	tk := task.New("analysis", "hi")

	jobs.Start(tk.ID, tk, task.PlatformGemini, succeedAfter(10*time.Millisecond, tk))

	if st := jobs.Status(tk.ID); st != task.StatusRunning {
		t.Fatalf("expected running, got %s", st)
	}

	res, err := jobs.Await(context.Background(), tk.ID, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Status != task.StatusCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if st := jobs.Status(tk.ID); st != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", st)
	}
}

func TestJobsUnknownID(t *testing.T) {
	jobs := NewJobs()

	if st := jobs.Status("nope"); st != task.StatusUnknown {
		t.Fatalf("expected unknown, got %s", st)
	}
	if _, err := jobs.Await(context.Background(), "nope", time.Second); err == nil {
		t.Fatal("expected ErrUnknownTask")
	}
	if jobs.Cancel("nope") {
		t.Fatal("cancel of unknown id must return false")
	}
}

func TestJobsAwaitTimeout(t *testing.T) {
	jobs := NewJobs()
	tk := task.New("analysis", "hi")

	jobs.Start(tk.ID, tk, task.PlatformGemini, succeedAfter(5*time.Second, tk))

	start := time.Now()
	res, err := jobs.Await(context.Background(), tk.ID, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("await took %v, expected prompt timeout return", elapsed)
	}
	if res.Success {
		t.Fatal("timeout result must not be a success")
	}
	if res.Status != task.StatusTimeout {
		t.Fatalf("expected timeout status, got %s", res.Status)
	}
	if res.Error == "" {
		t.Fatal("timeout result must carry a descriptive error")
	}
}

func TestJobsCancel(t *testing.T) {
	jobs := NewJobs()
	tk := task.New("analysis", "hi")

	jobs.Start(tk.ID, tk, task.PlatformGemini, succeedAfter(5*time.Second, tk))

	if !jobs.Cancel(tk.ID) {
		t.Fatal("cancel of in-flight job must return true")
	}
	if st := jobs.Status(tk.ID); st != task.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", st)
	}
	if jobs.Cancel(tk.ID) {
		t.Fatal("second cancel must return false")
	}

	res, err := jobs.Await(context.Background(), tk.ID, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != task.StatusCancelled {
		t.Fatalf("expected cancelled result, got %s", res.Status)
	}
}

func TestJobsKillHookFires(t *testing.T) {
	jobs := NewJobs()
	tk := task.New("analysis", "hi")
	killed := make(chan struct{})

	jobs.Start(tk.ID, tk, task.PlatformClaudeCode, succeedAfter(5*time.Second, tk))
	jobs.RegisterKill(tk.ID, func() { close(killed) })

	jobs.Cancel(tk.ID)

	select {
	case <-killed:
	case <-time.After(time.Second):
		t.Fatal("kill hook did not fire on cancel")
	}
}

func TestJobsKillHookAfterCancelFiresImmediately(t *testing.T) {
	jobs := NewJobs()
	tk := task.New("analysis", "hi")

	jobs.Start(tk.ID, tk, task.PlatformClaudeCode, succeedAfter(5*time.Second, tk))
	jobs.Cancel(tk.ID)

	killed := make(chan struct{})
	jobs.RegisterKill(tk.ID, func() { close(killed) })

	select {
	case <-killed:
	case <-time.After(time.Second):
		t.Fatal("late kill hook must fire for a finished job")
	}
}

func TestJobsCancelAll(t *testing.T) {
	jobs := NewJobs()
	var ids []string
	for i := 0; i < 3; i++ {
		tk := task.New("analysis", "hi")
		jobs.Start(tk.ID, tk, task.PlatformGemini, succeedAfter(5*time.Second, tk))
		ids = append(ids, tk.ID)
	}

	jobs.CancelAll()

	for _, id := range ids {
		if st := jobs.Status(id); st != task.StatusCancelled {
			t.Fatalf("job %s: expected cancelled, got %s", id, st)
		}
	}
}
