// Package claudecode implements the provider port over the local Claude Code
// CLI, running each task as an OS subprocess.
package claudecode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/quantlab/dispatch/internal/config"
	"github.com/quantlab/dispatch/internal/domain/task"
	"github.com/quantlab/dispatch/internal/port/provider"
)

const platformName = task.PlatformClaudeCode

// cliOutput is the structured stdout contract of the CLI. All fields are
// optional; unparseable stdout downgrades to raw text, not failure.
type cliOutput struct {
	Response     string   `json:"response"`
	Model        string   `json:"model"`
	FilesCreated []string `json:"files_created"`
}

// Adapter executes tasks by spawning the configured CLI binary.
type Adapter struct {
	binary  string
	workDir string
	jobs    *provider.Jobs
}

// New creates a Claude Code adapter from provider config.
func New(cfg config.CLIProvider) *Adapter {
	return &Adapter{
		binary:  cfg.Binary,
		workDir: cfg.WorkDir,
		jobs:    provider.NewJobs(),
	}
}

// Register registers the Claude Code provider factory.
func Register(cfg config.CLIProvider) {
	provider.Register(platformName, func() (provider.Provider, error) {
		return New(cfg), nil
	})
}

// Platform returns "claude_code".
func (a *Adapter) Platform() task.Platform { return platformName }

// Open verifies the CLI binary is on PATH.
func (a *Adapter) Open(_ context.Context) error {
	if _, err := exec.LookPath(a.binary); err != nil {
		return fmt.Errorf("claudecode: binary %q not found: %w", a.binary, provider.ErrUnavailable)
	}
	return nil
}

// Close kills every subprocess still outstanding on this instance.
func (a *Adapter) Close(_ context.Context) error {
	a.jobs.CancelAll()
	return nil
}

// Submit spawns the subprocess in the background and returns a task id.
// The kill hook is registered as soon as the process starts, so cancellation
// terminates the real OS process rather than abandoning it.
func (a *Adapter) Submit(_ context.Context, t *task.Task) (string, error) {
	if _, err := exec.LookPath(a.binary); err != nil {
		return "", fmt.Errorf("claudecode: binary %q not found: %w", a.binary, provider.ErrUnavailable)
	}

	id := task.NewID(platformName)
	a.jobs.Start(id, t, platformName, func(ctx context.Context) *task.Result {
		return a.run(ctx, id, t)
	})
	return id, nil
}

// Status reports the state of a submitted task.
func (a *Adapter) Status(_ context.Context, taskID string) task.Status {
	return a.jobs.Status(taskID)
}

// Result awaits completion up to timeout.
func (a *Adapter) Result(ctx context.Context, taskID string, timeout time.Duration) (*task.Result, error) {
	return a.jobs.Await(ctx, taskID, timeout)
}

// Cancel kills the subprocess and waits for it to be reaped.
func (a *Adapter) Cancel(_ context.Context, taskID string) (bool, error) {
	return a.jobs.Cancel(taskID), nil
}

func (a *Adapter) run(ctx context.Context, id string, t *task.Task) *task.Result {
	args := []string{"-p", t.RenderPrompt(), "--output-format", "json"}
	if t.Constraints != nil && t.Constraints.Model != "" {
		args = append(args, "--model", t.Constraints.Model)
	}
	for _, f := range t.Files {
		args = append(args, "--file", f)
	}

	cmd := exec.Command(a.binary, args...) //nolint:gosec // G204: binary comes from config
	cmd.Dir = a.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return task.Failure(t, platformName, task.StatusFailed, fmt.Sprintf("start %s: %v", a.binary, err))
	}

	a.jobs.RegisterKill(id, func() { _ = cmd.Process.Kill() })

	err := cmd.Wait()
	if ctx.Err() != nil {
		return task.Failure(t, platformName, task.StatusCancelled, "subprocess killed")
	}
	if err != nil {
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = err.Error()
		}
		return task.Failure(t, platformName, task.StatusFailed, errText)
	}

	return parseOutput(t, stdout.String())
}

// parseOutput maps CLI stdout onto a result. Valid JSON yields the structured
// response; anything else still succeeds with the raw text and a parse_error
// flag, because parsing failure is not a task failure.
func parseOutput(t *task.Task, raw string) *task.Result {
	res := &task.Result{
		Task:     t,
		TaskID:   t.ID,
		Platform: platformName,
		Success:  true,
		Status:   task.StatusCompleted,
	}

	var parsed cliOutput
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		res.Output = strings.TrimSpace(raw)
		res.ParseError = true
		return res
	}

	res.Output = parsed.Response
	res.Model = parsed.Model
	res.FilesCreated = parsed.FilesCreated
	return res
}
