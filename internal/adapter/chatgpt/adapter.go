// Package chatgpt implements the provider port over an OpenAI-style
// chat completions API.
package chatgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/quantlab/dispatch/internal/config"
	"github.com/quantlab/dispatch/internal/domain/task"
	"github.com/quantlab/dispatch/internal/port/provider"
	"github.com/quantlab/dispatch/internal/resilience"
)

const platformName = task.PlatformChatGPT

// Adapter executes tasks against a hosted chat completions endpoint.
type Adapter struct {
	cfg        config.HostedProvider
	httpClient *http.Client
	breaker    *resilience.Breaker
	jobs       *provider.Jobs
}

// New creates a ChatGPT adapter from provider config.
func New(cfg config.HostedProvider) *Adapter {
	return &Adapter{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		jobs: provider.NewJobs(),
	}
}

// Register registers the ChatGPT provider factory. The breaker is shared
// across instances so failures accumulate per endpoint, not per task.
func Register(cfg config.HostedProvider, breaker *resilience.Breaker) {
	provider.Register(platformName, func() (provider.Provider, error) {
		a := New(cfg)
		a.breaker = breaker
		return a, nil
	})
}

// Platform returns "chatgpt".
func (a *Adapter) Platform() task.Platform { return platformName }

// Open verifies the API credential is present.
func (a *Adapter) Open(_ context.Context) error {
	if a.cfg.APIKey == "" {
		return fmt.Errorf("chatgpt: missing API key: %w", provider.ErrUnavailable)
	}
	return nil
}

// Close cancels every task still outstanding on this instance.
func (a *Adapter) Close(_ context.Context) error {
	a.jobs.CancelAll()
	a.httpClient.CloseIdleConnections()
	return nil
}

// Submit starts the API call in the background and returns a task id.
func (a *Adapter) Submit(_ context.Context, t *task.Task) (string, error) {
	if a.cfg.APIKey == "" {
		return "", fmt.Errorf("chatgpt: missing API key: %w", provider.ErrUnavailable)
	}

	id := task.NewID(platformName)
	a.jobs.Start(id, t, platformName, func(ctx context.Context) *task.Result {
		return a.call(ctx, t)
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

// Cancel aborts the in-flight request for the task.
func (a *Adapter) Cancel(_ context.Context, taskID string) (bool, error) {
	return a.jobs.Cancel(taskID), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// call performs the blocking API exchange. API and circuit failures become
// failed results, never raised errors, so batch callers keep going.
func (a *Adapter) call(ctx context.Context, t *task.Task) *task.Result {
	req := chatRequest{
		Model:    a.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: renderPrompt(t)}},
	}
	if t.Constraints != nil {
		if t.Constraints.Model != "" {
			req.Model = t.Constraints.Model
		}
		req.MaxTokens = t.Constraints.MaxTokens
		req.Temperature = t.Constraints.Temperature
	}

	body, err := json.Marshal(req)
	if err != nil {
		return task.Failure(t, platformName, task.StatusFailed, fmt.Sprintf("marshal request: %v", err))
	}

	var parsed chatResponse
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("chatgpt API error %d: %s", resp.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}

	if a.breaker != nil {
		err = a.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		status := task.StatusFailed
		if ctx.Err() != nil {
			status = task.StatusCancelled
		}
		return task.Failure(t, platformName, status, err.Error())
	}

	if len(parsed.Choices) == 0 {
		return task.Failure(t, platformName, task.StatusFailed, "chatgpt: response contained no choices")
	}

	return &task.Result{
		Task:      t,
		TaskID:    t.ID,
		Platform:  platformName,
		Output:    parsed.Choices[0].Message.Content,
		Success:   true,
		Status:    task.StatusCompleted,
		Model:     parsed.Model,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
	}
}

// renderPrompt builds the final prompt: context lines, the prompt itself,
// then any context files inlined (hosted APIs cannot take file flags).
func renderPrompt(t *task.Task) string {
	prompt := t.RenderPrompt()
	if len(t.Files) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	for _, path := range t.Files {
		b.WriteString("\n\n--- file: ")
		b.WriteString(path)
		b.WriteString(" ---\n")
		data, err := os.ReadFile(path) //nolint:gosec // G304: caller supplies task files
		if err != nil {
			fmt.Fprintf(&b, "(unreadable: %v)", err)
			continue
		}
		b.Write(data)
	}
	return b.String()
}
