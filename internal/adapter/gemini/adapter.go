// Package gemini implements the provider port over the Gemini generateContent
// API, with quota admission bracketing every call.
package gemini

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
	"github.com/quantlab/dispatch/internal/quota"
	"github.com/quantlab/dispatch/internal/resilience"
)

const platformName = task.PlatformGemini

// Adapter executes tasks against the Gemini API under quota control: every
// submission reserves one slot and releases it exactly once, charged only
// when the call succeeded.
type Adapter struct {
	cfg        config.HostedProvider
	quotaKey   string
	tracker    *quota.Tracker
	httpClient *http.Client
	breaker    *resilience.Breaker
	jobs       *provider.Jobs
}

// New creates a Gemini adapter. tracker may be nil, which disables
// admission control (tests, unlimited accounts).
func New(cfg config.HostedProvider, quotaKey string, tracker *quota.Tracker) *Adapter {
	return &Adapter{
		cfg:      cfg,
		quotaKey: quotaKey,
		tracker:  tracker,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		jobs: provider.NewJobs(),
	}
}

// Register registers the Gemini provider factory.
func Register(cfg config.HostedProvider, quotaKey string, tracker *quota.Tracker, breaker *resilience.Breaker) {
	provider.Register(platformName, func() (provider.Provider, error) {
		a := New(cfg, quotaKey, tracker)
		a.breaker = breaker
		return a, nil
	})
}

// Platform returns "gemini".
func (a *Adapter) Platform() task.Platform { return platformName }

// Open verifies the API credential is present.
func (a *Adapter) Open(_ context.Context) error {
	if a.cfg.APIKey == "" {
		return fmt.Errorf("gemini: missing API key: %w", provider.ErrUnavailable)
	}
	return nil
}

// Close cancels every task still outstanding on this instance.
func (a *Adapter) Close(_ context.Context) error {
	a.jobs.CancelAll()
	a.httpClient.CloseIdleConnections()
	return nil
}

// Submit reserves a quota slot, then starts the API call in the background.
// A failed reservation fails the submission before any work begins.
func (a *Adapter) Submit(_ context.Context, t *task.Task) (string, error) {
	if a.cfg.APIKey == "" {
		return "", fmt.Errorf("gemini: missing API key: %w", provider.ErrUnavailable)
	}
	if a.tracker != nil && !a.tracker.Reserve(a.quotaKey) {
		return "", fmt.Errorf("gemini: quota %s exhausted", a.quotaKey)
	}

	id := task.NewID(platformName)
	a.jobs.Start(id, t, platformName, func(ctx context.Context) *task.Result {
		res := a.call(ctx, t)
		if a.tracker != nil {
			// Exactly one release per reservation, on every outcome path.
			a.tracker.Release(a.quotaKey, res.Success)
		}
		return res
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

type generateRequest struct {
	Contents         []content       `json:"contents"`
	GenerationConfig *generationConf `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConf struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (a *Adapter) call(ctx context.Context, t *task.Task) *task.Result {
	model := a.cfg.Model
	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: renderPrompt(t)}}}},
	}
	if t.Constraints != nil {
		if t.Constraints.Model != "" {
			model = t.Constraints.Model
		}
		if t.Constraints.MaxTokens > 0 || t.Constraints.Temperature > 0 {
			req.GenerationConfig = &generationConf{
				MaxOutputTokens: t.Constraints.MaxTokens,
				Temperature:     t.Constraints.Temperature,
			}
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return task.Failure(t, platformName, task.StatusFailed, fmt.Sprintf("marshal request: %v", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.cfg.BaseURL, model)

	var parsed generateResponse
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", a.cfg.APIKey)

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
			return fmt.Errorf("gemini API error %d: %s", resp.StatusCode, string(data))
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

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return task.Failure(t, platformName, task.StatusFailed, "gemini: response contained no candidates")
	}

	var out strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		out.WriteString(p.Text)
	}

	resultModel := parsed.ModelVersion
	if resultModel == "" {
		resultModel = model
	}

	return &task.Result{
		Task:      t,
		TaskID:    t.ID,
		Platform:  platformName,
		Output:    out.String(),
		Success:   true,
		Status:    task.StatusCompleted,
		Model:     resultModel,
		TokensIn:  parsed.UsageMetadata.PromptTokenCount,
		TokensOut: parsed.UsageMetadata.CandidatesTokenCount,
	}
}

// renderPrompt builds the final prompt with context files inlined.
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
