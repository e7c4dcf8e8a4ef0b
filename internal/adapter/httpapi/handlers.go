package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/quantlab/dispatch/internal/domain/task"
	"github.com/quantlab/dispatch/internal/port/provider"
	"github.com/quantlab/dispatch/internal/quota"
	"github.com/quantlab/dispatch/internal/router"
	"github.com/quantlab/dispatch/internal/service"
)

// Handlers bundles the services the HTTP surface exposes.
type Handlers struct {
	orchestrator *service.Orchestrator
	handoffs     *service.HandoffService
	tracker      *quota.Tracker
	warnPct      float64
}

// NewHandlers creates the handler set.
func NewHandlers(o *service.Orchestrator, h *service.HandoffService, tracker *quota.Tracker, warnPct float64) *Handlers {
	return &Handlers{
		orchestrator: o,
		handoffs:     h,
		tracker:      tracker,
		warnPct:      warnPct,
	}
}

type taskRequest struct {
	Type           string            `json:"type"`
	Prompt         string            `json:"prompt"`
	Platform       string            `json:"platform,omitempty"`
	Constraints    *task.Constraints `json:"constraints,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
	Files          []string          `json:"files,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

func (req taskRequest) toTask() *task.Task {
	t := task.New(req.Type, req.Prompt)
	t.Platform = task.Platform(req.Platform)
	t.Constraints = req.Constraints
	t.Context = req.Context
	t.Files = req.Files
	t.Metadata = req.Metadata
	if req.TimeoutSeconds > 0 {
		t.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	return t
}

// ExecuteTask runs one task to completion and returns its result.
func (h *Handlers) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[taskRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Prompt, "prompt") {
		return
	}
	if req.Platform != "" && !task.Platform(req.Platform).Valid() {
		writeError(w, http.StatusBadRequest, "unknown platform "+req.Platform)
		return
	}

	res, err := h.orchestrator.ExecuteSingle(r.Context(), req.toTask())
	if err != nil {
		switch {
		case errors.Is(err, router.ErrQuotasExhausted):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, provider.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeInternalError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type batchRequest struct {
	Tasks []taskRequest `json:"tasks"`
}

// ExecuteBatch runs a set of tasks concurrently and returns all results in
// submission order.
func (h *Handlers) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[batchRequest](w, r)
	if !ok {
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "tasks is required")
		return
	}

	tasks := make([]*task.Task, len(req.Tasks))
	for i, tr := range req.Tasks {
		if tr.Prompt == "" {
			writeError(w, http.StatusBadRequest, "every task needs a prompt")
			return
		}
		tasks[i] = tr.toTask()
	}

	results := h.orchestrator.ExecuteBatch(r.Context(), tasks)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// GetQuota reports usage per quota key.
func (h *Handlers) GetQuota(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.GetStatus())
}

// GetQuotaWarnings reports quota keys past the configured threshold.
func (h *Handlers) GetQuotaWarnings(w http.ResponseWriter, _ *http.Request) {
	warnings := h.orchestrator.QuotaWarnings(h.warnPct)
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

// GetChain returns accumulated cost and token usage for one chain.
func (h *Handlers) GetChain(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	c := h.handoffs.Chains().GetChain(id)
	if c == nil {
		writeError(w, http.StatusNotFound, "chain not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type handoffRequest struct {
	ParentResult     *task.Result `json:"parent_result"`
	ChildPrompt      string       `json:"child_prompt"`
	ChainID          string       `json:"chain_id,omitempty"`
	MaxSummaryLength int          `json:"max_summary_length,omitempty"`
}

type handoffResponse struct {
	ChildTask *task.Task            `json:"child_task"`
	Handoff   *chainHandoffEnvelope `json:"handoff"`
}

type chainHandoffEnvelope struct {
	MemoryID     string `json:"memory_id"`
	Summary      string `json:"summary"`
	ParentTaskID string `json:"parent_task_id"`
	ChainID      string `json:"chain_id"`
}

// CreateHandoff stores a parent result and returns a wired child task.
func (h *Handlers) CreateHandoff(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[handoffRequest](w, r)
	if !ok {
		return
	}
	if req.ParentResult == nil {
		writeError(w, http.StatusBadRequest, "parent_result is required")
		return
	}
	if !requireField(w, req.ChildPrompt, "child_prompt") {
		return
	}

	child, hctx, err := h.handoffs.SpawnChildTask(r.Context(), req.ParentResult, req.ChildPrompt, req.ChainID, req.MaxSummaryLength)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handoffResponse{
		ChildTask: child,
		Handoff: &chainHandoffEnvelope{
			MemoryID:     hctx.MemoryID,
			Summary:      hctx.Summary,
			ParentTaskID: hctx.ParentTaskID,
			ChainID:      hctx.ChainID,
		},
	})
}

// Health answers liveness probes.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
