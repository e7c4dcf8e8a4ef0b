package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	otelmetrics "github.com/quantlab/dispatch/internal/adapter/otel"
	"github.com/quantlab/dispatch/internal/config"
	"github.com/quantlab/dispatch/internal/domain/task"
	"github.com/quantlab/dispatch/internal/port/events"
	"github.com/quantlab/dispatch/internal/port/provider"
	"github.com/quantlab/dispatch/internal/quota"
	"github.com/quantlab/dispatch/internal/router"
)

// ProviderFactory creates a scoped provider instance for one execution.
type ProviderFactory func(p task.Platform) (provider.Provider, error)

// Orchestrator routes tasks to providers and runs them with timeout
// enforcement, quota-aware routing, chain accounting, and lifecycle events.
type Orchestrator struct {
	router    *router.Router
	quota     *quota.Tracker
	chains    *ChainTracker
	events    events.Publisher
	metrics   *otelmetrics.Metrics // optional
	cfg       config.Orchestrator
	newScoped ProviderFactory
}

// NewOrchestrator creates an orchestrator backed by the global provider
// registry. chains, publisher, and metrics may be nil.
func NewOrchestrator(r *router.Router, tracker *quota.Tracker, chains *ChainTracker, publisher events.Publisher, metrics *otelmetrics.Metrics, cfg config.Orchestrator) *Orchestrator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	return &Orchestrator{
		router:    r,
		quota:     tracker,
		chains:    chains,
		events:    publisher,
		metrics:   metrics,
		cfg:       cfg,
		newScoped: provider.New,
	}
}

// SetProviderFactory overrides how provider instances are created.
func (o *Orchestrator) SetProviderFactory(f ProviderFactory) { o.newScoped = f }

// Router exposes the cost router for status surfaces.
func (o *Orchestrator) Router() *router.Router { return o.router }

// Quota exposes the quota tracker for status surfaces.
func (o *Orchestrator) Quota() *quota.Tracker { return o.quota }

// ExecuteSingle runs one task to completion. The platform hint on the task
// is honored when its quota admits; otherwise the cost router picks. A
// failed result is returned as a result, not an error: errors mean the
// task could not be started at all.
func (o *Orchestrator) ExecuteSingle(ctx context.Context, t *task.Task) (*task.Result, error) {
	platform, err := o.resolvePlatform(t)
	if err != nil {
		return nil, err
	}
	t.Platform = platform

	p, err := o.newScoped(platform)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", platform, err)
	}
	if err := p.Open(ctx); err != nil {
		return nil, fmt.Errorf("open provider %s: %w", platform, err)
	}
	defer func() {
		if err := p.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("provider close failed", "platform", platform, "error", err)
		}
	}()

	start := time.Now()
	o.publish(ctx, events.SubjectTaskSubmitted, t.ID, platform, "")
	if o.metrics != nil {
		o.metrics.TasksSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("platform", string(platform))))
	}

	id, err := p.Submit(ctx, t)
	if err != nil {
		o.publish(ctx, events.SubjectTaskFailed, t.ID, platform, err.Error())
		return nil, fmt.Errorf("submit to %s: %w", platform, err)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}

	res, err := p.Result(ctx, id, timeout)
	if err != nil {
		return nil, fmt.Errorf("await %s on %s: %w", id, platform, err)
	}

	if res.Success {
		if tier, ok := o.router.TierFor(platform); ok {
			res.CostUSD = tier.CostPerReq
		}
	}

	o.record(ctx, t, res, time.Since(start))
	return res, nil
}

// ExecuteBatch runs tasks concurrently, at most MaxParallel in flight.
// Each task fails independently; a start failure yields a failed result
// in that task's slot rather than aborting the batch.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, tasks []*task.Task) []*task.Result {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxParallel))
	results := make([]*task.Result, len(tasks))

	for i, t := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = task.Failure(t, t.Platform, task.StatusCancelled, err.Error())
			continue
		}
		go func(i int, t *task.Task) {
			defer sem.Release(1)
			res, err := o.ExecuteSingle(ctx, t)
			if err != nil {
				res = task.Failure(t, t.Platform, task.StatusFailed, err.Error())
			}
			results[i] = res
		}(i, t)
	}

	// Draining the semaphore waits for every in-flight task.
	if err := sem.Acquire(context.WithoutCancel(ctx), int64(o.cfg.MaxParallel)); err == nil {
		sem.Release(int64(o.cfg.MaxParallel))
	}
	return results
}

// QuotaWarnings returns human-readable warnings for quota keys past the
// configured threshold.
func (o *Orchestrator) QuotaWarnings(thresholdPct float64) []string {
	return o.router.WarnQuotaThreshold(o.quota, thresholdPct)
}

func (o *Orchestrator) resolvePlatform(t *task.Task) (task.Platform, error) {
	return o.router.RouteCostOptimized(t, o.quota)
}

func (o *Orchestrator) record(ctx context.Context, t *task.Task, res *task.Result, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("platform", string(res.Platform)),
		attribute.String("status", string(res.Status)),
	)

	if res.Success {
		o.publish(ctx, events.SubjectTaskCompleted, res.TaskID, res.Platform, "")
		if o.metrics != nil {
			o.metrics.TasksCompleted.Add(ctx, 1, attrs)
		}
	} else {
		o.publish(ctx, events.SubjectTaskFailed, res.TaskID, res.Platform, res.Error)
		if o.metrics != nil {
			o.metrics.TasksFailed.Add(ctx, 1, attrs)
		}
	}
	if o.metrics != nil {
		o.metrics.TaskDuration.Record(ctx, elapsed.Seconds(), attrs)
		o.metrics.TaskCost.Record(ctx, res.CostUSD, attrs)
	}

	if o.chains != nil {
		if chainID := t.ChainID(); chainID != "" {
			o.chains.RecordTask(ctx, chainID, res.TaskID, res.CostUSD, res.TokensUsed())
		}
	}

	slog.Info("task finished",
		"task_id", res.TaskID,
		"platform", res.Platform,
		"status", res.Status,
		"success", res.Success,
		"duration", elapsed.Round(time.Millisecond),
		"cost_usd", res.CostUSD,
	)
}

func (o *Orchestrator) publish(ctx context.Context, subject, taskID string, platform task.Platform, errText string) {
	payload := map[string]string{
		"task_id":  taskID,
		"platform": string(platform),
	}
	if errText != "" {
		payload["error"] = errText
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := o.events.Publish(ctx, subject, data); err != nil {
		slog.Warn("event publish failed", "subject", subject, "error", err)
	}
}
