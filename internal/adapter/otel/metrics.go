package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "dispatch"

// Metrics holds all dispatch metric instruments.
type Metrics struct {
	TasksSubmitted  metric.Int64Counter
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	HandoffsCreated metric.Int64Counter
	TaskDuration    metric.Float64Histogram
	TaskCost        metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("dispatch.tasks.submitted",
		metric.WithDescription("Number of tasks submitted"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("dispatch.tasks.completed",
		metric.WithDescription("Number of tasks completed successfully"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("dispatch.tasks.failed",
		metric.WithDescription("Number of tasks that failed, timed out, or were cancelled"))
	if err != nil {
		return nil, err
	}

	m.HandoffsCreated, err = meter.Int64Counter("dispatch.handoffs.created",
		metric.WithDescription("Number of handoff child tasks spawned"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("dispatch.task.duration_seconds",
		metric.WithDescription("Task execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.TaskCost, err = meter.Float64Histogram("dispatch.task.cost_usd",
		metric.WithDescription("Task cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
