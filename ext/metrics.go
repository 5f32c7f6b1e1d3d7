package ext

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/whoisdsmith/SmartFileOrganizer/group"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

const meterName = "github.com/whoisdsmith/SmartFileOrganizer/ext"

// MetricsExtension records engine-level lifecycle metrics using
// OpenTelemetry. It complements the per-execution middleware metrics
// with counters over the whole job lifecycle, including transitions
// that never reach a handler (queued, canceled before start).
//
// Instruments:
//   - batch.jobs.queued (Int64Counter), attribute: task
//   - batch.jobs.finished (Int64Counter), attributes: task, outcome
//     ("completed", "failed", "canceled")
//   - batch.jobs.retried (Int64Counter), attribute: task
//   - batch.groups.finished (Int64Counter), attribute: status
type MetricsExtension struct {
	queued   metric.Int64Counter
	finished metric.Int64Counter
	retried  metric.Int64Counter
	groups   metric.Int64Counter
}

// NewMetricsExtension creates the extension using the global OTel
// MeterProvider. Without a configured provider the instruments are
// noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates the extension with an explicit
// meter, for tests or multi-provider setups.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.queued, _ = meter.Int64Counter("batch.jobs.queued",
		metric.WithDescription("Jobs accepted into the scheduler"),
		metric.WithUnit("{job}"),
	)
	m.finished, _ = meter.Int64Counter("batch.jobs.finished",
		metric.WithDescription("Jobs that reached a terminal state"),
		metric.WithUnit("{job}"),
	)
	m.retried, _ = meter.Int64Counter("batch.jobs.retried",
		metric.WithDescription("Retry attempts scheduled"),
		metric.WithUnit("{retry}"),
	)
	m.groups, _ = meter.Int64Counter("batch.groups.finished",
		metric.WithDescription("Job groups that reached a terminal status"),
		metric.WithUnit("{group}"),
	)
	return m
}

// Name implements Extension.
func (m *MetricsExtension) Name() string { return "metrics" }

// OnJobQueued implements JobQueued.
func (m *MetricsExtension) OnJobQueued(ctx context.Context, j *job.Job) error {
	m.queued.Add(ctx, 1, metric.WithAttributes(attribute.String("task", j.Task)))
	return nil
}

// OnJobCompleted implements JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.addFinished(ctx, j, "completed")
	return nil
}

// OnJobFailed implements JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.addFinished(ctx, j, "failed")
	return nil
}

// OnJobCanceled implements JobCanceled.
func (m *MetricsExtension) OnJobCanceled(ctx context.Context, j *job.Job) error {
	m.addFinished(ctx, j, "canceled")
	return nil
}

// OnJobRetrying implements JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, metric.WithAttributes(attribute.String("task", j.Task)))
	return nil
}

// OnGroupFinished implements GroupFinished.
func (m *MetricsExtension) OnGroupFinished(ctx context.Context, _ *group.Group, status group.Status) error {
	m.groups.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	return nil
}

func (m *MetricsExtension) addFinished(ctx context.Context, j *job.Job, outcome string) {
	m.finished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", j.Task),
		attribute.String("outcome", outcome),
	))
}
