package observability

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"jobsession/internal/job"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests, waits and deliveries take
// - Traffic: Request, submission and query throughput
// - Errors: Rate of failures
// - Saturation: Tracked jobs and dispatcher queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Session metrics
	JobsSubmitted    metric.Int64Counter
	JobsFinished     metric.Int64Counter
	JobRuntime       metric.Float64Histogram
	SchedulerQueries metric.Int64Counter
	WaitDuration     metric.Float64Histogram
	ControlTotal     metric.Int64Counter
	JobsActive       metric.Int64ObservableGauge

	// Dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge

	tracked atomic.Pointer[func() int]
}

// NewMetrics creates and registers all metrics with a Prometheus exporter
// on the default registry.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	m, err := newMetrics(promclient.DefaultRegisterer, true)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// newMetrics builds the instruments on a meter provider exporting to reg.
// global also installs the provider as the otel default.
func newMetrics(reg promclient.Registerer, global bool) (*Metrics, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	if global {
		otel.SetMeterProvider(provider)
	}

	meter := provider.Meter("jobsession")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	// Session metrics
	m.JobsSubmitted, err = meter.Int64Counter(
		"jobsession_jobs_submitted_total",
		metric.WithDescription("Total number of jobs submitted"),
	)
	if err != nil {
		return nil, err
	}

	m.JobsFinished, err = meter.Int64Counter(
		"jobsession_jobs_finished_total",
		metric.WithDescription("Total number of jobs observed reaching a terminal status"),
	)
	if err != nil {
		return nil, err
	}

	m.JobRuntime, err = meter.Float64Histogram(
		"jobsession_job_runtime_seconds",
		metric.WithDescription("Time from submission until a terminal status was observed"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600, 14400, 86400),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerQueries, err = meter.Int64Counter(
		"jobsession_scheduler_queries_total",
		metric.WithDescription("Total number of scheduler status queries"),
	)
	if err != nil {
		return nil, err
	}

	m.WaitDuration, err = meter.Float64Histogram(
		"jobsession_wait_duration_seconds",
		metric.WithDescription("Time spent in wait and synchronize calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600),
	)
	if err != nil {
		return nil, err
	}

	m.ControlTotal, err = meter.Int64Counter(
		"jobsession_control_total",
		metric.WithDescription("Total number of job control requests"),
	)
	if err != nil {
		return nil, err
	}

	m.JobsActive, err = meter.Int64ObservableGauge(
		"jobsession_jobs_active",
		metric.WithDescription("Number of jobs tracked by the session (saturation)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if fn := m.tracked.Load(); fn != nil {
				o.Observe(int64((*fn)()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	// Dispatcher metrics
	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Event delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveTrackedJobs sets the function reporting the jobs_active gauge.
func (m *Metrics) ObserveTrackedJobs(fn func() int) {
	m.tracked.Store(&fn)
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobsSubmitted records accepted submissions.
func (m *Metrics) RecordJobsSubmitted(ctx context.Context, count int, bulk bool) {
	m.JobsSubmitted.Add(ctx, int64(count), metric.WithAttributes(attribute.Bool(attrBulk, bulk)))
}

// RecordJobFinished records a job observed reaching a terminal status.
func (m *Metrics) RecordJobFinished(ctx context.Context, status job.Status, runtime time.Duration) {
	attrs := metric.WithAttributes(jobStatusAttr(status))
	m.JobsFinished.Add(ctx, 1, attrs)
	m.JobRuntime.Record(ctx, runtime.Seconds(), attrs)
}

// RecordSchedulerQuery records one scheduler status query.
func (m *Metrics) RecordSchedulerQuery(ctx context.Context, success bool) {
	m.SchedulerQueries.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
}

// RecordWait records a finished wait or synchronize call.
func (m *Metrics) RecordWait(ctx context.Context, op, outcome string, duration time.Duration) {
	m.WaitDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordControl records a job control request.
func (m *Metrics) RecordControl(ctx context.Context, action job.Action, success bool) {
	m.ControlTotal.Add(ctx, 1, metric.WithAttributes(actionAttr(action), successAttr(success)))
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
