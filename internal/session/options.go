package session

import (
	"context"
	"time"

	"jobsession/internal/config"
	"jobsession/internal/job"
	"jobsession/pkg/backoff"
)

// Recorder receives session metrics. *observability.Metrics implements it.
type Recorder interface {
	RecordJobsSubmitted(ctx context.Context, count int, bulk bool)
	RecordJobFinished(ctx context.Context, status job.Status, runtime time.Duration)
	RecordSchedulerQuery(ctx context.Context, success bool)
	RecordWait(ctx context.Context, op, outcome string, duration time.Duration)
	RecordControl(ctx context.Context, action job.Action, success bool)
}

// Notifier is told about submissions and observed status changes. Calls
// happen on the caller's goroutine and must not block.
type Notifier interface {
	JobSubmitted(ctx context.Context, jobID string)
	StatusChanged(ctx context.Context, change job.StatusChange)
}

type options struct {
	poll             backoff.Config
	queryRate        float64
	breakerThreshold int
	breakerCooldown  time.Duration
	lossWindow       time.Duration
	categories       *config.Categories
	recorder         Recorder
	notifier         Notifier
}

func defaultOptions() options {
	return options{
		poll: backoff.Config{
			Initial:    500 * time.Millisecond,
			Max:        4 * time.Second,
			Multiplier: 2,
		},
		queryRate:        20,
		breakerThreshold: 5,
		breakerCooldown:  5 * time.Second,
		lossWindow:       5 * time.Minute,
		categories:       &config.Categories{},
		recorder:         nopRecorder{},
		notifier:         nopNotifier{},
	}
}

// Option configures a Session.
type Option func(*options)

// WithPollSchedule sets the wait polling interval and its cap.
func WithPollSchedule(initial, max time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.poll.Initial = initial
		}
		if max > 0 {
			o.poll.Max = max
		}
	}
}

// WithQueryRate bounds scheduler status queries per second. Zero or less
// disables the limit.
func WithQueryRate(perSecond float64) Option {
	return func(o *options) {
		o.queryRate = perSecond
	}
}

// WithBreakerThreshold sets how many consecutive connection failures open
// the scheduler circuit.
func WithBreakerThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.breakerThreshold = n
		}
	}
}

// WithBreakerCooldown sets how long an open circuit rejects calls before
// probing the scheduler again.
func WithBreakerCooldown(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.breakerCooldown = d
		}
	}
}

// WithLossWindow sets how long the scheduler must fail every call before
// the session is invalidated.
func WithLossWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lossWindow = d
		}
	}
}

// WithCategories sets the job categories used by drmaa_job_category.
func WithCategories(c *config.Categories) Option {
	return func(o *options) {
		if c != nil {
			o.categories = c
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithNotifier sets the status change notifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordJobsSubmitted(context.Context, int, bool) {}
func (nopRecorder) RecordJobFinished(context.Context, job.Status, time.Duration) {}
func (nopRecorder) RecordSchedulerQuery(context.Context, bool) {}
func (nopRecorder) RecordWait(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordControl(context.Context, job.Action, bool) {}

type nopNotifier struct{}

func (nopNotifier) JobSubmitted(context.Context, string) {}
func (nopNotifier) StatusChanged(context.Context, job.StatusChange) {}
