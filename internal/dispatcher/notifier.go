package dispatcher

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"jobsession/internal/job"
	"jobsession/pkg/cloudevent"
)

// NotifierConfig configures the status-change webhook.
type NotifierConfig struct {
	URL        string   // webhook destination
	SigningKey string   // HMAC key, empty = unsigned
	Types      []string // event types to send, empty = all
	Source     string   // CloudEvents source attribute
	Contact    string   // session contact copied into every event
}

// Notifier turns session notifications into CloudEvents and dispatches them
// keyed by job id. Each event carries a per-job "sequence" extension so
// consumers can detect gaps.
type Notifier struct {
	d       Dispatcher
	cfg     NotifierConfig
	builder *job.EventBuilder
	logger  *slog.Logger

	mu  sync.Mutex
	seq map[string]uint64
}

// NewNotifier creates a notifier delivering through d.
func NewNotifier(d Dispatcher, cfg NotifierConfig) *Notifier {
	if cfg.Source == "" {
		cfg.Source = "jobsession/session"
	}
	return &Notifier{
		d:       d,
		cfg:     cfg,
		builder: job.NewEventBuilder(cfg.Source, cfg.Contact),
		logger:  slog.With("component", "notifier"),
		seq:     make(map[string]uint64),
	}
}

// JobSubmitted sends a submitted event.
func (n *Notifier) JobSubmitted(ctx context.Context, jobID string) {
	if !job.FilteredEvents(job.EventTypeSubmitted, n.cfg.Types) {
		return
	}
	n.send(jobID, n.builder.BuildSubmittedEvent(jobID), false)
}

// StatusChanged sends a status or finished event. The job's sequence is
// forgotten once it reaches a terminal status.
func (n *Notifier) StatusChanged(ctx context.Context, change job.StatusChange) {
	terminal := change.To.IsTerminal()
	eventType := job.EventTypeStatus
	if terminal {
		eventType = job.EventTypeFinished
	}
	if !job.FilteredEvents(eventType, n.cfg.Types) {
		if terminal {
			n.mu.Lock()
			delete(n.seq, change.JobID)
			n.mu.Unlock()
		}
		return
	}
	n.send(change.JobID, n.builder.BuildStatusEvent(change), terminal)
}

// send numbers and dispatches an event under the lock so events for one
// job enter their shard in sequence order.
func (n *Notifier) send(jobID string, event *cloudevent.CloudEvent, last bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq[jobID]++
	event.SetExtension("sequence", strconv.FormatUint(n.seq[jobID], 10))
	if last {
		delete(n.seq, jobID)
	}

	err := n.d.Dispatch(&Event{
		Payload:     event,
		Destination: n.cfg.URL,
		Key:         jobID,
		SigningKey:  n.cfg.SigningKey,
	})
	if err != nil {
		n.logger.Warn("Failed to dispatch event", "jobId", jobID, "type", event.Type, "error", err)
	}
}
