package job

import (
	"fmt"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"jobsession/pkg/cloudevent"
)

// Event types for job lifecycle notifications
const (
	EventTypeSubmitted = "drmaa.job.submitted"
	EventTypeStatus    = "drmaa.job.status"
	EventTypeFinished  = "drmaa.job.finished"
)

// FilteredEvents returns true if the event type should be sent based on the filter.
// Filter entries are exact types or glob patterns such as "drmaa.job.*".
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.ContainsFunc(filter, func(pattern string) bool {
		ok, err := doublestar.Match(pattern, eventType)
		return err == nil && ok
	})
}

// EventBuilder builds CloudEvents for job lifecycle events.
type EventBuilder struct {
	source  string
	contact string
}

// NewEventBuilder creates a new EventBuilder. contact is copied into every
// event so consumers can tell sessions apart.
func NewEventBuilder(source, contact string) *EventBuilder {
	return &EventBuilder{
		source:  source,
		contact: contact,
	}
}

// Build creates a new CloudEvent with the given type and data.
func (b *EventBuilder) Build(eventType, jobID string, data map[string]any) *cloudevent.CloudEvent {
	eventID := fmt.Sprintf("%s-%d", jobID, time.Now().UnixNano())
	data["jobId"] = jobID
	data["contact"] = b.contact
	return cloudevent.New(eventType, b.source, jobID, eventID, data)
}

// BuildSubmittedEvent creates a job submitted event.
func (b *EventBuilder) BuildSubmittedEvent(jobID string) *cloudevent.CloudEvent {
	return b.Build(EventTypeSubmitted, jobID, map[string]any{})
}

// BuildStatusEvent creates a status change event, or a finished event
// carrying the exit details when the new status is terminal.
func (b *EventBuilder) BuildStatusEvent(change StatusChange) *cloudevent.CloudEvent {
	data := map[string]any{
		"previousStatus": change.From.String(),
		"status":         change.To.String(),
		"observedAt":     change.At.UTC().Format(time.RFC3339Nano),
	}
	if !change.To.IsTerminal() {
		return b.Build(EventTypeStatus, change.JobID, data)
	}

	if r := change.Report; r != nil {
		data["exited"] = r.Exited
		data["exitStatus"] = r.ExitStatus
		data["signaled"] = r.Signaled
		if r.TerminatingSignal != "" {
			data["terminatingSignal"] = r.TerminatingSignal
		}
		data["aborted"] = r.Aborted
		if len(r.ResourceUsage) > 0 {
			data["resourceUsage"] = r.ResourceUsage
		}
	}
	return b.Build(EventTypeFinished, change.JobID, data)
}
