package testutil

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// ControlCall records a Control invocation on a FakeScheduler.
type ControlCall struct {
	JobID  string
	Action job.Action
}

// FakeScheduler is an in-memory job.Scheduler with programmable job states.
// Jobs start QUEUED_ACTIVE (USER_ON_HOLD when submitted in hold state) and
// only change when a test drives them or a control action is applied.
type FakeScheduler struct {
	mu          sync.Mutex
	nextID      int
	reports     map[string]*job.Report
	templates   map[string]*job.Template
	queries     map[string]int
	controls    []ControlCall
	unavailable bool
	rejectBulk  bool
	stateDelay  time.Duration
	closed      bool
	attributes  []string
	identity    string
}

// NewFakeScheduler returns a scheduler that supports every attribute.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{
		nextID:     100,
		reports:    make(map[string]*job.Report),
		templates:  make(map[string]*job.Template),
		queries:    make(map[string]int),
		attributes: job.AttributeNames(),
		identity:   "fake 1.0",
	}
}

// Connector returns a job.Connector that always yields f.
func (f *FakeScheduler) Connector() job.Connector {
	return func(ctx context.Context, contact string) (job.Scheduler, error) {
		if contact == "unreachable" {
			return nil, apperrors.Connection("connect", errors.New("no route to scheduler"))
		}
		f.mu.Lock()
		f.closed = false
		f.mu.Unlock()
		return f, nil
	}
}

// Submit implements job.Scheduler.
func (f *FakeScheduler) Submit(ctx context.Context, tmpl *job.Template) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return "", apperrors.Connection("fake.submit", errors.New("scheduler unavailable"))
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.register(id, tmpl)
	return id, nil
}

// SubmitBulk implements job.Scheduler.
func (f *FakeScheduler) SubmitBulk(ctx context.Context, tmpl *job.Template, r job.Range) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, apperrors.Connection("fake.submit", errors.New("scheduler unavailable"))
	}
	if f.rejectBulk {
		return nil, apperrors.Internal("fake.submit", errors.New("array job rejected"))
	}
	f.nextID++
	arrayID := f.nextID
	ids := make([]string, 0, len(r.Indices()))
	for _, idx := range r.Indices() {
		id := fmt.Sprintf("%d_%d", arrayID, idx)
		f.register(id, tmpl)
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *FakeScheduler) register(id string, tmpl *job.Template) {
	status := job.QueuedActive
	if tmpl.Value(job.AttrJobSubmissionState) == job.StateHold {
		status = job.UserOnHold
	}
	f.reports[id] = &job.Report{Status: status}
	f.templates[id] = tmpl.Clone()
}

// State implements job.Scheduler.
func (f *FakeScheduler) State(ctx context.Context, jobID string) (*job.Report, error) {
	f.mu.Lock()
	delay := f.stateDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, apperrors.Connection("fake.state", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[jobID]++
	if f.unavailable {
		return nil, apperrors.Connection("fake.state", errors.New("scheduler unavailable"))
	}
	r, ok := f.reports[jobID]
	if !ok {
		return nil, apperrors.UnknownJob(jobID)
	}
	return r.Clone(), nil
}

// Control implements job.Scheduler. Actions move the job to the status a
// real scheduler would report next.
func (f *FakeScheduler) Control(ctx context.Context, jobID string, action job.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return apperrors.Connection("fake.control", errors.New("scheduler unavailable"))
	}
	r, ok := f.reports[jobID]
	if !ok {
		return apperrors.UnknownJob(jobID)
	}
	f.controls = append(f.controls, ControlCall{JobID: jobID, Action: action})

	switch action {
	case job.Suspend:
		r.Status = job.UserSuspended
	case job.Resume:
		r.Status = job.Running
	case job.Hold:
		r.Status = job.UserOnHold
	case job.Release:
		r.Status = job.QueuedActive
	case job.Terminate:
		r.Status = job.Failed
		r.Signaled = true
		r.TerminatingSignal = "SIGTERM"
	}
	return nil
}

// Identity implements job.Scheduler.
func (f *FakeScheduler) Identity(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return "", apperrors.Connection("fake.identity", errors.New("scheduler unavailable"))
	}
	return f.identity, nil
}

// Attributes implements job.Scheduler.
func (f *FakeScheduler) Attributes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attributes...)
}

// Ready implements job.Scheduler.
func (f *FakeScheduler) Ready(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return apperrors.Connection("fake.ready", errors.New("scheduler unavailable"))
	}
	return nil
}

// Close implements job.Scheduler.
func (f *FakeScheduler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// SetStatus sets the status reported for jobID, adding the job if needed.
func (f *FakeScheduler) SetStatus(jobID string, status job.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reports[jobID]; ok {
		r.Status = status
		return
	}
	f.reports[jobID] = &job.Report{Status: status}
}

// Finish marks jobID DONE with the given exit code.
func (f *FakeScheduler) Finish(jobID string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[jobID] = &job.Report{
		Status:        job.Done,
		Exited:        true,
		ExitStatus:    exitCode,
		ResourceUsage: map[string]string{"wallclock": "1"},
	}
}

// Forget drops jobID, as a scheduler does once its accounting expires.
func (f *FakeScheduler) Forget(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reports, jobID)
}

// SetUnavailable makes every call fail with a connection error.
func (f *FakeScheduler) SetUnavailable(unavailable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = unavailable
}

// RejectBulk makes SubmitBulk fail without creating any job.
func (f *FakeScheduler) RejectBulk(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectBulk = reject
}

// SetStateDelay delays every State call.
func (f *FakeScheduler) SetStateDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateDelay = d
}

// SetAttributes restricts the supported attribute names.
func (f *FakeScheduler) SetAttributes(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attributes = names
}

// Queries returns how often State was called for jobID.
func (f *FakeScheduler) Queries(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[jobID]
}

// Controls returns the recorded Control calls.
func (f *FakeScheduler) Controls() []ControlCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ControlCall(nil), f.controls...)
}

// Template returns the template the scheduler received for jobID.
func (f *FakeScheduler) Template(jobID string) *job.Template {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.templates[jobID]
}

// JobCount returns the number of jobs the scheduler knows.
func (f *FakeScheduler) JobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

// Closed reports whether Close was called since the last connect.
func (f *FakeScheduler) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
