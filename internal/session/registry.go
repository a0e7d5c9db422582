package session

import (
	"sort"
	"sync"
	"time"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// maxTombstones bounds how many reaped job ids are remembered.
const maxTombstones = 4096

// jobEntry is the cached state of a submitted job.
type jobEntry struct {
	mu          sync.Mutex
	id          string
	seq         uint64
	submittedAt time.Time
	template    *job.Template
	status      job.Status
	report      *job.Report // set once terminal
	finishedAt  time.Time
	reaped      bool
}

// JobEntry is a point-in-time view of a tracked job.
type JobEntry struct {
	ID          string     `json:"id"`
	Status      job.Status `json:"status"`
	SubmittedAt time.Time  `json:"submittedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// registry tracks submitted jobs. The scheduler stays authoritative; the
// registry caches the last status seen and keeps terminal reports until
// they are reaped.
type registry struct {
	mu         sync.RWMutex
	jobs       map[string]*jobEntry
	seq        uint64
	tombstones map[string]job.Status
	tombOrder  []string
}

func newRegistry() *registry {
	return &registry{
		jobs:       make(map[string]*jobEntry),
		tombstones: make(map[string]job.Status),
	}
}

// add registers freshly submitted jobs with status UNDETERMINED.
func (r *registry) add(tmpl *job.Template, ids ...string) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		r.seq++
		r.jobs[id] = &jobEntry{
			id:          id,
			seq:         r.seq,
			submittedAt: now,
			template:    tmpl,
			status:      job.Undetermined,
		}
		delete(r.tombstones, id)
	}
}

func (r *registry) get(id string) (*jobEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	return e, ok
}

// reapedStatus returns the final status of a job whose result was consumed.
func (r *registry) reapedStatus(id string) (job.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.tombstones[id]
	return s, ok
}

// ids returns tracked job ids in submission order.
func (r *registry) ids() []string {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// list returns a view of every tracked job in submission order.
func (r *registry) list() []JobEntry {
	ids := r.ids()
	out := make([]JobEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.get(id); ok {
			out = append(out, e.view())
		}
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// reap consumes the terminal report of a job. It succeeds exactly once.
func (r *registry) reap(id string) (*job.Report, error) {
	e, ok := r.get(id)
	if !ok {
		if _, reaped := r.reapedStatus(id); reaped {
			return nil, apperrors.AlreadyReaped(id)
		}
		return nil, apperrors.UnknownJob(id)
	}

	e.mu.Lock()
	if e.reaped {
		e.mu.Unlock()
		return nil, apperrors.AlreadyReaped(id)
	}
	if e.report == nil {
		e.mu.Unlock()
		return nil, apperrors.Internal("reap", errNotFinished)
	}
	e.reaped = true
	report := e.report
	e.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[id] == e {
		delete(r.jobs, id)
	}
	r.tombstones[id] = report.Status
	r.tombOrder = append(r.tombOrder, id)
	for len(r.tombOrder) > maxTombstones {
		oldest := r.tombOrder[0]
		r.tombOrder = r.tombOrder[1:]
		if _, tracked := r.jobs[oldest]; !tracked {
			delete(r.tombstones, oldest)
		}
	}
	return report, nil
}

// observe records a status reported by the scheduler and returns the
// transition, if any. Terminal statuses are final.
func (e *jobEntry) observe(report *job.Report) (job.StatusChange, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.IsTerminal() || e.status == report.Status {
		return job.StatusChange{}, false
	}
	change := job.StatusChange{
		JobID: e.id,
		From:  e.status,
		To:    report.Status,
		At:    time.Now(),
	}
	e.status = report.Status
	if report.Status.IsTerminal() {
		e.report = report.Clone()
		e.finishedAt = change.At
		change.Report = e.report.Clone()
	}
	return change, true
}

// cached returns the terminal report if the job has finished.
func (e *jobEntry) cached() (*job.Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.report == nil {
		return nil, false
	}
	return e.report.Clone(), true
}

func (e *jobEntry) currentStatus() job.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *jobEntry) view() JobEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := JobEntry{ID: e.id, Status: e.status, SubmittedAt: e.submittedAt}
	if !e.finishedAt.IsZero() {
		finished := e.finishedAt
		v.FinishedAt = &finished
	}
	return v
}
