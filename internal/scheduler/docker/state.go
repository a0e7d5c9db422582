package docker

import (
	"sync"
	"time"

	"jobsession/internal/apperrors"
)

// jobState holds what the backend knows about a job beyond its container.
type jobState struct {
	containerID string
	held        bool          // created in hold state and not yet released
	terminated  bool          // killed by a terminate request or the wallclock limit
	aborted     bool          // removed before it ever started
	abortedAt   time.Time     // when an aborted job was removed
	wallclock   time.Duration // hard wallclock limit, zero for none
}

// stateRepo manages job state with thread-safe access.
type stateRepo struct {
	mu   sync.RWMutex
	jobs map[string]*jobState
}

// newStateRepo creates a new state repository.
func newStateRepo() *stateRepo {
	return &stateRepo{
		jobs: make(map[string]*jobState),
	}
}

// reserve claims a job id while its container is being created. The slot
// holds nil until commit is called.
func (r *stateRepo) reserve(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[jobID]; exists {
		return apperrors.Conflict("job", jobID, "job already exists")
	}
	r.jobs[jobID] = nil
	return nil
}

// commit fills in a reserved slot with the actual job state.
func (r *stateRepo) commit(jobID string, js *jobState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[jobID] = js
}

// release removes a job from the repository. Returns the state if it existed.
func (r *stateRepo) release(jobID string) (*jobState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	js, exists := r.jobs[jobID]
	if exists {
		delete(r.jobs, jobID)
	}
	return js, exists
}

// get returns a copy of a job's state. Returns (nil, true) if reserved but
// not yet committed.
func (r *stateRepo) get(jobID string) (*jobState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	js, exists := r.jobs[jobID]
	if js == nil {
		return nil, exists
	}
	cp := *js
	return &cp, true
}

// update applies fn to a committed job's state. It reports false when the
// job is unknown or still reserved.
func (r *stateRepo) update(jobID string, fn func(*jobState)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	js := r.jobs[jobID]
	if js == nil {
		return false
	}
	fn(js)
	return true
}

// list returns copies of all committed job states keyed by id.
func (r *stateRepo) list() map[string]jobState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]jobState, len(r.jobs))
	for id, js := range r.jobs {
		if js != nil {
			result[id] = *js
		}
	}
	return result
}

// ids returns all job IDs, including reserved ones.
func (r *stateRepo) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	return ids
}
