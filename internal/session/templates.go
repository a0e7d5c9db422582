package session

import (
	"container/heap"
	"sync"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// templateEntry guards a single template. Operations on distinct ids only
// contend on the store lock for the map lookup.
type templateEntry struct {
	mu   sync.Mutex
	tmpl *job.Template
}

// templateStore owns the session's job templates. Freed ids go back into
// a min-heap so the smallest one is handed out first.
type templateStore struct {
	mu      sync.Mutex
	entries map[int]*templateEntry
	free    freeIDs
	next    int
}

func newTemplateStore() *templateStore {
	s := &templateStore{entries: make(map[int]*templateEntry)}
	heap.Init(&s.free)
	return s
}

// allocate returns a fresh id with an empty template.
func (s *templateStore) allocate() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int
	if s.free.Len() > 0 {
		id = heap.Pop(&s.free).(int)
	} else {
		id = s.next
		s.next++
	}
	s.entries[id] = &templateEntry{tmpl: job.NewTemplate()}
	return id
}

// remove deletes a template and frees its id.
func (s *templateStore) remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return apperrors.InvalidTemplate(id)
	}
	delete(s.entries, id)
	heap.Push(&s.free, id)
	return nil
}

func (s *templateStore) get(id int) (*templateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, apperrors.InvalidTemplate(id)
	}
	return e, nil
}

// with runs fn with exclusive access to template id.
func (s *templateStore) with(id int, fn func(*job.Template) error) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.tmpl)
}

// snapshot returns a deep copy of template id.
func (s *templateStore) snapshot(id int) (*job.Template, error) {
	var c *job.Template
	err := s.with(id, func(t *job.Template) error {
		c = t.Clone()
		return nil
	})
	return c, err
}

func (s *templateStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// freeIDs satisfies heap.Interface.
type freeIDs []int

func (h freeIDs) Len() int           { return len(h) }
func (h freeIDs) Less(i, j int) bool { return h[i] < h[j] }
func (h freeIDs) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *freeIDs) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *freeIDs) Pop() any {
	old := *h
	n := len(old)
	id := old[n-1]
	*h = old[:n-1]
	return id
}
