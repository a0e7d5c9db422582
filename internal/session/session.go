// Package session implements the job session engine: session lifecycle,
// job templates, submission, status polling, wait and synchronize, and job
// control against a job.Scheduler.
//
// # Exit policy
//
// Exit fails fast and then drains. It marks the session inactive so new
// calls return NotActive, cancels every in-flight scheduler call and wait
// (those callers also get NotActive), waits until they have all returned,
// and only then closes the scheduler connection.
//
// # Connection loss
//
// Consecutive connection failures are counted by a circuit breaker. While
// it is open, calls fail fast with a connection error that waits keep
// retrying within their own timeout; after the cooldown one call probes
// the scheduler again. The session is invalidated only when the scheduler
// has failed every call for the whole loss window. Invalidation uses the
// same teardown as Exit, performed in the background, and a fresh Init is
// required afterwards.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
	"jobsession/pkg/circuitbreaker"
)

// DRMAA version implemented by the session.
const (
	VersionMajor = 1
	VersionMinor = 0
)

const implementation = "jobsession DRMAA 1.0"

var errNotFinished = errors.New("job has not finished")

// Session is a job session bound to one scheduler at a time. It is safe
// for concurrent use.
type Session struct {
	connect job.Connector
	opts    options
	logger  *slog.Logger

	lifecycle sync.Mutex // serializes Init and Exit
	mu        sync.RWMutex
	conn      *connection
}

// connection holds everything that lives between Init and Exit.
type connection struct {
	contact   string
	scheduler job.Scheduler
	supported map[string]bool
	templates *templateStore
	registry  *registry
	limiter   *rate.Limiter
	breaker   *circuitbreaker.Breaker
	opts      *options
	logger    *slog.Logger
	lost      func()

	healthMu     sync.Mutex
	failingSince time.Time // zero while the scheduler answers

	ctx       context.Context // cancelled on teardown
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates an inactive session that opens schedulers with connect.
func New(connect job.Connector, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Session{
		connect: connect,
		opts:    o,
		logger:  slog.With("component", "session"),
	}
}

// Init connects to the scheduler named by contact.
func (s *Session) Init(ctx context.Context, contact string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.RLock()
	current := s.conn
	s.mu.RUnlock()
	if current != nil {
		return apperrors.AlreadyActive(current.contact)
	}

	sched, err := s.connect(ctx, contact)
	if err != nil {
		if !errors.Is(err, apperrors.ErrConnection) {
			err = apperrors.Connection("init", err)
		}
		s.logger.Warn("Scheduler connection failed", "contact", contact, "error", err)
		return err
	}
	if err := sched.Ready(ctx); err != nil {
		_ = sched.Close()
		if !errors.Is(err, apperrors.ErrConnection) {
			err = apperrors.Connection("init", err)
		}
		s.logger.Warn("Scheduler not ready", "contact", contact, "error", err)
		return err
	}

	c := s.newConnection(contact, sched)

	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()

	s.logger.Info("Session initialized", "contact", contact)
	return nil
}

func (s *Session) newConnection(contact string, sched job.Scheduler) *connection {
	limit := rate.Inf
	burst := 1
	if s.opts.queryRate > 0 {
		limit = rate.Limit(s.opts.queryRate)
		burst = max(1, int(s.opts.queryRate))
	}

	supported := make(map[string]bool)
	for _, name := range sched.Attributes() {
		supported[name] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		contact:   contact,
		scheduler: sched,
		supported: supported,
		templates: newTemplateStore(),
		registry:  newRegistry(),
		limiter:   rate.NewLimiter(limit, burst),
		opts:      &s.opts,
		logger:    s.logger.With("contact", contact),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.lost = func() { s.invalidate(c) }
	c.breaker = circuitbreaker.New(circuitbreaker.Config{
		Threshold: s.opts.breakerThreshold,
		Cooldown:  s.opts.breakerCooldown,
		IsFailure: apperrors.IsTransient,
		OnStateChange: func(from, to circuitbreaker.State) {
			c.logger.Warn("Scheduler circuit changed", "from", from, "to", to)
		},
	})
	return c
}

// Exit tears the session down. Templates and tracked jobs are discarded;
// submitted jobs keep running in the scheduler.
func (s *Session) Exit(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()

	if c == nil {
		return apperrors.NotActive()
	}

	err := c.shutdown(ctx)
	s.logger.Info("Session exited", "contact", c.contact)
	return err
}

// invalidate drops c after the scheduler connection was lost.
func (s *Session) invalidate(c *connection) {
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	s.logger.Error("Scheduler connection lost, session invalidated", "contact", c.contact)
	go func() {
		if err := c.shutdown(context.Background()); err != nil {
			s.logger.Warn("Scheduler close failed", "contact", c.contact, "error", err)
		}
	}()
}

// shutdown cancels in-flight work, waits for it to return, then closes the
// scheduler. If ctx ends first the close still happens once drained.
func (c *connection) shutdown(ctx context.Context) error {
	c.cancel()

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		c.close()
		close(drained)
	}()

	select {
	case <-drained:
		return c.closeErr
	case <-ctx.Done():
		c.logger.Warn("Exit returned before in-flight operations drained")
		return ctx.Err()
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.closeErr = c.scheduler.Close()
	})
}

// enter registers an in-flight operation. Callers must call leave.
func (s *Session) enter() (*connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, apperrors.NotActive()
	}
	s.conn.inflight.Add(1)
	return s.conn, nil
}

func (c *connection) leave() {
	c.inflight.Done()
}

// call runs fn against the scheduler. The context passed to fn is
// cancelled when the session is torn down. Connection failures feed the
// breaker; caller cancellation does not.
func (c *connection) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	var callErr error
	err := c.breaker.Do(func() error {
		callErr = fn(ctx)
		if callErr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return callErr
	})

	switch {
	case err == nil:
		c.reachable()
		return nil
	case c.ctx.Err() != nil:
		return apperrors.NotActive()
	case errors.Is(err, circuitbreaker.ErrOpen):
		c.unreachable()
		return apperrors.Connection("scheduler", err)
	case ctx.Err() != nil:
		return ctx.Err()
	case apperrors.IsTransient(callErr):
		c.unreachable()
	default:
		c.reachable()
	}
	return callErr
}

// reachable records that the scheduler answered.
func (c *connection) reachable() {
	c.healthMu.Lock()
	c.failingSince = time.Time{}
	c.healthMu.Unlock()
}

// unreachable records a connection failure and drops the session once
// failures have lasted the whole loss window.
func (c *connection) unreachable() {
	c.healthMu.Lock()
	now := time.Now()
	if c.failingSince.IsZero() {
		c.failingSince = now
	}
	lost := now.Sub(c.failingSince) >= c.opts.lossWindow
	c.healthMu.Unlock()

	if lost {
		c.lost()
	}
}

// Contact returns the contact string of the active connection.
func (s *Session) Contact() (string, error) {
	c, err := s.enter()
	if err != nil {
		return "", err
	}
	defer c.leave()
	return c.contact, nil
}

// DRMSInfo returns the scheduler's identity string.
func (s *Session) DRMSInfo(ctx context.Context) (string, error) {
	c, err := s.enter()
	if err != nil {
		return "", err
	}
	defer c.leave()

	var info string
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.scheduler.Identity(ctx)
		return err
	})
	return info, err
}

// Version returns the DRMAA version implemented by the session.
func (s *Session) Version() (major, minor int) {
	return VersionMajor, VersionMinor
}

// Implementation describes this implementation.
func (s *Session) Implementation() string {
	return implementation
}

// Active reports whether the session is initialized.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Ready checks that the session is active and the scheduler reachable.
func (s *Session) Ready(ctx context.Context) error {
	c, err := s.enter()
	if err != nil {
		return err
	}
	defer c.leave()
	return c.call(ctx, c.scheduler.Ready)
}

// AttributeNames lists the scalar attributes the scheduler supports.
func (s *Session) AttributeNames() ([]string, error) {
	scalar, _, err := s.attributeNames()
	return scalar, err
}

// VectorAttributeNames lists the vector attributes the scheduler supports.
func (s *Session) VectorAttributeNames() ([]string, error) {
	_, vector, err := s.attributeNames()
	return vector, err
}

func (s *Session) attributeNames() (scalar, vector []string, err error) {
	c, err := s.enter()
	if err != nil {
		return nil, nil, err
	}
	defer c.leave()

	var names []string
	for _, name := range job.AttributeNames() {
		if c.supported[name] {
			names = append(names, name)
		}
	}
	scalar, vector = job.SplitAttributeNames(names)
	return scalar, vector, nil
}

// Jobs lists the jobs tracked by the session in submission order.
func (s *Session) Jobs() ([]JobEntry, error) {
	c, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer c.leave()
	return c.registry.list(), nil
}

// Tracked returns the number of tracked jobs, zero when inactive.
func (s *Session) Tracked() int {
	c, err := s.enter()
	if err != nil {
		return 0
	}
	defer c.leave()
	return c.registry.len()
}
