package session

import (
	"context"
	"errors"
	"time"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
	"jobsession/pkg/backoff"
)

// Wait blocks until jobID finishes or timeout elapses and returns its exit
// information. job.WaitForever waits indefinitely and job.NoWait checks
// once. A successful Wait reaps the job: its result is consumed and a
// later Wait returns AlreadyReaped. When several callers wait on the same
// job, the first to reap it wins.
func (s *Session) Wait(ctx context.Context, jobID string, timeout time.Duration) (*job.Info, error) {
	c, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer c.leave()

	start := time.Now()
	_, tracked := c.registry.get(jobID)
	var report *job.Report
	err = c.pollUntil(ctx, "wait", timeout, func(ctx context.Context) (bool, error) {
		if _, ok := c.registry.get(jobID); !ok {
			if _, reaped := c.registry.reapedStatus(jobID); reaped {
				return false, apperrors.AlreadyReaped(jobID)
			}
		}
		r, err := c.status(ctx, jobID)
		if err != nil {
			return false, err
		}
		if !r.Status.IsTerminal() {
			return false, nil
		}
		report = r
		return true, nil
	})

	if err == nil && tracked {
		report, err = c.registry.reap(jobID)
	}
	c.opts.recorder.RecordWait(ctx, "wait", outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job reaped", "jobId", jobID, "status", report.Status)
	return job.NewInfo(jobID, report), nil
}

// Synchronize blocks until every targeted job finishes or timeout elapses.
// job.AllJobs expands to the jobs tracked when the call starts. On success
// with dispose set, every targeted job is reaped. On failure nothing is
// reaped, so results stay available to Wait.
func (s *Session) Synchronize(ctx context.Context, targets []job.Target, timeout time.Duration, dispose bool) error {
	if len(targets) == 0 {
		return apperrors.Validation("jobIds", "at least one job id is required")
	}

	c, err := s.enter()
	if err != nil {
		return err
	}
	defer c.leave()

	ids := c.expand(targets)
	start := time.Now()
	pending := ids
	err = c.pollUntil(ctx, "synchronize", timeout, func(ctx context.Context) (bool, error) {
		remaining := pending[:0:0]
		for _, id := range pending {
			r, err := c.status(ctx, id)
			if err != nil {
				return false, err
			}
			if !r.Status.IsTerminal() {
				remaining = append(remaining, id)
			}
		}
		pending = remaining
		return len(pending) == 0, nil
	})

	if err == nil && dispose {
		for _, id := range ids {
			if _, tracked := c.registry.get(id); !tracked {
				continue
			}
			if _, rerr := c.registry.reap(id); rerr != nil && !errors.Is(rerr, apperrors.ErrAlreadyReaped) {
				err = rerr
				break
			}
		}
	}
	c.opts.recorder.RecordWait(ctx, "synchronize", outcome(err), time.Since(start))
	if err != nil {
		return err
	}
	c.logger.Info("Jobs synchronized", "jobs", len(ids), "disposed", dispose)
	return nil
}

// expand resolves targets to distinct job ids, keeping first occurrence order.
func (c *connection) expand(targets []job.Target) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, t := range targets {
		if t.IsAll() {
			for _, id := range c.registry.ids() {
				add(id)
			}
			continue
		}
		add(t.JobID())
	}
	return ids
}

// pollUntil calls check until it reports done, the timeout elapses, the
// caller's context ends or the session is torn down. Connection errors are
// retried within the timeout; other errors end the poll. A positive
// timeout always gets a final check at the deadline.
func (c *connection) pollUntil(ctx context.Context, op string, timeout time.Duration, check func(context.Context) (bool, error)) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	schedule := backoff.NewSchedule(&c.opts.poll)

	for {
		done, err := check(ctx)
		switch {
		case err != nil && !apperrors.IsTransient(err):
			return err
		case err == nil && done:
			return nil
		}
		lastErr := err

		if timeout == job.NoWait {
			return expired(op, timeout, lastErr)
		}
		wait := schedule.Next()
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return expired(op, timeout, lastErr)
			}
			wait = min(wait, remaining)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.ctx.Done():
			timer.Stop()
			return apperrors.NotActive()
		case <-timer.C:
		}
	}
}

// expired reports an exhausted budget: the connection error if the
// scheduler was unreachable on the last check, TimeoutExpired otherwise.
func expired(op string, timeout time.Duration, lastErr error) error {
	if lastErr != nil {
		return lastErr
	}
	return apperrors.TimeoutExpired(op, timeout)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrTimeoutExpired):
		return "timeout"
	case errors.Is(err, apperrors.ErrNotActive):
		return "not_active"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
