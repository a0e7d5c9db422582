package session

import (
	"context"
	"errors"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// GetJobProgramStatus returns the current status of a job. Finished jobs
// are answered from the cache without contacting the scheduler. Jobs the
// session did not submit are looked up but not tracked.
func (s *Session) GetJobProgramStatus(ctx context.Context, jobID string) (job.Status, error) {
	c, err := s.enter()
	if err != nil {
		return job.Undetermined, err
	}
	defer c.leave()

	r, err := c.status(ctx, jobID)
	if err != nil {
		return job.Undetermined, err
	}
	return r.Status, nil
}

// status returns the latest report for jobID, querying the scheduler
// unless a terminal result is cached.
func (c *connection) status(ctx context.Context, jobID string) (*job.Report, error) {
	e, tracked := c.registry.get(jobID)
	if tracked {
		if r, ok := e.cached(); ok {
			return r, nil
		}
	} else if final, ok := c.registry.reapedStatus(jobID); ok {
		return &job.Report{Status: final}, nil
	}

	r, err := c.query(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if tracked {
		if change, ok := e.observe(r); ok {
			c.statusChanged(ctx, e, change)
		}
	}
	return r, nil
}

// query asks the scheduler for the state of jobID, subject to the rate limit.
func (c *connection) query(ctx context.Context, jobID string) (*job.Report, error) {
	var r *job.Report
	err := c.call(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		r, err = c.scheduler.State(ctx, jobID)
		return err
	})

	success := err == nil || errors.Is(err, apperrors.ErrUnknownJob)
	c.opts.recorder.RecordSchedulerQuery(ctx, success)
	if err != nil {
		if apperrors.IsTransient(err) {
			c.logger.Warn("Scheduler status query failed", "jobId", jobID, "error", err)
		}
		return nil, err
	}
	if !r.Status.Valid() {
		return nil, apperrors.Internal("status", errors.New("scheduler reported an invalid status"))
	}
	c.logger.Debug("Polled job status", "jobId", jobID, "status", r.Status)
	return r, nil
}

func (c *connection) statusChanged(ctx context.Context, e *jobEntry, change job.StatusChange) {
	c.logger.Info("Job status changed", "jobId", change.JobID, "from", change.From, "to", change.To)
	if change.To.IsTerminal() {
		c.opts.recorder.RecordJobFinished(ctx, change.To, change.At.Sub(e.submittedAt))
	}
	c.opts.notifier.StatusChanged(ctx, change)
}
