package session

import (
	"context"
	"errors"
	"fmt"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// Control applies action to a tracked job or, with job.AllJobs, to every
// tracked job whose current status permits it. A single job whose status
// does not permit the action yields InvalidStateTransition. With AllJobs,
// jobs that cannot take the action are skipped and scheduler failures are
// joined.
func (s *Session) Control(ctx context.Context, target job.Target, action job.Action) error {
	if !action.Valid() {
		return apperrors.Validation("action", fmt.Sprintf("unknown control action %d", int(action)))
	}

	c, err := s.enter()
	if err != nil {
		return err
	}
	defer c.leave()

	if target.IsAll() {
		return c.controlAll(ctx, action)
	}

	jobID := target.JobID()
	if _, ok := c.registry.get(jobID); !ok {
		return apperrors.UnknownJob(jobID)
	}
	r, err := c.status(ctx, jobID)
	if err != nil {
		return err
	}
	if !action.Permits(r.Status) {
		return apperrors.InvalidStateTransition(jobID, action.String(), r.Status.String())
	}
	return c.control(ctx, jobID, action)
}

func (c *connection) controlAll(ctx context.Context, action job.Action) error {
	var errs []error
	for _, jobID := range c.registry.ids() {
		r, err := c.status(ctx, jobID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotActive) || ctx.Err() != nil {
				return err
			}
			errs = append(errs, err)
			continue
		}
		if !action.Permits(r.Status) {
			c.logger.Debug("Skipping job for control action", "jobId", jobID, "action", action, "status", r.Status)
			continue
		}
		if err := c.control(ctx, jobID, action); err != nil {
			if errors.Is(err, apperrors.ErrNotActive) || ctx.Err() != nil {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *connection) control(ctx context.Context, jobID string, action job.Action) error {
	err := c.call(ctx, func(ctx context.Context) error {
		return c.scheduler.Control(ctx, jobID, action)
	})
	c.opts.recorder.RecordControl(ctx, action, err == nil)
	if err != nil {
		c.logger.Error("Job control failed", "jobId", jobID, "action", action, "error", err)
		return err
	}
	c.logger.Info("Job control applied", "jobId", jobID, "action", action)
	return nil
}
