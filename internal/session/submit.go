package session

import (
	"context"
	"fmt"
	"strings"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// RunJob submits a job built from the current contents of a template and
// returns the scheduler's job id.
func (s *Session) RunJob(ctx context.Context, templateID int) (string, error) {
	c, err := s.enter()
	if err != nil {
		return "", err
	}
	defer c.leave()

	tmpl, err := c.prepare(templateID)
	if err != nil {
		return "", err
	}

	var jobID string
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		jobID, err = c.scheduler.Submit(ctx, tmpl)
		return err
	})
	if err != nil {
		c.logger.Error("Job submission failed", "templateId", templateID, "error", err)
		return "", err
	}

	c.registry.add(tmpl, jobID)
	c.opts.recorder.RecordJobsSubmitted(ctx, 1, false)
	c.opts.notifier.JobSubmitted(ctx, jobID)
	c.logger.Info("Job submitted", "jobId", jobID, "templateId", templateID)
	return jobID, nil
}

// RunBulkJobs submits an array job for the indices start..end (inclusive)
// stepped by step. Ids are returned in ascending index order. Nothing is
// tracked unless the scheduler accepted every task.
func (s *Session) RunBulkJobs(ctx context.Context, templateID, start, end, step int) ([]string, error) {
	c, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer c.leave()

	r := job.Range{Start: start, End: end, Step: step}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := c.prepare(templateID)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		ids, err = c.scheduler.SubmitBulk(ctx, tmpl, r)
		return err
	})
	if err != nil {
		c.logger.Error("Bulk submission failed", "templateId", templateID, "range", r.String(), "error", err)
		return nil, err
	}
	if want := len(r.Indices()); len(ids) != want {
		return nil, apperrors.Internal("submit bulk", fmt.Errorf("scheduler returned %d job ids for %d tasks", len(ids), want))
	}

	c.registry.add(tmpl, ids...)
	c.opts.recorder.RecordJobsSubmitted(ctx, len(ids), true)
	for _, id := range ids {
		c.opts.notifier.JobSubmitted(ctx, id)
	}
	c.logger.Info("Bulk job submitted", "templateId", templateID, "range", r.String(), "tasks", len(ids))
	return ids, nil
}

// prepare snapshots a template and resolves its job category into the
// native specification.
func (c *connection) prepare(templateID int) (*job.Template, error) {
	tmpl, err := c.templates.snapshot(templateID)
	if err != nil {
		return nil, err
	}
	if tmpl.Value(job.AttrRemoteCommand) == "" {
		return nil, apperrors.InvalidAttribute(job.AttrRemoteCommand, "must be set before submission")
	}

	category := tmpl.Value(job.AttrJobCategory)
	native, ok := c.opts.categories.Lookup(category)
	if !ok {
		if c.opts.categories.Configured() {
			return nil, apperrors.InvalidAttribute(job.AttrJobCategory, fmt.Sprintf("unknown job category %q", category))
		}
		return tmpl, nil
	}
	if native != "" {
		merged := strings.TrimSpace(native + " " + tmpl.Value(job.AttrNativeSpecification))
		tmpl.Set(job.AttrNativeSpecification, merged)
	}
	return tmpl, nil
}
