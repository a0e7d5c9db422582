// Package slurm implements job.Scheduler on top of the Slurm client
// commands. Jobs are submitted with sbatch, observed with squeue and sacct,
// and controlled with scontrol and scancel.
package slurm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// Scheduler implements job.Scheduler for one Slurm cluster.
type Scheduler struct {
	cluster string
	cfg     Config
	exec    Executor
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a scheduler for cluster (empty for the local default
// cluster) that runs commands through ex.
func New(cluster string, cfg Config, ex Executor) *Scheduler {
	return &Scheduler{
		cluster: cluster,
		cfg:     cfg,
		exec:    ex,
		logger:  slog.With("component", "slurm", "cluster", cluster),
		now:     time.Now,
	}
}

var (
	jobIDPattern     = regexp.MustCompile(`^\d+(_\d+)?$`)
	parsableIDOutput = regexp.MustCompile(`^(\d+)(;\S+)?$`)
)

// Stderr fragments the Slurm tools print when the controller is unreachable.
var connectionFailures = []string{
	"Unable to contact slurm controller",
	"Socket timed out",
	"Connection refused",
	"Zero Bytes were transmitted",
}

func (s *Scheduler) clusterArgs() []string {
	if s.cluster == "" {
		return nil
	}
	return []string{"--clusters=" + s.cluster}
}

// run executes a command, classifying controller outages as connection
// errors. Other command failures are returned unwrapped for the caller to
// interpret.
func (s *Scheduler) run(ctx context.Context, stdin, name string, args ...string) (string, error) {
	args = append(s.clusterArgs(), args...)
	s.logger.Debug("Running slurm command", "command", name, "args", args)

	out, err := s.exec.Run(ctx, name, args, stdin)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		for _, msg := range connectionFailures {
			if strings.Contains(cmdErr.Stderr, msg) {
				return "", apperrors.Connection(name, err)
			}
		}
	}
	return out, err
}

// internal wraps command failures that are not already classified.
func internal(op string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(op, err)
}

func isInvalidJobID(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "Invalid job id")
}

// Submit implements job.Scheduler.
func (s *Scheduler) Submit(ctx context.Context, tmpl *job.Template) (string, error) {
	sub, err := s.buildSubmission(tmpl, nil, s.now())
	if err != nil {
		return "", err
	}
	id, err := s.sbatch(ctx, sub)
	if err != nil {
		return "", err
	}
	s.logger.Info("Submitted batch job", "jobId", id)
	return id, nil
}

// SubmitBulk implements job.Scheduler as a single array job, so Slurm
// accepts or rejects every task together.
func (s *Scheduler) SubmitBulk(ctx context.Context, tmpl *job.Template, r job.Range) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	sub, err := s.buildSubmission(tmpl, &r, s.now())
	if err != nil {
		return nil, err
	}
	arrayID, err := s.sbatch(ctx, sub)
	if err != nil {
		return nil, err
	}

	indices := r.Indices()
	ids := make([]string, len(indices))
	for i, idx := range indices {
		ids[i] = fmt.Sprintf("%s_%d", arrayID, idx)
	}
	s.logger.Info("Submitted array job", "jobId", arrayID, "range", r.String(), "tasks", len(ids))
	return ids, nil
}

func (s *Scheduler) sbatch(ctx context.Context, sub *submission) (string, error) {
	out, err := s.run(ctx, sub.script, "sbatch", sub.args...)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return "", apperrors.Validation("template", cmdErr.Stderr)
		}
		return "", internal("slurm.sbatch", err)
	}

	line := strings.TrimSpace(out)
	m := parsableIDOutput.FindStringSubmatch(line)
	if m == nil {
		return "", apperrors.Internal("slurm.sbatch", fmt.Errorf("unexpected sbatch output %q", line))
	}
	return m[1], nil
}

// State implements job.Scheduler. Jobs still in the queue are read from
// squeue; finished jobs come from accounting, which also carries exit
// details. Without accounting (no slurmdbd) a finished job is reported
// with the status squeue last showed, and a job neither tool knows is
// unknown.
func (s *Scheduler) State(ctx context.Context, jobID string) (*job.Report, error) {
	if !jobIDPattern.MatchString(jobID) {
		return nil, apperrors.UnknownJob(jobID)
	}

	queued := job.Undetermined
	out, err := s.run(ctx, "", "squeue", "--noheader", "--jobs="+jobID, "--format="+queueFormat)
	switch {
	case err == nil:
		if status, ok := parseQueue(out); ok {
			if !status.IsTerminal() {
				return &job.Report{Status: status}, nil
			}
			queued = status
		}
	case !isInvalidJobID(err):
		return nil, internal("slurm.squeue", err)
	}

	out, err = s.run(ctx, "", "sacct", "--noheader", "--parsable2", "--allocations",
		"--jobs="+jobID, "--format="+accountingFields)
	var cmdErr *CommandError
	switch {
	case err == nil:
	case apperrors.IsTransient(err) || !errors.As(err, &cmdErr):
		return nil, internal("slurm.sacct", err)
	case queued != job.Undetermined:
		s.logger.Debug("Accounting unavailable, using queue status", "jobId", jobID, "error", err)
		return &job.Report{Status: queued}, nil
	default:
		s.logger.Debug("Accounting unavailable", "jobId", jobID, "error", err)
		return nil, apperrors.UnknownJob(jobID)
	}
	if r, ok := parseAccounting(out, jobID); ok {
		return r, nil
	}
	if queued != job.Undetermined {
		return &job.Report{Status: queued}, nil
	}
	return nil, apperrors.UnknownJob(jobID)
}

var controlCommands = map[job.Action][]string{
	job.Suspend:   {"scontrol", "suspend"},
	job.Resume:    {"scontrol", "resume"},
	job.Hold:      {"scontrol", "hold"},
	job.Release:   {"scontrol", "release"},
	job.Terminate: {"scancel"},
}

// Control implements job.Scheduler.
func (s *Scheduler) Control(ctx context.Context, jobID string, action job.Action) error {
	command, ok := controlCommands[action]
	if !ok {
		return apperrors.Validation("action", fmt.Sprintf("unknown control action %d", int(action)))
	}
	if !jobIDPattern.MatchString(jobID) {
		return apperrors.UnknownJob(jobID)
	}

	args := append(slices.Clone(command[1:]), jobID)
	if _, err := s.run(ctx, "", command[0], args...); err != nil {
		if isInvalidJobID(err) {
			return apperrors.UnknownJob(jobID)
		}
		return internal("slurm."+action.String(), err)
	}
	return nil
}

// Identity implements job.Scheduler with the scontrol version string.
func (s *Scheduler) Identity(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "", "scontrol", "version")
	if err != nil {
		return "", internal("slurm.version", err)
	}
	return strings.TrimSpace(out), nil
}

// Attributes implements job.Scheduler. File staging is left to the
// cluster's shared filesystem.
func (s *Scheduler) Attributes() []string {
	return slices.DeleteFunc(job.AttributeNames(), func(name string) bool {
		return name == job.AttrTransferFiles
	})
}

// Ready implements job.Scheduler by pinging the controller.
func (s *Scheduler) Ready(ctx context.Context) error {
	out, err := s.run(ctx, "", "scontrol", "ping")
	if err != nil {
		return apperrors.Connection("slurm.ping", err)
	}
	if strings.Contains(out, "DOWN") && !strings.Contains(out, "UP") {
		return apperrors.Connection("slurm.ping", fmt.Errorf("controller down: %s", strings.TrimSpace(out)))
	}
	return nil
}

// Close implements job.Scheduler. The command line tools hold no
// connection.
func (s *Scheduler) Close() error {
	return nil
}

var _ job.Scheduler = (*Scheduler)(nil)
