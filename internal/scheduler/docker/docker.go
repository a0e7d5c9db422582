// Package docker implements job.Scheduler using the Docker API. Each job
// runs in its own container on the daemon's host.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
	"jobsession/pkg/backoff"
)

// dockerAPI is the subset of the Docker client the scheduler uses.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerPause(ctx context.Context, containerID string) error
	ContainerUnpause(ctx context.Context, containerID string) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ServerVersion(ctx context.Context) (types.Version, error)
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// Scheduler implements job.Scheduler using Docker.
type Scheduler struct {
	api    dockerAPI
	cfg    Config
	state  *stateRepo
	logger *slog.Logger

	cancelMaintenance context.CancelFunc
	maintenanceDone   chan struct{}
	closeOnce         sync.Once
}

// Open connects to the Docker daemon at host, or the environment's daemon
// when host is empty. It reconciles containers left by earlier sessions
// and starts the maintenance loop.
func Open(ctx context.Context, host string, cfg Config) (*Scheduler, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, apperrors.Connection("docker.connect", err)
	}
	return newScheduler(ctx, cli, cfg), nil
}

func newScheduler(ctx context.Context, api dockerAPI, cfg Config) *Scheduler {
	s := &Scheduler{
		api:             api,
		cfg:             cfg.withDefaults(),
		state:           newStateRepo(),
		logger:          slog.With("component", "docker"),
		maintenanceDone: make(chan struct{}),
	}

	if err := s.reconcile(ctx); err != nil {
		s.logger.Warn("Failed to reconcile jobs", "error", err)
	}

	maintenanceCtx, cancel := context.WithCancel(context.Background())
	s.cancelMaintenance = cancel
	go func() {
		defer close(s.maintenanceDone)
		s.runMaintenance(maintenanceCtx, s.cfg.MaintenanceInterval)
	}()
	return s
}

// reconcile rebuilds job state from the labels of managed containers.
func (s *Scheduler) reconcile(ctx context.Context) error {
	logger := slog.With("component", "reconcile")

	containers, err := s.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManagedBy+"="+managedBy)),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	var held int
	for _, c := range containers {
		jobID := c.Labels[labelJobID]
		if jobID == "" {
			continue
		}
		js := &jobState{
			containerID: c.ID,
			held:        c.Labels[labelHeld] == "true" && c.State == "created",
		}
		if secs, err := strconv.ParseInt(c.Labels[labelWallclock], 10, 64); err == nil {
			js.wallclock = time.Duration(secs) * time.Second
		}
		if js.held {
			held++
		}
		s.state.commit(jobID, js)
	}

	logger.Info("Reconciliation complete", "reconciled", len(containers), "held", held)
	return nil
}

// Submit implements job.Scheduler.
func (s *Scheduler) Submit(ctx context.Context, tmpl *job.Template) (string, error) {
	jobID := uuid.NewString()
	spec, err := s.buildSpec(tmpl, jobID, 0)
	if err != nil {
		return "", err
	}
	if err := s.create(ctx, jobID, spec); err != nil {
		return "", err
	}
	if !spec.held {
		if err := s.start(ctx, jobID); err != nil {
			s.discard(ctx, jobID)
			return "", err
		}
	}
	s.logger.Info("Job submitted", "jobId", jobID, "image", spec.image, "held", spec.held)
	return jobID, nil
}

// SubmitBulk implements job.Scheduler. All containers are created before
// any is started; a failure removes every container of the batch.
func (s *Scheduler) SubmitBulk(ctx context.Context, tmpl *job.Template, r job.Range) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	arrayID := uuid.NewString()
	var ids []string
	held := false
	success := false
	defer func() {
		if !success {
			for _, id := range ids {
				s.discard(ctx, id)
			}
		}
	}()

	for _, idx := range r.Indices() {
		jobID := fmt.Sprintf("%s_%d", arrayID, idx)
		spec, err := s.buildSpec(tmpl, jobID, idx)
		if err != nil {
			return nil, err
		}
		if err := s.create(ctx, jobID, spec); err != nil {
			return nil, err
		}
		ids = append(ids, jobID)
		held = spec.held
	}

	if !held {
		for _, id := range ids {
			if err := s.start(ctx, id); err != nil {
				return nil, err
			}
		}
	}

	success = true
	s.logger.Info("Array job submitted", "jobId", arrayID, "range", r.String(), "tasks", len(ids))
	return ids, nil
}

// create pulls the image and creates the job's container without starting
// it.
func (s *Scheduler) create(ctx context.Context, jobID string, spec *containerSpec) error {
	if err := s.state.reserve(jobID); err != nil {
		return err
	}

	// Pull with a detached context so a caller deadline doesn't abort a
	// shared layer download.
	if err := s.pullImageIfNeeded(context.WithoutCancel(ctx), spec.image); err != nil {
		s.state.release(jobID)
		return err
	}

	resp, err := s.api.ContainerCreate(ctx, spec.config, spec.host, nil, spec.platform, spec.name)
	if err != nil {
		s.state.release(jobID)
		return classify("docker.createContainer", jobID, err)
	}

	s.state.commit(jobID, &jobState{
		containerID: resp.ID,
		held:        spec.held,
		wallclock:   spec.wallclock,
	})
	return nil
}

func (s *Scheduler) start(ctx context.Context, jobID string) error {
	js, ok := s.state.get(jobID)
	if !ok || js == nil {
		return apperrors.UnknownJob(jobID)
	}
	if err := s.api.ContainerStart(ctx, js.containerID, container.StartOptions{}); err != nil {
		return classify("docker.startContainer", jobID, err)
	}
	s.state.update(jobID, func(js *jobState) { js.held = false })
	return nil
}

// discard removes a job's container and forgets the job.
func (s *Scheduler) discard(ctx context.Context, jobID string) {
	js, ok := s.state.release(jobID)
	if !ok || js == nil {
		return
	}
	s.removeContainer(context.WithoutCancel(ctx), js.containerID)
}

func (s *Scheduler) removeContainer(ctx context.Context, containerID string) {
	if err := s.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		s.logger.Warn("Failed to remove container", "containerId", containerID, "error", err)
	}
}

func (s *Scheduler) pullImageIfNeeded(ctx context.Context, ref string) error {
	if _, err := s.api.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	var err error
	for attempt := 1; attempt <= s.cfg.PullAttempts; attempt++ {
		if err = s.pullImage(ctx, ref); err == nil {
			return nil
		}
		if cerrdefs.IsNotFound(err) || cerrdefs.IsUnauthorized(err) {
			return apperrors.InvalidAttribute(job.AttrNativeSpecification, fmt.Sprintf("image %q is not available: %v", ref, err))
		}
		if attempt == s.cfg.PullAttempts {
			break
		}
		s.logger.Warn("Image pull failed, retrying", "image", ref, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return apperrors.Connection("docker.pullImage", ctx.Err())
		case <-time.After(backoff.Exponential(attempt, &backoff.Config{Initial: 500 * time.Millisecond, Max: 5 * time.Second})):
		}
	}
	return apperrors.Connection("docker.pullImage", err)
}

func (s *Scheduler) pullImage(ctx context.Context, ref string) error {
	reader, err := s.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// State implements job.Scheduler.
func (s *Scheduler) State(ctx context.Context, jobID string) (*job.Report, error) {
	js, ok := s.state.get(jobID)
	switch {
	case !ok:
		return nil, apperrors.UnknownJob(jobID)
	case js == nil:
		return &job.Report{Status: job.QueuedActive}, nil
	case js.aborted:
		return &job.Report{Status: job.Failed, Aborted: true}, nil
	}

	inspect, err := s.api.ContainerInspect(ctx, js.containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			s.state.release(jobID)
		}
		return nil, classify("docker.inspectContainer", jobID, err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return nil, apperrors.Internal("docker.inspectContainer", errors.New("container state missing"))
	}
	return report(js, inspect.State), nil
}

// report maps a container state onto a job report. Containers killed on
// request or by the kernel OOM killer count as signaled; an exit code
// above 128 is read as death by signal code-128.
func report(js *jobState, st *container.State) *job.Report {
	switch st.Status {
	case "created":
		if js.held {
			return &job.Report{Status: job.UserOnHold}
		}
		return &job.Report{Status: job.QueuedActive}
	case "running", "restarting", "removing":
		return &job.Report{Status: job.Running}
	case "paused":
		return &job.Report{Status: job.UserSuspended}
	case "exited", "dead":
	default:
		return &job.Report{Status: job.Undetermined}
	}

	r := &job.Report{Status: job.Done}
	switch {
	case js.terminated, st.OOMKilled:
		r.Status = job.Failed
		r.Signaled = true
		r.TerminatingSignal = "SIGKILL"
	case st.ExitCode > 128:
		r.Status = job.Failed
		r.Signaled = true
		r.TerminatingSignal = job.SignalName(st.ExitCode - 128)
	case st.Status == "dead" || st.Error != "":
		r.Status = job.Failed
		r.Aborted = st.StartedAt == "" || st.StartedAt == zeroTime
	default:
		r.Exited = true
		r.ExitStatus = st.ExitCode
	}

	started, err1 := time.Parse(time.RFC3339Nano, st.StartedAt)
	finished, err2 := time.Parse(time.RFC3339Nano, st.FinishedAt)
	if err1 == nil && err2 == nil && !started.IsZero() && finished.After(started) {
		r.ResourceUsage = map[string]string{
			"wallclock": strconv.FormatFloat(finished.Sub(started).Seconds(), 'f', -1, 64),
		}
	}
	return r
}

// zeroTime is how the daemon reports a timestamp that was never set.
const zeroTime = "0001-01-01T00:00:00Z"

// Control implements job.Scheduler. Hold only applies to a job that has
// not started; terminating such a job removes its container.
func (s *Scheduler) Control(ctx context.Context, jobID string, action job.Action) error {
	js, ok := s.state.get(jobID)
	switch {
	case !ok:
		return apperrors.UnknownJob(jobID)
	case js == nil:
		return apperrors.Conflict("job", jobID, "job is still being created")
	case js.aborted:
		return apperrors.InvalidStateTransition(jobID, action.String(), job.Failed.String())
	}
	logger := s.logger.With("jobId", jobID, "action", action)

	var err error
	switch action {
	case job.Suspend:
		err = s.api.ContainerPause(ctx, js.containerID)
	case job.Resume:
		err = s.api.ContainerUnpause(ctx, js.containerID)
	case job.Hold:
		return s.hold(ctx, jobID, js)
	case job.Release:
		if !js.held {
			return apperrors.InvalidStateTransition(jobID, action.String(), job.QueuedActive.String())
		}
		return s.start(ctx, jobID)
	case job.Terminate:
		return s.terminate(ctx, jobID, js)
	default:
		return apperrors.Validation("action", fmt.Sprintf("unknown control action %d", int(action)))
	}
	if err != nil {
		return classify("docker."+action.String(), jobID, err)
	}
	logger.Debug("Container control applied")
	return nil
}

func (s *Scheduler) hold(ctx context.Context, jobID string, js *jobState) error {
	inspect, err := s.api.ContainerInspect(ctx, js.containerID)
	if err != nil {
		return classify("docker.inspectContainer", jobID, err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil || inspect.State.Status != "created" {
		return apperrors.InvalidStateTransition(jobID, job.Hold.String(), "started")
	}
	s.state.update(jobID, func(js *jobState) { js.held = true })
	return nil
}

func (s *Scheduler) terminate(ctx context.Context, jobID string, js *jobState) error {
	inspect, err := s.api.ContainerInspect(ctx, js.containerID)
	if err != nil {
		return classify("docker.inspectContainer", jobID, err)
	}

	if inspect.ContainerJSONBase != nil && inspect.State != nil && inspect.State.Status == "created" {
		if err := s.api.ContainerRemove(ctx, js.containerID, container.RemoveOptions{Force: true}); err != nil {
			return classify("docker.removeContainer", jobID, err)
		}
		s.state.update(jobID, func(js *jobState) {
			js.aborted = true
			js.abortedAt = time.Now()
		})
		return nil
	}

	if err := s.api.ContainerKill(ctx, js.containerID, "SIGKILL"); err != nil {
		return classify("docker.killContainer", jobID, err)
	}
	s.state.update(jobID, func(js *jobState) { js.terminated = true })
	return nil
}

// classify maps Docker client errors onto session errors: missing
// containers are unknown jobs, rejected requests are internal failures and
// anything else is treated as a daemon connection problem.
func classify(op, jobID string, err error) error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case cerrdefs.IsNotFound(err):
		return apperrors.UnknownJob(jobID)
	case cerrdefs.IsConflict(err), cerrdefs.IsInvalidArgument(err), cerrdefs.IsFailedPrecondition(err):
		return apperrors.Internal(op, err)
	}
	return apperrors.Connection(op, err)
}

// Identity implements job.Scheduler.
func (s *Scheduler) Identity(ctx context.Context) (string, error) {
	v, err := s.api.ServerVersion(ctx)
	if err != nil {
		return "", apperrors.Connection("docker.version", err)
	}
	return fmt.Sprintf("Docker Engine %s (API %s)", v.Version, v.APIVersion), nil
}

// Attributes implements job.Scheduler.
func (s *Scheduler) Attributes() []string {
	return append([]string(nil), supportedAttributes...)
}

// Ready checks if the Docker daemon is reachable and responsive.
func (s *Scheduler) Ready(ctx context.Context) error {
	if _, err := s.api.Ping(ctx); err != nil {
		return apperrors.Connection("docker.ping", err)
	}
	return nil
}

// Close stops the maintenance loop and releases the client. Containers keep
// running.
func (s *Scheduler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancelMaintenance()
		<-s.maintenanceDone
		err = s.api.Close()
	})
	return err
}

// runMaintenance periodically enforces wallclock limits and cleans up
// expired jobs.
func (s *Scheduler) runMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maintain(ctx, time.Now())
		}
	}
}

// maintain kills running jobs past their wallclock limit and removes jobs
// that finished more than the retention period ago.
func (s *Scheduler) maintain(ctx context.Context, now time.Time) {
	logger := slog.With("component", "maintenance")
	var killed, cleaned int

	for jobID, js := range s.state.list() {
		if js.aborted {
			if now.Sub(js.abortedAt) > s.cfg.JobRetention {
				s.state.release(jobID)
				cleaned++
			}
			continue
		}

		inspect, err := s.api.ContainerInspect(ctx, js.containerID)
		if err != nil {
			if cerrdefs.IsNotFound(err) {
				s.state.release(jobID)
				cleaned++
			}
			continue
		}
		if inspect.ContainerJSONBase == nil || inspect.State == nil {
			continue
		}
		st := inspect.State

		switch {
		case st.Running && js.wallclock > 0:
			started, err := time.Parse(time.RFC3339Nano, st.StartedAt)
			if err != nil || now.Sub(started) <= js.wallclock {
				continue
			}
			if err := s.api.ContainerKill(ctx, js.containerID, "SIGKILL"); err != nil {
				logger.Warn("Failed to kill job over wallclock limit", "jobId", jobID, "error", err)
				continue
			}
			s.state.update(jobID, func(js *jobState) { js.terminated = true })
			logger.Info("Wallclock limit exceeded, job killed", "jobId", jobID, "limit", js.wallclock)
			killed++

		case st.Status == "exited" || st.Status == "dead":
			finished, err := time.Parse(time.RFC3339Nano, st.FinishedAt)
			if err != nil || now.Sub(finished) <= s.cfg.JobRetention {
				continue
			}
			s.removeContainer(ctx, js.containerID)
			s.state.release(jobID)
			logger.Debug("Cleaned up expired job", "jobId", jobID)
			cleaned++
		}
	}

	if killed > 0 || cleaned > 0 {
		logger.Info("Maintenance complete", "killed", killed, "cleaned", cleaned, "tracked", len(s.state.ids()))
	}
}

// Verify Scheduler implements job.Scheduler
var _ job.Scheduler = (*Scheduler)(nil)
