package docker

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// Container labels identifying jobs managed by this backend.
const (
	labelManagedBy = "managed-by"
	managedBy      = "jobsession"
	labelJobID     = "drmaa.job.id"
	labelJobName   = "drmaa.job.name"
	labelHeld      = "drmaa.job.held"
	labelWallclock = "drmaa.job.wct"
)

// supportedAttributes lists the template attributes a container can honour.
var supportedAttributes = []string{
	job.AttrRemoteCommand,
	job.AttrJobSubmissionState,
	job.AttrWorkingDirectory,
	job.AttrJobCategory,
	job.AttrNativeSpecification,
	job.AttrJobName,
	job.AttrWallclockHardLimit,
	job.AttrRunDurationHardLim,
	job.AttrArgv,
	job.AttrEnv,
}

// containerSpec is everything ContainerCreate needs for one job.
type containerSpec struct {
	name      string
	image     string
	platform  *ocispec.Platform
	config    *container.Config
	host      *container.HostConfig
	user      string
	held      bool
	wallclock time.Duration
}

// buildSpec translates a template into a container for the job token
// jobID. index replaces the bulk index placeholder.
func (s *Scheduler) buildSpec(tmpl *job.Template, jobID string, index int) (*containerSpec, error) {
	command := tmpl.Value(job.AttrRemoteCommand)
	if command == "" {
		return nil, apperrors.InvalidAttribute(job.AttrRemoteCommand, "remote command is required")
	}

	spec := &containerSpec{
		name:  "drmaa-" + jobID,
		image: s.cfg.DefaultImage,
		held:  tmpl.Value(job.AttrJobSubmissionState) == job.StateHold,
		host:  &container.HostConfig{ExtraHosts: s.cfg.ExtraHosts},
	}

	if err := spec.applyNative(tmpl.Value(job.AttrNativeSpecification)); err != nil {
		return nil, err
	}

	for _, attr := range []string{job.AttrWallclockHardLimit, job.AttrRunDurationHardLim} {
		v := tmpl.Value(attr)
		if v == "" {
			continue
		}
		d, err := job.ParseTimeLimit(v)
		if err != nil {
			return nil, apperrors.InvalidAttribute(attr, err.Error())
		}
		spec.wallclock = d
		break
	}

	p := job.Placeholders{Index: strconv.Itoa(index), Home: s.cfg.HomeDir}
	var workDir string
	if v := tmpl.Value(job.AttrWorkingDirectory); v != "" {
		_, path := job.SplitHostPath(v)
		workDir = p.Expand(path)
		p.WorkDir = workDir
	}

	argv, _ := tmpl.Get(job.AttrArgv)
	env, _ := tmpl.Get(job.AttrEnv)

	labels := map[string]string{
		labelManagedBy: managedBy,
		labelJobID:     jobID,
		labelHeld:      strconv.FormatBool(spec.held),
	}
	if name := tmpl.Value(job.AttrJobName); name != "" {
		labels[labelJobName] = name
	}
	if spec.wallclock > 0 {
		labels[labelWallclock] = strconv.FormatInt(int64(spec.wallclock/time.Second), 10)
	}

	spec.config = &container.Config{
		Image:      spec.image,
		Entrypoint: []string{p.Expand(command)},
		Cmd:        p.ExpandAll(argv),
		Env:        p.ExpandAll(env),
		WorkingDir: workDir,
		User:       spec.user,
		Labels:     labels,
	}
	return spec, nil
}

// applyNative applies "--name=value" options from the native
// specification.
func (spec *containerSpec) applyNative(native string) error {
	for _, opt := range strings.Fields(native) {
		name, value, ok := strings.Cut(opt, "=")
		if !ok || value == "" {
			return apperrors.InvalidAttribute(job.AttrNativeSpecification, fmt.Sprintf("option %q must have the form --name=value", opt))
		}
		switch name {
		case "--image":
			spec.image = value
		case "--platform":
			p, err := parsePlatform(value)
			if err != nil {
				return apperrors.InvalidAttribute(job.AttrNativeSpecification, err.Error())
			}
			spec.platform = p
		case "--cpus":
			cpus, err := strconv.ParseFloat(value, 64)
			if err != nil || cpus <= 0 {
				return apperrors.InvalidAttribute(job.AttrNativeSpecification, fmt.Sprintf("invalid cpu count %q", value))
			}
			spec.host.NanoCPUs = int64(cpus * 1e9)
		case "--memory":
			mb, err := strconv.ParseInt(value, 10, 64)
			if err != nil || mb <= 0 {
				return apperrors.InvalidAttribute(job.AttrNativeSpecification, fmt.Sprintf("invalid memory size %q, expected megabytes", value))
			}
			spec.host.Memory = mb * 1024 * 1024
		case "--user":
			spec.user = value
		case "--network":
			spec.host.NetworkMode = container.NetworkMode(value)
		default:
			return apperrors.InvalidAttribute(job.AttrNativeSpecification, fmt.Sprintf("unsupported option %q", name))
		}
	}
	return nil
}

// parsePlatform parses "os[/arch[/variant]]".
func parsePlatform(v string) (*ocispec.Platform, error) {
	parts := strings.Split(v, "/")
	if len(parts) > 3 || slices.Contains(parts, "") {
		return nil, fmt.Errorf("invalid platform %q, expected os[/arch[/variant]]", v)
	}
	p := &ocispec.Platform{OS: parts[0]}
	if len(parts) > 1 {
		p.Architecture = parts[1]
	}
	if len(parts) > 2 {
		p.Variant = parts[2]
	}
	return p, nil
}
