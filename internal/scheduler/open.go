// Package scheduler selects a job.Scheduler backend from a contact string.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
	"jobsession/internal/scheduler/docker"
	"jobsession/internal/scheduler/slurm"
)

// DefaultContact is used when Init is called with an empty contact.
const DefaultContact = "slurm"

// Backend names.
const (
	BackendSlurm  = "slurm"
	BackendDocker = "docker"
)

// Config holds the configuration of every backend.
type Config struct {
	Slurm  slurm.Config
	Docker docker.Config
}

// LoadConfigFromEnv loads backend configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Slurm:  slurm.LoadConfigFromEnv(),
		Docker: docker.LoadConfigFromEnv(),
	}
}

// ParseContact splits a contact string into a backend name and its target:
//
//	slurm, slurm://<cluster>          Slurm, optionally a named cluster
//	docker, unix://..., tcp://...     Docker, optionally a daemon address
func ParseContact(contact string) (backend, target string, err error) {
	if contact == "" {
		contact = DefaultContact
	}
	switch {
	case contact == BackendSlurm:
		return BackendSlurm, "", nil
	case strings.HasPrefix(contact, "slurm://"):
		cluster := strings.TrimPrefix(contact, "slurm://")
		if cluster == "" || strings.ContainsAny(cluster, "/ ") {
			return "", "", fmt.Errorf("invalid slurm cluster in contact %q", contact)
		}
		return BackendSlurm, cluster, nil
	case contact == BackendDocker:
		return BackendDocker, "", nil
	case strings.HasPrefix(contact, "unix://"), strings.HasPrefix(contact, "tcp://"):
		return BackendDocker, contact, nil
	}
	return "", "", fmt.Errorf("unsupported contact %q", contact)
}

// Connector returns a job.Connector that opens the backend named by the
// contact string.
func Connector(cfg Config) job.Connector {
	return func(ctx context.Context, contact string) (job.Scheduler, error) {
		backend, target, err := ParseContact(contact)
		if err != nil {
			return nil, apperrors.Connection("scheduler.connect", err)
		}

		switch backend {
		case BackendDocker:
			return docker.Open(ctx, target, cfg.Docker)
		default:
			return slurm.New(target, cfg.Slurm, slurm.NewLocalExecutor(cfg.Slurm)), nil
		}
	}
}
