package docker

import (
	"time"

	"jobsession/internal/config"
)

// Config holds configuration for the Docker backend.
type Config struct {
	DefaultImage        string        // Image used when the native specification names none
	HomeDir             string        // Replacement for the home directory placeholder
	JobRetention        time.Duration // How long to keep finished job containers
	MaintenanceInterval time.Duration // How often to enforce limits and clean up
	ExtraHosts          []string      // Extra hosts for containers (e.g., ["registry.test:host-gateway"])
	PullAttempts        int           // Image pull attempts before a submission fails
}

// LoadConfigFromEnv loads Docker backend configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		DefaultImage:        config.GetEnv("DOCKER_DEFAULT_IMAGE", "alpine:3"),
		HomeDir:             config.GetEnv("DOCKER_HOME_DIR", "/root"),
		JobRetention:        config.GetDurationEnv("JOB_RETENTION", 15*time.Minute),
		MaintenanceInterval: config.GetDurationEnv("MAINTENANCE_INTERVAL", 1*time.Minute),
		ExtraHosts:          config.GetListEnv("EXTRA_HOSTS"),
		PullAttempts:        config.GetIntEnv("DOCKER_PULL_ATTEMPTS", 3),
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultImage == "" {
		c.DefaultImage = "alpine:3"
	}
	if c.HomeDir == "" {
		c.HomeDir = "/root"
	}
	if c.JobRetention <= 0 {
		c.JobRetention = 15 * time.Minute
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	if c.PullAttempts <= 0 {
		c.PullAttempts = 1
	}
	return c
}
