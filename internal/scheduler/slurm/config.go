package slurm

import (
	"os"
	"time"

	"jobsession/internal/config"
)

// Config holds configuration for the Slurm backend.
type Config struct {
	BinDir         string        // Directory holding sbatch, squeue, sacct, scontrol and scancel; empty searches PATH
	CommandTimeout time.Duration // Upper bound for a single command
	HomeDir        string        // Replacement for the home directory placeholder in paths
}

// LoadConfigFromEnv loads Slurm configuration from environment variables.
func LoadConfigFromEnv() Config {
	home, _ := os.UserHomeDir()
	return Config{
		BinDir:         config.GetEnv("SLURM_BIN_DIR", ""),
		CommandTimeout: config.GetDurationEnv("SLURM_COMMAND_TIMEOUT", 30*time.Second),
		HomeDir:        config.GetEnv("SLURM_HOME_DIR", home),
	}
}
