package slurm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"jobsession/internal/apperrors"
)

// Executor runs a Slurm client command and returns its standard output.
// A command that runs and exits non-zero yields a *CommandError.
type Executor interface {
	Run(ctx context.Context, name string, args []string, stdin string) (string, error)
}

// CommandError reports a command that exited with a non-zero status.
type CommandError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Name, e.ExitCode, e.Stderr)
}

// LocalExecutor runs commands on this host with os/exec.
type LocalExecutor struct {
	BinDir  string
	Timeout time.Duration
}

// NewLocalExecutor returns an executor for cfg.
func NewLocalExecutor(cfg Config) *LocalExecutor {
	return &LocalExecutor{BinDir: cfg.BinDir, Timeout: cfg.CommandTimeout}
}

// Run implements Executor. Missing binaries and timeouts are connection
// errors; the Slurm client tools are how this host reaches the controller.
func (e *LocalExecutor) Run(ctx context.Context, name string, args []string, stdin string) (string, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	path := name
	if e.BinDir != "" {
		path = filepath.Join(e.BinDir, name)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if ctx.Err() != nil {
		return "", apperrors.Connection(name, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &CommandError{
			Name:     name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}
	return "", apperrors.Connection(name, err)
}
