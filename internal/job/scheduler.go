package job

import (
	"context"
	"fmt"

	"jobsession/internal/apperrors"
)

// Scheduler is the contract between a session and a workload manager.
// Implementations translate templates into native submissions and map
// native job states onto Status.
//
// # Source of truth
//
// The scheduler is authoritative for job state. The session only caches
// what it last observed, so a Scheduler must answer State for any job it
// knows, including jobs submitted by another session.
//
// # Errors
//
// Implementations return apperrors.Connection for failures worth retrying
// (unreachable daemon, command timeout), apperrors.UnknownJob for ids they
// have no record of, and apperrors.Internal for everything else.
type Scheduler interface {
	// Submit submits one job and returns its token.
	Submit(ctx context.Context, tmpl *Template) (string, error)

	// SubmitBulk submits an array job covering r and returns one token per
	// index in ascending order. Either every task is accepted or none is.
	SubmitBulk(ctx context.Context, tmpl *Template, r Range) ([]string, error)

	// State returns the current state of a job.
	State(ctx context.Context, jobID string) (*Report, error)

	// Control applies a control action to a job.
	Control(ctx context.Context, jobID string, action Action) error

	// Identity returns a human-readable scheduler name and version.
	Identity(ctx context.Context) (string, error)

	// Attributes lists the template attributes this scheduler honours.
	Attributes() []string

	// Ready checks that the scheduler is reachable.
	Ready(ctx context.Context) error

	// Close releases the connection. Submitted jobs keep running.
	Close() error
}

// Connector opens a Scheduler for a contact string. It returns
// apperrors.Connection when the contact is malformed or unreachable.
type Connector func(ctx context.Context, contact string) (Scheduler, error)

// Range is an inclusive bulk submission range.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Step  int `json:"step"`
}

// Validate checks 0 <= Start <= End and Step > 0.
func (r Range) Validate() error {
	if r.Start < 0 || r.Start > r.End || r.Step <= 0 {
		return apperrors.InvalidRange(r.Start, r.End, r.Step)
	}
	return nil
}

// Indices returns the task indices covered by r in ascending order.
func (r Range) Indices() []int {
	if r.Validate() != nil {
		return nil
	}
	indices := make([]int, 0, (r.End-r.Start)/r.Step+1)
	for i := r.Start; i <= r.End; i += r.Step {
		indices = append(indices, i)
	}
	return indices
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d:%d", r.Start, r.End, r.Step)
}
