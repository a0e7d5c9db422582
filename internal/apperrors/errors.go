// Package apperrors provides structured session errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	ErrConnection             = errors.New("scheduler connection error")
	ErrAlreadyActive          = errors.New("session already active")
	ErrNotActive              = errors.New("no active session")
	ErrInvalidTemplate        = errors.New("invalid job template")
	ErrInvalidAttribute       = errors.New("invalid attribute")
	ErrInvalidRange           = errors.New("invalid bulk range")
	ErrUnknownJob             = errors.New("unknown job")
	ErrTimeoutExpired         = errors.New("timeout expired")
	ErrAlreadyReaped          = errors.New("job already reaped")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // Attribute or request field (e.g., "drmaa_wd")
	Resource string // Entity kind (e.g., "job", "template")
	Op       string // Operation that failed (e.g., "slurm.sbatch")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Connection reports that the scheduler could not be reached or the contact
// string could not be used. Pollers treat it as transient.
func Connection(op string, cause error) error {
	return &Error{
		Sentinel: ErrConnection,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// AlreadyActive is returned by Init on an initialized session.
func AlreadyActive(contact string) error {
	return &Error{
		Sentinel: ErrAlreadyActive,
		Message:  fmt.Sprintf("session already initialized with contact %q", contact),
		Resource: "session",
	}
}

// NotActive is returned by every operation on a session that was never
// initialized, has exited, or lost its scheduler connection.
func NotActive() error {
	return &Error{
		Sentinel: ErrNotActive,
		Message:  "no active session",
		Resource: "session",
	}
}

// InvalidTemplate reports an unknown or deleted template id.
func InvalidTemplate(id int) error {
	return &Error{
		Sentinel: ErrInvalidTemplate,
		Message:  fmt.Sprintf("job template %d does not exist", id),
		Resource: "template",
	}
}

// InvalidAttribute reports a rejected attribute name or value.
func InvalidAttribute(name, reason string) error {
	return &Error{
		Sentinel: ErrInvalidAttribute,
		Message:  fmt.Sprintf("attribute %s: %s", name, reason),
		Field:    name,
	}
}

// InvalidRange reports a malformed bulk submission range.
func InvalidRange(start, end, step int) error {
	return &Error{
		Sentinel: ErrInvalidRange,
		Message:  fmt.Sprintf("invalid bulk range %d-%d:%d", start, end, step),
		Field:    "range",
	}
}

// UnknownJob reports a job id neither the registry nor the scheduler knows.
func UnknownJob(id string) error {
	return &Error{
		Sentinel: ErrUnknownJob,
		Message:  fmt.Sprintf("job %s is unknown", id),
		Resource: "job",
	}
}

// TimeoutExpired reports that a wait deadline passed before the jobs finished.
func TimeoutExpired(op string, timeout time.Duration) error {
	return &Error{
		Sentinel: ErrTimeoutExpired,
		Message:  fmt.Sprintf("%s: timeout of %s expired", op, timeout),
		Op:       op,
	}
}

// AlreadyReaped reports that a job's result was consumed by an earlier wait.
func AlreadyReaped(id string) error {
	return &Error{
		Sentinel: ErrAlreadyReaped,
		Message:  fmt.Sprintf("job %s has already been reaped", id),
		Resource: "job",
	}
}

// InvalidStateTransition reports a control action the job's status does not permit.
func InvalidStateTransition(id, action, status string) error {
	return &Error{
		Sentinel: ErrInvalidStateTransition,
		Message:  fmt.Sprintf("cannot %s job %s in state %s", action, id, status),
		Resource: "job",
	}
}
