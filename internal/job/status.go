// Package job defines the job status taxonomy, control actions, job
// templates and the Scheduler contract implemented by the backends.
package job

import (
	"fmt"
	"time"
)

// Status is a job program status. The numeric values are part of the
// external contract: the high nibble groups the state (pending, running,
// finished) and the low nibble distinguishes hold and suspend variants.
type Status int

// Job program statuses.
const (
	Undetermined     Status = 0x00
	QueuedActive     Status = 0x10
	SystemOnHold     Status = 0x11
	UserOnHold       Status = 0x12
	UserSystemOnHold Status = 0x13
	Running          Status = 0x20
	SystemSuspended  Status = 0x21
	UserSuspended    Status = 0x22
	Done             Status = 0x30
	Failed           Status = 0x40
)

var statusNames = map[Status]string{
	Undetermined:     "UNDETERMINED",
	QueuedActive:     "QUEUED_ACTIVE",
	SystemOnHold:     "SYSTEM_ON_HOLD",
	UserOnHold:       "USER_ON_HOLD",
	UserSystemOnHold: "USER_SYSTEM_ON_HOLD",
	Running:          "RUNNING",
	SystemSuspended:  "SYSTEM_SUSPENDED",
	UserSuspended:    "USER_SUSPENDED",
	Done:             "DONE",
	Failed:           "FAILED",
}

// Valid reports whether s is one of the ten defined statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsPending reports whether the job is queued, held or not yet known.
func (s Status) IsPending() bool {
	return s.Valid() && s < Running
}

// IsHold reports whether the job is held by the user, the system or both.
func (s Status) IsHold() bool {
	switch s {
	case SystemOnHold, UserOnHold, UserSystemOnHold:
		return true
	}
	return false
}

// IsRunning reports whether the job is executing or suspended.
func (s Status) IsRunning() bool {
	return s >= Running && s <= UserSuspended
}

// IsSuspended reports whether execution is suspended.
func (s Status) IsSuspended() bool {
	return s == SystemSuspended || s == UserSuspended
}

// IsTerminal reports whether the job finished. Terminal statuses never change.
func (s Status) IsTerminal() bool {
	return s == Done || s == Failed
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(0x%02x)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid job status 0x%02x", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus returns the status with the given upper-case name.
func ParseStatus(name string) (Status, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return Undetermined, fmt.Errorf("unknown job status %q", name)
}

// Wait timeouts with special meaning. Any positive duration is a deadline
// relative to the start of the call.
const (
	WaitForever time.Duration = -1
	NoWait      time.Duration = 0
)

// StatusChange describes a status transition observed by the session.
type StatusChange struct {
	JobID string
	From  Status
	To    Status
	At    time.Time
	// Report is set when To is terminal.
	Report *Report
}
