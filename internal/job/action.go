package job

import (
	"fmt"
	"strings"
)

// Action is a job control action. Values match the external numbering.
type Action int

// Control actions.
const (
	Suspend   Action = 0
	Resume    Action = 1
	Hold      Action = 2
	Release   Action = 3
	Terminate Action = 4
)

var actionNames = [...]string{"suspend", "resume", "hold", "release", "terminate"}

// Valid reports whether a is a defined action.
func (a Action) Valid() bool {
	return a >= Suspend && a <= Terminate
}

func (a Action) String() string {
	if a.Valid() {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// MarshalText encodes the action by name.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid control action %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes an action name, case-insensitively.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction returns the action with the given name.
func ParseAction(name string) (Action, error) {
	for i, n := range actionNames {
		if strings.EqualFold(n, name) {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("unknown control action %q", name)
}

// Permits reports whether the action may be applied to a job in status s.
func (a Action) Permits(s Status) bool {
	switch a {
	case Suspend:
		return s == Running
	case Resume:
		return s.IsSuspended()
	case Hold:
		return s == QueuedActive || s == SystemOnHold
	case Release:
		return s.IsHold()
	case Terminate:
		return s.Valid() && !s.IsTerminal()
	}
	return false
}

// Target names the jobs an operation applies to: either a single job or
// every job tracked by the session.
type Target struct {
	id  string
	all bool
}

// AllJobs targets every job tracked by the session.
var AllJobs = Target{all: true}

// ID targets a single job.
func ID(jobID string) Target {
	return Target{id: jobID}
}

// IDs converts job ids to targets.
func IDs(jobIDs ...string) []Target {
	targets := make([]Target, len(jobIDs))
	for i, id := range jobIDs {
		targets[i] = ID(id)
	}
	return targets
}

// IsAll reports whether t is the AllJobs target.
func (t Target) IsAll() bool {
	return t.all
}

// JobID returns the targeted job id; empty for AllJobs.
func (t Target) JobID() string {
	return t.id
}

func (t Target) String() string {
	if t.all {
		return "all jobs"
	}
	return t.id
}
