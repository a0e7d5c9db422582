package job

import (
	"maps"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Report is a scheduler's view of a job at one point in time. Exit
// details are only meaningful once Status is terminal.
type Report struct {
	Status            Status            `json:"status"`
	Exited            bool              `json:"exited"`
	ExitStatus        int               `json:"exitStatus"`
	Signaled          bool              `json:"signaled"`
	TerminatingSignal string            `json:"terminatingSignal,omitempty"`
	CoreDump          bool              `json:"coreDump"`
	Aborted           bool              `json:"aborted"`
	ResourceUsage     map[string]string `json:"resourceUsage,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.ResourceUsage = maps.Clone(r.ResourceUsage)
	return &c
}

// Info is the result of a successful wait on a finished job.
type Info struct {
	JobID string `json:"jobId"`
	Report
}

// NewInfo builds the wait result for jobID from a terminal report.
func NewInfo(jobID string, r *Report) *Info {
	return &Info{JobID: jobID, Report: *r.Clone()}
}

// ParseResourceUsage turns "name=value" entries into a map. Entries
// without a separator are kept with an empty value; later duplicates win.
func ParseResourceUsage(entries []string) map[string]string {
	usage := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, value, _ := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		usage[name] = strings.TrimSpace(value)
	}
	return usage
}

// SignalName returns the conventional name of signal n, such as "SIGTERM".
func SignalName(n int) string {
	if name := unix.SignalName(syscall.Signal(n)); name != "" {
		return name
	}
	return "SIG" + strconv.Itoa(n)
}
