package slurm

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"jobsession/internal/job"
)

// Output formats requested from squeue and sacct.
const (
	queueFormat      = "%T|%r"
	accountingFields = "JobID,State,ExitCode,Elapsed,TotalCPU"
)

// queueStatus maps a squeue state and reason onto a Status. Pending jobs
// are split by their hold reason.
func queueStatus(state, reason string) job.Status {
	switch state {
	case "PENDING":
		switch reason {
		case "JobHeldUser":
			return job.UserOnHold
		case "JobHeldAdmin":
			return job.SystemOnHold
		}
		return job.QueuedActive
	case "REQUEUE_HOLD":
		return job.SystemOnHold
	case "REQUEUED", "REQUEUE_FED", "PREEMPTED", "RESIZING":
		return job.QueuedActive
	}
	return accountingStatus(state)
}

// accountingStatus maps a Slurm job state, as reported by sacct, onto a
// Status.
func accountingStatus(state string) job.Status {
	switch state {
	case "PENDING", "REQUEUED":
		return job.QueuedActive
	case "RUNNING", "COMPLETING", "CONFIGURING", "STAGE_OUT", "SIGNALING":
		return job.Running
	case "SUSPENDED":
		return job.UserSuspended
	case "STOPPED":
		return job.SystemSuspended
	case "COMPLETED":
		return job.Done
	case "FAILED", "CANCELLED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY",
		"BOOT_FAIL", "DEADLINE", "PREEMPTED", "REVOKED", "SPECIAL_EXIT":
		return job.Failed
	}
	return job.Undetermined
}

// parseQueue reads the first line of squeue output.
func parseQueue(out string) (job.Status, bool) {
	for line := range strings.Lines(out) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		state, reason, _ := strings.Cut(line, "|")
		return queueStatus(state, reason), true
	}
	return job.Undetermined, false
}

// parseAccounting finds jobID in parsable sacct output and builds its
// report.
func parseAccounting(out, jobID string) (*job.Report, bool) {
	var fields []string
	for line := range strings.Lines(out) {
		f := strings.Split(strings.TrimSpace(line), "|")
		if len(f) < 5 || f[0] != jobID {
			continue
		}
		fields = f
		break
	}
	if fields == nil {
		return nil, false
	}

	// "CANCELLED by 1000"
	state, _, _ := strings.Cut(fields[1], " ")
	r := &job.Report{Status: accountingStatus(state)}
	if !r.Status.IsTerminal() {
		return r, true
	}

	code, signal := parseExitCode(fields[2])
	switch {
	case signal > 0:
		r.Signaled = true
		r.TerminatingSignal = job.SignalName(signal)
	case state == "COMPLETED" || state == "FAILED":
		r.Exited = true
		r.ExitStatus = code
	}

	elapsed, elapsedErr := parseDuration(fields[3])
	if state == "CANCELLED" && elapsedErr == nil && elapsed == 0 {
		r.Aborted = true
	}

	usage := make(map[string]string)
	if elapsedErr == nil {
		usage["wallclock"] = formatSeconds(elapsed)
	}
	if cpu, err := parseDuration(fields[4]); err == nil {
		usage["cpu"] = formatSeconds(cpu)
	}
	if len(usage) > 0 {
		r.ResourceUsage = usage
	}
	return r, true
}

// parseExitCode splits an sacct "code:signal" pair.
func parseExitCode(v string) (code, signal int) {
	c, s, _ := strings.Cut(v, ":")
	code, _ = strconv.Atoi(c)
	signal, _ = strconv.Atoi(s)
	return code, signal
}

// parseDuration parses a Slurm elapsed time, "[D-][HH:]MM:SS[.mmm]".
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var days int
	if d, rest, ok := strings.Cut(v, "-"); ok {
		n, err := strconv.Atoi(d)
		if err != nil {
			return 0, fmt.Errorf("invalid days in %q", v)
		}
		days, v = n, rest
	}

	parts := strings.Split(v, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in %q", v)
	}
	total := time.Duration(secs * float64(time.Second))
	units := []time.Duration{time.Minute, time.Hour}
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, fmt.Errorf("invalid field %q in %q", parts[i], v)
		}
		total += time.Duration(n) * units[len(parts)-2-i]
	}
	return total + time.Duration(days)*24*time.Hour, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
