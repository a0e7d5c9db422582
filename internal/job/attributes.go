package job

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"jobsession/internal/apperrors"
)

// Scalar attribute names.
const (
	AttrRemoteCommand       = "drmaa_remote_command"
	AttrJobSubmissionState  = "drmaa_js_state"
	AttrWorkingDirectory    = "drmaa_wd"
	AttrJobCategory         = "drmaa_job_category"
	AttrNativeSpecification = "drmaa_native_specification"
	AttrBlockEmail          = "drmaa_block_email"
	AttrStartTime           = "drmaa_start_time"
	AttrJobName             = "drmaa_job_name"
	AttrInputPath           = "drmaa_input_path"
	AttrOutputPath          = "drmaa_output_path"
	AttrErrorPath           = "drmaa_error_path"
	AttrJoinFiles           = "drmaa_join_files"
	AttrTransferFiles       = "drmaa_transfer_files"
	AttrDeadlineTime        = "drmaa_deadline_time"
	AttrWallclockHardLimit  = "drmaa_wct_hlimit"
	AttrWallclockSoftLimit  = "drmaa_wct_slimit"
	AttrRunDurationHardLim  = "drmaa_run_duration_hlimit"
	AttrRunDurationSoftLim  = "drmaa_run_duration_slimit"
)

// Vector attribute names.
const (
	AttrArgv  = "drmaa_v_argv"
	AttrEnv   = "drmaa_v_env"
	AttrEmail = "drmaa_v_email"
)

// Values of drmaa_js_state.
const (
	StateHold   = "drmaa_hold"
	StateActive = "drmaa_active"
)

// Attribute describes a template attribute.
type Attribute struct {
	Name     string
	Vector   bool
	validate func(string) error
}

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var attributes = []Attribute{
	{Name: AttrRemoteCommand, validate: nonEmpty},
	{Name: AttrJobSubmissionState, validate: oneOf(StateHold, StateActive)},
	{Name: AttrWorkingDirectory, validate: hostPath},
	{Name: AttrJobCategory, validate: nonEmpty},
	{Name: AttrNativeSpecification},
	{Name: AttrBlockEmail, validate: oneOf("0", "1")},
	{Name: AttrStartTime, validate: dateTime},
	{Name: AttrJobName, validate: nonEmpty},
	{Name: AttrInputPath, validate: hostPath},
	{Name: AttrOutputPath, validate: hostPath},
	{Name: AttrErrorPath, validate: hostPath},
	{Name: AttrJoinFiles, validate: oneOf("y", "n")},
	{Name: AttrTransferFiles, validate: transferFiles},
	{Name: AttrDeadlineTime, validate: dateTime},
	{Name: AttrWallclockHardLimit, validate: timeLimit},
	{Name: AttrWallclockSoftLimit, validate: timeLimit},
	{Name: AttrRunDurationHardLim, validate: timeLimit},
	{Name: AttrRunDurationSoftLim, validate: timeLimit},
	{Name: AttrArgv, Vector: true},
	{Name: AttrEnv, Vector: true, validate: envEntry},
	{Name: AttrEmail, Vector: true, validate: nonEmpty},
}

// LookupAttribute returns the definition of a known attribute.
func LookupAttribute(name string) (Attribute, bool) {
	for _, a := range attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// AttributeNames returns every known attribute name, scalar before vector.
func AttributeNames() []string {
	names := make([]string, 0, len(attributes))
	for _, a := range attributes {
		names = append(names, a.Name)
	}
	return names
}

// SplitAttributeNames partitions names into scalar and vector attributes,
// dropping unknown ones.
func SplitAttributeNames(names []string) (scalar, vector []string) {
	for _, name := range names {
		a, ok := LookupAttribute(name)
		switch {
		case !ok:
		case a.Vector:
			vector = append(vector, name)
		default:
			scalar = append(scalar, name)
		}
	}
	return scalar, vector
}

// Check validates values against the attribute's arity and value format.
func (a Attribute) Check(values []string) error {
	if !a.Vector && len(values) != 1 {
		return apperrors.InvalidAttribute(a.Name, fmt.Sprintf("expects exactly one value, got %d", len(values)))
	}
	if a.validate == nil {
		return nil
	}
	for _, v := range values {
		if err := a.validate(v); err != nil {
			return apperrors.InvalidAttribute(a.Name, err.Error())
		}
	}
	return nil
}

func nonEmpty(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("value must not be empty")
	}
	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(v string) error {
		if !slices.Contains(allowed, v) {
			return fmt.Errorf("value %q must be one of %s", v, strings.Join(allowed, ", "))
		}
		return nil
	}
}

func hostPath(v string) error {
	_, path := SplitHostPath(v)
	if path == "" {
		return fmt.Errorf("path must not be empty")
	}
	return nil
}

func transferFiles(v string) error {
	if v == "" {
		return fmt.Errorf("value must not be empty")
	}
	for _, r := range v {
		if !strings.ContainsRune("eio", r) {
			return fmt.Errorf("unexpected transfer flag %q", r)
		}
	}
	return nil
}

func envEntry(v string) error {
	name, _, ok := strings.Cut(v, "=")
	if !ok || !envName.MatchString(name) {
		return fmt.Errorf("environment entry %q must have the form NAME=value", v)
	}
	return nil
}

func timeLimit(v string) error {
	_, err := ParseTimeLimit(v)
	return err
}

func dateTime(v string) error {
	_, err := ParseDateTime(v, time.Now())
	return err
}

// SplitHostPath splits a "[hostname]:path" value. Values without a colon
// are a bare path.
func SplitHostPath(v string) (host, path string) {
	if before, after, ok := strings.Cut(v, ":"); ok {
		return before, after
	}
	return "", v
}

// ParseTimeLimit parses a "[[h:]m:]s" duration.
func ParseTimeLimit(v string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("time limit %q must have the form [[h:]m:]s", v)
	}

	var total time.Duration
	unit := time.Second
	for i := len(parts) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("time limit %q must have the form [[h:]m:]s", v)
		}
		total += time.Duration(n) * unit
		unit *= 60
	}
	return total, nil
}

// FormatTimeLimit renders d as "h:mm:ss", rounding up to the next second.
func FormatTimeLimit(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// ParseDateTime parses "[[[[CC]YY/]MM/]DD] hh:mm[:ss] [{-|+}UU:uu]".
// Omitted date fields are taken from now. When no date is given and the
// time of day has already passed, the next day is used.
func ParseDateTime(v string, now time.Time) (time.Time, error) {
	invalid := fmt.Errorf("time %q must have the form [[[[CC]YY/]MM/]DD] hh:mm[:ss] [{-|+}UU:uu]", v)

	fields := strings.Fields(v)
	var datePart, clockPart, zonePart string
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "+") || strings.HasPrefix(f, "-"):
			if zonePart != "" || clockPart == "" {
				return time.Time{}, invalid
			}
			zonePart = f
		case strings.Contains(f, ":"):
			if clockPart != "" {
				return time.Time{}, invalid
			}
			clockPart = f
		default:
			if datePart != "" || clockPart != "" {
				return time.Time{}, invalid
			}
			datePart = f
		}
	}
	if clockPart == "" {
		return time.Time{}, invalid
	}

	loc := now.Location()
	if zonePart != "" {
		offset, err := parseZone(zonePart)
		if err != nil {
			return time.Time{}, invalid
		}
		loc = time.FixedZone(zonePart, offset)
		now = now.In(loc)
	}

	clock, err := parseNumbers(clockPart, ":")
	if err != nil || len(clock) < 2 || len(clock) > 3 {
		return time.Time{}, invalid
	}
	hour, minute, second := clock[0], clock[1], 0
	if len(clock) == 3 {
		second = clock[2]
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, invalid
	}

	year, month, day := now.Date()
	if datePart != "" {
		parts := strings.Split(datePart, "/")
		nums, err := parseNumbers(datePart, "/")
		if err != nil || len(nums) > 3 {
			return time.Time{}, invalid
		}
		day = nums[len(nums)-1]
		if len(nums) >= 2 {
			month = time.Month(nums[len(nums)-2])
		}
		if len(nums) == 3 {
			year = nums[0]
			if len(parts[0]) <= 2 {
				year += now.Year() / 100 * 100
			}
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return time.Time{}, invalid
		}
	}

	t := time.Date(year, month, day, hour, minute, second, 0, loc)
	if t.Day() != day {
		return time.Time{}, invalid
	}
	if datePart == "" && t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func parseZone(z string) (int, error) {
	sign := 1
	if z[0] == '-' {
		sign = -1
	}
	nums, err := parseNumbers(z[1:], ":")
	if err != nil || len(nums) != 2 || nums[0] > 23 || nums[1] > 59 {
		return 0, fmt.Errorf("invalid zone %q", z)
	}
	return sign * (nums[0]*3600 + nums[1]*60), nil
}

func parseNumbers(s, sep string) ([]int, error) {
	parts := strings.Split(s, sep)
	nums := make([]int, len(parts))
	for i, p := range parts {
		if p == "" || len(p) > 4 {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		nums[i] = n
	}
	return nums, nil
}
