package slurm

import (
	"fmt"
	"strings"
	"time"

	"jobsession/internal/apperrors"
	"jobsession/internal/job"
)

// Filename pattern sbatch replaces with the array task index.
const arrayIndexPattern = "%a"

// submission is one sbatch invocation: its options and the batch script
// fed on stdin.
type submission struct {
	args   []string
	script string
}

// buildSubmission translates a template into sbatch options. A non-nil r
// submits an array job.
func (s *Scheduler) buildSubmission(tmpl *job.Template, r *job.Range, now time.Time) (*submission, error) {
	command := tmpl.Value(job.AttrRemoteCommand)
	if command == "" {
		return nil, apperrors.InvalidAttribute(job.AttrRemoteCommand, "remote command is required")
	}

	args := []string{"--parsable"}

	var workDir string
	if v := tmpl.Value(job.AttrWorkingDirectory); v != "" {
		workDir = job.Placeholders{Home: s.cfg.HomeDir}.Expand(hostPath(v))
	}
	paths := s.pathPlaceholders(workDir, r != nil)

	if tmpl.Value(job.AttrJobSubmissionState) == job.StateHold {
		args = append(args, "--hold")
	}
	if name := tmpl.Value(job.AttrJobName); name != "" {
		args = append(args, "--job-name="+name)
	}
	if workDir != "" {
		args = append(args, "--chdir="+workDir)
	}
	if v := tmpl.Value(job.AttrInputPath); v != "" {
		args = append(args, "--input="+paths.Expand(hostPath(v)))
	}
	if v := tmpl.Value(job.AttrOutputPath); v != "" {
		args = append(args, "--output="+paths.Expand(hostPath(v)))
	}
	if v := tmpl.Value(job.AttrErrorPath); v != "" && tmpl.Value(job.AttrJoinFiles) != "y" {
		args = append(args, "--error="+paths.Expand(hostPath(v)))
	}

	args = append(args, mailArgs(tmpl)...)

	for _, opt := range []struct{ attr, flag string }{
		{job.AttrStartTime, "--begin="},
		{job.AttrDeadlineTime, "--deadline="},
	} {
		v := tmpl.Value(opt.attr)
		if v == "" {
			continue
		}
		t, err := job.ParseDateTime(v, now)
		if err != nil {
			return nil, apperrors.InvalidAttribute(opt.attr, err.Error())
		}
		args = append(args, opt.flag+t.Local().Format("2006-01-02T15:04:05"))
	}

	for _, opt := range []struct {
		attrs []string
		flag  string
	}{
		{[]string{job.AttrWallclockHardLimit, job.AttrRunDurationHardLim}, "--time="},
		{[]string{job.AttrWallclockSoftLimit, job.AttrRunDurationSoftLim}, "--time-min="},
	} {
		v, attr := firstSet(tmpl, opt.attrs...)
		if v == "" {
			continue
		}
		d, err := job.ParseTimeLimit(v)
		if err != nil {
			return nil, apperrors.InvalidAttribute(attr, err.Error())
		}
		args = append(args, opt.flag+job.FormatTimeLimit(d))
	}

	args = append(args, strings.Fields(tmpl.Value(job.AttrNativeSpecification))...)

	if r != nil {
		args = append(args, fmt.Sprintf("--array=%d-%d:%d", r.Start, r.End, r.Step))
	}

	argv, _ := tmpl.Get(job.AttrArgv)
	env, _ := tmpl.Get(job.AttrEnv)
	return &submission{args: args, script: batchScript(command, argv, env, r != nil)}, nil
}

// pathPlaceholders returns the substitutions for file path attributes.
// Relative paths resolve against --chdir, so the working directory
// placeholder collapses to "." when no directory is set.
func (s *Scheduler) pathPlaceholders(workDir string, bulk bool) job.Placeholders {
	p := job.Placeholders{Home: s.cfg.HomeDir, WorkDir: workDir, Index: "0"}
	if workDir == "" {
		p.WorkDir = "."
	}
	if bulk {
		p.Index = arrayIndexPattern
	}
	return p
}

func hostPath(v string) string {
	_, path := job.SplitHostPath(v)
	return path
}

func firstSet(tmpl *job.Template, names ...string) (value, name string) {
	for _, n := range names {
		if v := tmpl.Value(n); v != "" {
			return v, n
		}
	}
	return "", ""
}

func mailArgs(tmpl *job.Template) []string {
	emails, _ := tmpl.Get(job.AttrEmail)
	blocked := tmpl.Value(job.AttrBlockEmail) == "1"

	var args []string
	if len(emails) > 0 {
		args = append(args, "--mail-user="+strings.Join(emails, ","))
	}
	switch {
	case blocked:
		args = append(args, "--mail-type=NONE")
	case len(emails) > 0:
		args = append(args, "--mail-type=END,FAIL")
	}
	return args
}

// Shell expansions standing in for placeholders inside the batch script.
// A single job has index 0, matching its file paths.
var (
	arrayScriptPlaceholders = strings.NewReplacer(
		job.PlaceholderIndex, `'"$SLURM_ARRAY_TASK_ID"'`,
		job.PlaceholderHome, `'"$HOME"'`,
		job.PlaceholderWorkDir, `'"$PWD"'`,
	)
	singleScriptPlaceholders = strings.NewReplacer(
		job.PlaceholderIndex, "0",
		job.PlaceholderHome, `'"$HOME"'`,
		job.PlaceholderWorkDir, `'"$PWD"'`,
	)
)

// batchScript renders the job script: environment exports followed by an
// exec of the command.
func batchScript(command string, argv, env []string, bulk bool) string {
	placeholders := singleScriptPlaceholders
	if bulk {
		placeholders = arrayScriptPlaceholders
	}
	word := func(s string) string { return shellWord(s, placeholders) }

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, entry := range env {
		name, value, _ := strings.Cut(entry, "=")
		fmt.Fprintf(&b, "export %s=%s\n", name, word(value))
	}
	b.WriteString("exec ")
	b.WriteString(word(command))
	for _, arg := range argv {
		b.WriteByte(' ')
		b.WriteString(word(arg))
	}
	b.WriteByte('\n')
	return b.String()
}

// shellWord single-quotes s for sh, leaving placeholders to expand at run
// time.
func shellWord(s string, placeholders *strings.Replacer) string {
	quoted := "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	return placeholders.Replace(quoted)
}
