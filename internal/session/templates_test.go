package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"jobsession/internal/apperrors"
	"jobsession/internal/config"
	"jobsession/internal/job"
	"jobsession/internal/testutil"
)

func TestTemplates_AttributeRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession(t)
	id, err := s.AllocateTemplate()
	if err != nil {
		t.Fatal(err)
	}

	scalars := map[string]string{
		job.AttrRemoteCommand:       "/usr/bin/env",
		job.AttrJobSubmissionState:  job.StateHold,
		job.AttrWorkingDirectory:    "$drmaa_hd_ph$/work",
		job.AttrNativeSpecification: "--partition=debug --qos=high",
		job.AttrJobName:             "round-trip",
		job.AttrOutputPath:          ":$drmaa_wd_ph$/out.$drmaa_incr_ph$",
		job.AttrJoinFiles:           "y",
		job.AttrWallclockHardLimit:  "1:30:00",
		job.AttrStartTime:           "2099/01/01 00:00",
	}
	for name, value := range scalars {
		if err := s.SetAttributeValue(id, name, value); err != nil {
			t.Fatalf("SetAttributeValue(%s) failed: %v", name, err)
		}
		got, err := s.GetAttribute(id, name)
		if err != nil {
			t.Fatalf("GetAttribute(%s) failed: %v", name, err)
		}
		if len(got) != 1 || got[0] != value {
			t.Errorf("GetAttribute(%s) = %v, want [%s]", name, got, value)
		}
	}

	vectors := map[string][]string{
		job.AttrArgv:  {"-c", "echo $HOME", ""},
		job.AttrEnv:   {"A=1", "PATH=/bin"},
		job.AttrEmail: {"ops@example.com"},
	}
	for name, values := range vectors {
		if err := s.SetAttributeValues(id, name, values); err != nil {
			t.Fatalf("SetAttributeValues(%s) failed: %v", name, err)
		}
		got, _ := s.GetAttribute(id, name)
		if !slices.Equal(got, values) {
			t.Errorf("GetAttribute(%s) = %v, want %v", name, got, values)
		}
	}

	names, _ := s.GetAttributeNames(id)
	if len(names) != len(scalars)+len(vectors) {
		t.Errorf("expected %d names, got %v", len(scalars)+len(vectors), names)
	}
}

func TestTemplates_SetOverwrites(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession(t)
	id, _ := s.AllocateTemplate()

	_ = s.SetAttributeValues(id, job.AttrArgv, []string{"a", "b", "c"})
	_ = s.SetAttributeValues(id, job.AttrArgv, []string{"d"})
	got, _ := s.GetAttribute(id, job.AttrArgv)
	if !slices.Equal(got, []string{"d"}) {
		t.Errorf("expected overwrite, got %v", got)
	}
}

func TestTemplates_IDReuseHasNoResidualState(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession(t)

	ids := make([]int, 3)
	for i := range ids {
		ids[i], _ = s.AllocateTemplate()
	}
	if !slices.Equal(ids, []int{0, 1, 2}) {
		t.Fatalf("unexpected initial ids %v", ids)
	}
	_ = s.SetAttributeValue(ids[1], job.AttrJobName, "old")
	_ = s.SetAttributeValue(ids[0], job.AttrJobName, "older")

	if err := s.DeleteTemplate(ids[1]); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTemplate(ids[0]); err != nil {
		t.Fatal(err)
	}

	first, _ := s.AllocateTemplate()
	second, _ := s.AllocateTemplate()
	third, _ := s.AllocateTemplate()
	if first != 0 || second != 1 || third != 3 {
		t.Errorf("expected ids 0, 1, 3 after reuse, got %d, %d, %d", first, second, third)
	}

	for _, id := range []int{first, second} {
		names, err := s.GetAttributeNames(id)
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 0 {
			t.Errorf("reused template %d carries attributes %v", id, names)
		}
		if _, err := s.GetAttribute(id, job.AttrJobName); !errors.Is(err, apperrors.ErrInvalidAttribute) {
			t.Errorf("expected ErrInvalidAttribute for unset attribute, got %v", err)
		}
	}
}

func TestTemplates_Errors(t *testing.T) {
	t.Parallel()
	fake := testutil.NewFakeScheduler()
	fake.SetAttributes(job.AttrRemoteCommand, job.AttrArgv, job.AttrJobName)
	s := New(fake.Connector())
	if err := s.Init(t.Context(), "fake"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Exit(context.Background()) })
	id, _ := s.AllocateTemplate()

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{"unknown template", func() error { return s.SetAttributeValue(99, job.AttrJobName, "x") }, apperrors.ErrInvalidTemplate},
		{"unknown attribute", func() error { return s.SetAttributeValue(id, "drmaa_colour", "x") }, apperrors.ErrInvalidAttribute},
		{"unsupported by scheduler", func() error { return s.SetAttributeValue(id, job.AttrWorkingDirectory, "/tmp") }, apperrors.ErrInvalidAttribute},
		{"scalar set as vector", func() error { return s.SetAttributeValues(id, job.AttrJobName, []string{"x"}) }, apperrors.ErrInvalidAttribute},
		{"vector set as scalar", func() error { return s.SetAttributeValue(id, job.AttrArgv, "x") }, apperrors.ErrInvalidAttribute},
		{"malformed value", func() error { return s.SetAttributeValue(id, job.AttrJobName, "") }, apperrors.ErrInvalidAttribute},
		{"get never set", func() error { _, err := s.GetAttribute(id, job.AttrJobName); return err }, apperrors.ErrInvalidAttribute},
		{"get unknown template", func() error { _, err := s.GetAttribute(7, job.AttrJobName); return err }, apperrors.ErrInvalidTemplate},
		{"names unknown template", func() error { _, err := s.GetAttributeNames(7); return err }, apperrors.ErrInvalidTemplate},
		{"delete unknown template", func() error { return s.DeleteTemplate(42) }, apperrors.ErrInvalidTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := s.DeleteTemplate(id); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTemplate(id); !errors.Is(err, apperrors.ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate on double delete, got %v", err)
	}
}

func TestTemplates_CategoryValidation(t *testing.T) {
	t.Parallel()
	cats := &config.Categories{Categories: map[string]string{"gpu": "--gres=gpu:1"}}
	s, _ := newTestSession(t, WithCategories(cats))
	id, _ := s.AllocateTemplate()

	if err := s.SetAttributeValue(id, job.AttrJobCategory, "gpu"); err != nil {
		t.Errorf("configured category rejected: %v", err)
	}
	if err := s.SetAttributeValue(id, job.AttrJobCategory, "bigmem"); !errors.Is(err, apperrors.ErrInvalidAttribute) {
		t.Errorf("expected ErrInvalidAttribute for unknown category, got %v", err)
	}
}

func TestTemplates_ConcurrentAllocate(t *testing.T) {
	t.Parallel()
	s, _ := newTestSession(t)

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.AllocateTemplate()
			if err != nil {
				t.Error(err)
				return
			}
			_ = s.SetAttributeValue(id, job.AttrJobName, "concurrent")
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("id %d allocated twice", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d distinct ids, got %d", n, len(seen))
	}
}
