package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubScheduler struct {
	err   error
	calls atomic.Int32
}

func (s *stubScheduler) Ready(ctx context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	checker := NewChecker(nil)

	response := checker.Liveness(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		scheduler ReadinessChecker
		want      Status
		message   string
	}{
		{"no scheduler", nil, StatusUnhealthy, "scheduler not configured"},
		{"ready", &stubScheduler{}, StatusHealthy, ""},
		{"unreachable", &stubScheduler{err: errors.New("controller down")}, StatusUnhealthy, "controller down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			response := NewChecker(tt.scheduler).Readiness(context.Background())

			if response.Status != tt.want {
				t.Errorf("Expected %s status, got %s", tt.want, response.Status)
			}
			check, ok := response.Checks["scheduler"]
			if !ok {
				t.Fatal("Expected scheduler check to be present")
			}
			if check.Message != tt.message {
				t.Errorf("message = %q, want %q", check.Message, tt.message)
			}
		})
	}
}

func TestChecker_ReadinessCached(t *testing.T) {
	t.Parallel()
	stub := &stubScheduler{}
	checker := NewChecker(stub)

	checker.Readiness(context.Background())
	checker.Readiness(context.Background())

	if n := stub.calls.Load(); n != 1 {
		t.Errorf("expected one scheduler call within the cache window, got %d", n)
	}
}

func TestChecker_ShuttingDown(t *testing.T) {
	t.Parallel()
	stub := &stubScheduler{}
	checker := NewChecker(stub)

	if r := checker.Readiness(context.Background()); !r.IsHealthy() {
		t.Fatalf("expected healthy before shutdown, got %s", r.Status)
	}

	checker.SetShuttingDown()
	r := checker.Readiness(context.Background())
	if r.IsHealthy() {
		t.Error("expected unhealthy while shutting down")
	}
	if _, ok := r.Checks["shutdown"]; !ok {
		t.Error("expected shutdown check")
	}
}

func TestResponse_IsHealthy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"healthy", StatusHealthy, true},
		{"unhealthy", StatusUnhealthy, false},
		{"degraded", StatusDegraded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			response := &Response{Status: tt.status}
			if response.IsHealthy() != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", response.IsHealthy(), tt.expected)
			}
		})
	}
}

func TestChecker_AuxiliaryDependencies(t *testing.T) {
	t.Parallel()
	failing := ReadinessFunc(func(context.Context) error { return errors.New("2 of 2 event destinations unreachable") })
	ok := ReadinessFunc(func(context.Context) error { return nil })

	tests := []struct {
		name      string
		scheduler ReadinessChecker
		aux       ReadinessChecker
		want      Status
		serving   bool
	}{
		{"all healthy", &stubScheduler{}, ok, StatusHealthy, true},
		{"auxiliary failing", &stubScheduler{}, failing, StatusDegraded, true},
		{"scheduler failing", &stubScheduler{err: errors.New("down")}, ok, StatusUnhealthy, false},
		{"both failing", &stubScheduler{err: errors.New("down")}, failing, StatusUnhealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			checker := NewChecker(tt.scheduler, WithAuxiliary("events", tt.aux), WithTimeout(time.Second))
			r := checker.Readiness(context.Background())

			if r.Status != tt.want {
				t.Errorf("status = %s, want %s", r.Status, tt.want)
			}
			if r.Serving() != tt.serving {
				t.Errorf("Serving() = %v, want %v", r.Serving(), tt.serving)
			}
			if _, found := r.Checks["events"]; !found {
				t.Error("expected events check to be present")
			}
		})
	}
}

func TestChecker_Dependencies(t *testing.T) {
	t.Parallel()
	checker := NewChecker(&stubScheduler{}, WithAuxiliary("events", &stubScheduler{}))

	got := checker.Dependencies()
	if len(got) != 2 || got[0] != "events" || got[1] != "scheduler" {
		t.Errorf("Dependencies() = %v", got)
	}
}
