//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobsession/internal/api"
	"jobsession/internal/dispatcher"
	"jobsession/internal/job"
	"jobsession/internal/testutil"
	"jobsession/pkg/cloudevent"
)

// BenchmarkRunJobs stress tests job submission through the HTTP API.
// Run with: go test -tags=e2e -run=^$ -bench=BenchmarkRunJobs -benchtime=30s ./e2e/
func BenchmarkRunJobs(b *testing.B) {
	var eventCount atomic.Int64
	callbackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackServer.Close()

	server, cleanup := createTestServer(b, callbackServer.URL)
	defer cleanup()

	resp := postJSON(b, server.URL+"/v1/templates", api.TemplateRequest{Attributes: shell("echo hello")})
	var tmpl api.TemplateResponse
	json.NewDecoder(resp.Body).Decode(&tmpl)
	resp.Body.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		body, _ := json.Marshal(api.RunRequest{TemplateID: tmpl.TemplateID})
		for pb.Next() {
			resp, err := http.Post(server.URL+"/v1/jobs", "application/json", bytes.NewReader(body))
			if err != nil {
				b.Errorf("Failed to run job: %v", err)
				continue
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusCreated {
				b.Errorf("Expected 201, got %d", resp.StatusCode)
			}
		}
	})

	b.StopTimer()
	b.ReportMetric(float64(eventCount.Load()), "events")

	if eventCount.Load() == 0 {
		b.Error("Expected at least some submitted events to be received")
	}
}

// TestEventThroughput measures how many events the dispatcher can deliver
// while keeping per-job order.
func TestEventThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping throughput test in short mode")
	}

	const (
		numJobs      = 100
		eventsPerJob = 100
		numEvents    = numJobs * eventsPerJob
		eventTimeout = 30 * time.Second
	)

	var received, outOfOrder atomic.Int64
	var mu sync.Mutex
	lastSeen := make(map[string]int)

	callbackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event cloudevent.CloudEvent
		json.NewDecoder(r.Body).Decode(&event)
		seq := int(event.Data["seq"].(float64))

		mu.Lock()
		if prev, ok := lastSeen[event.Subject]; ok && seq <= prev {
			outOfOrder.Add(1)
		}
		lastSeen[event.Subject] = seq
		mu.Unlock()

		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackServer.Close()

	d := dispatcher.NewMemory(dispatcher.MemoryConfig{
		BufferSize:  numEvents,
		Workers:     32,
		HTTPTimeout: 5 * time.Second,
	}, nil)
	defer d.Close(context.Background())

	dispatchStart := time.Now()
	for seq := range eventsPerJob {
		for j := range numJobs {
			jobID := fmt.Sprintf("job-%d", j)
			event := &dispatcher.Event{
				Payload:     newTestEvent(jobID, seq),
				Destination: callbackServer.URL,
				Key:         jobID,
			}
			if err := d.Dispatch(event); err != nil {
				t.Logf("Dispatch error: %v", err)
			}
		}
	}
	dispatchDuration := time.Since(dispatchStart)

	testutil.WaitForCount(t, &received, numEvents, testutil.WithTimeout(eventTimeout))
	totalDuration := time.Since(dispatchStart)

	stats := d.Stats()
	receivedCount := received.Load()

	t.Logf("=== Event Throughput Test ===")
	t.Logf("Dispatched:    %d events in %v", numEvents, dispatchDuration)
	t.Logf("Received:      %d/%d events", receivedCount, numEvents)
	t.Logf("Out of order:  %d", outOfOrder.Load())
	t.Logf("Delivered:     %d", stats.Delivered)
	t.Logf("Failed:        %d", stats.Failed)
	t.Logf("Dropped:       %d", stats.Dropped)
	t.Logf("Throughput:    %.0f events/sec", float64(receivedCount)/totalDuration.Seconds())

	if receivedCount < int64(numEvents*0.99) {
		t.Errorf("Expected at least 99%% delivery, got %.1f%%", float64(receivedCount)/float64(numEvents)*100)
	}
	if outOfOrder.Load() != 0 {
		t.Errorf("Expected per-job ordering, got %d events out of order", outOfOrder.Load())
	}
}

// TestBulkJobsWithEvents runs an array job and checks every task reports
// its submission and completion.
func TestBulkJobsWithEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping bulk jobs test in short mode")
	}

	const numTasks = 20

	var events sync.Map
	incEvent := func(eventType string) {
		val, _ := events.LoadOrStore(eventType, new(atomic.Int64))
		val.(*atomic.Int64).Add(1)
	}
	countEvents := func(eventType string) int64 {
		if v, ok := events.Load(eventType); ok {
			return v.(*atomic.Int64).Load()
		}
		return 0
	}

	callbackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event cloudevent.CloudEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err == nil {
			incEvent(event.Type)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackServer.Close()

	server, cleanup := createTestServer(t, callbackServer.URL)
	defer cleanup()

	resp := postJSON(t, server.URL+"/v1/templates", api.TemplateRequest{Attributes: shell("echo start; sleep 0.1; echo done")})
	var tmpl api.TemplateResponse
	json.NewDecoder(resp.Body).Decode(&tmpl)
	resp.Body.Close()

	start := time.Now()
	resp = postJSON(t, server.URL+"/v1/jobs/bulk", api.RunRequest{TemplateID: tmpl.TemplateID, Start: 1, End: numTasks, Step: 1})
	var run api.RunResponse
	json.NewDecoder(resp.Body).Decode(&run)
	resp.Body.Close()
	submitDuration := time.Since(start)

	if len(run.JobIDs) != numTasks {
		t.Fatalf("Expected %d tasks, got %d", numTasks, len(run.JobIDs))
	}

	timeout := 120
	resp = postJSON(t, server.URL+"/v1/jobs/synchronize", api.SynchronizeRequest{All: true, Timeout: &timeout, Dispose: true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Synchronize: expected 204, got %d", resp.StatusCode)
	}
	totalDuration := time.Since(start)

	testutil.WaitFor(t, func() bool {
		return countEvents(job.EventTypeFinished) >= numTasks
	}, testutil.WithTimeout(30*time.Second))

	t.Logf("=== Bulk Jobs Test ===")
	t.Logf("Tasks:         %d submitted in %v", numTasks, submitDuration)
	t.Logf("Completed in:  %v", totalDuration)
	events.Range(func(key, value any) bool {
		t.Logf("  %s: %d", key, value.(*atomic.Int64).Load())
		return true
	})

	if got := countEvents(job.EventTypeSubmitted); got != numTasks {
		t.Errorf("Expected %d submitted events, got %d", numTasks, got)
	}
	if got := countEvents(job.EventTypeFinished); got != numTasks {
		t.Errorf("Expected %d finished events, got %d", numTasks, got)
	}
}

// TestDispatcherUnderLoad tests dispatcher behavior under extreme load.
func TestDispatcherUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	const (
		eventRate     = 1000 // events per second target
		duration      = 10   // seconds
		totalEvents   = eventRate * duration
		slowPercent   = 5   // percentage of slow callbacks
		slowLatencyMs = 500 // latency for slow callbacks
	)

	var received, slow atomic.Int64

	callbackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if received.Add(1)%int64(100/slowPercent) == 0 {
			slow.Add(1)
			time.Sleep(time.Duration(slowLatencyMs) * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer callbackServer.Close()

	d := dispatcher.NewMemory(dispatcher.MemoryConfig{
		BufferSize:  totalEvents,
		Workers:     50,
		HTTPTimeout: 2 * time.Second,
	}, nil)
	defer d.Close(context.Background())

	ticker := time.NewTicker(time.Second / time.Duration(eventRate))
	defer ticker.Stop()

	start := time.Now()
	var dispatched atomic.Int64

	go func() {
		for i := 0; i < totalEvents; i++ {
			<-ticker.C
			jobID := fmt.Sprintf("load-%d", i%500)
			event := &dispatcher.Event{
				Payload:     newTestEvent(jobID, i),
				Destination: callbackServer.URL,
				Key:         jobID,
			}
			if err := d.Dispatch(event); err == nil {
				dispatched.Add(1)
			}
		}
	}()

	// Wait for all events to be dispatched, then wait for delivery
	testutil.WaitFor(t, func() bool {
		return dispatched.Load() >= int64(totalEvents)
	}, testutil.WithTimeout(time.Duration(duration+5)*time.Second))

	testutil.WaitFor(t, func() bool {
		stats := d.Stats()
		return stats.Delivered+stats.Failed+stats.Dropped >= dispatched.Load()
	}, testutil.WithTimeout(10*time.Second))

	stats := d.Stats()
	elapsed := time.Since(start)

	t.Logf("=== Dispatcher Load Test ===")
	t.Logf("Target rate:   %d events/sec for %ds", eventRate, duration)
	t.Logf("Dispatched:    %d events", dispatched.Load())
	t.Logf("Received:      %d events", received.Load())
	t.Logf("Slow calls:    %d (%.1f%%)", slow.Load(), float64(slow.Load())/float64(received.Load())*100)
	t.Logf("Delivered:     %d", stats.Delivered)
	t.Logf("Failed:        %d", stats.Failed)
	t.Logf("Dropped:       %d", stats.Dropped)
	t.Logf("Retries:       %d", stats.RetriesTotal)
	t.Logf("Requeued:      %d", stats.Requeued)
	t.Logf("Elapsed:       %v", elapsed)
	t.Logf("Actual rate:   %.0f events/sec", float64(received.Load())/elapsed.Seconds())

	dispatchedCount := dispatched.Load()
	receivedCount := received.Load()

	if dispatchedCount < int64(totalEvents*0.9) {
		t.Errorf("Expected to dispatch at least 90%% of events, got %d/%d", dispatchedCount, totalEvents)
	}

	deliveryRate := float64(receivedCount) / float64(dispatchedCount) * 100
	if deliveryRate < 90 {
		t.Errorf("Expected at least 90%% delivery rate, got %.1f%%", deliveryRate)
	}

	if stats.Dropped > int64(totalEvents*0.05) {
		t.Errorf("Too many dropped events: %d (max 5%% of %d)", stats.Dropped, totalEvents)
	}
}

func newTestEvent(jobID string, seq int) *cloudevent.CloudEvent {
	return cloudevent.New(job.EventTypeStatus, "benchmark", jobID, fmt.Sprintf("%s-%d", jobID, seq), map[string]any{"seq": seq})
}
