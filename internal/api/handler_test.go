package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"jobsession/internal/health"
	"jobsession/internal/job"
	"jobsession/internal/session"
	"jobsession/internal/testutil"
)

const testAPIKey = "test-key"

type testServer struct {
	router  http.Handler
	session *session.Session
	fake    *testutil.FakeScheduler
}

// newTestServer builds the full router over a session on a fake scheduler.
// The session is left inactive when init is false.
func newTestServer(t *testing.T, init bool) *testServer {
	t.Helper()
	fake := testutil.NewFakeScheduler()
	s := session.New(fake.Connector(), session.WithPollSchedule(5*time.Millisecond, 20*time.Millisecond))
	if init {
		if err := s.Init(context.Background(), "fake"); err != nil {
			t.Fatalf("Init failed: %v", err)
		}
		t.Cleanup(func() { _ = s.Exit(context.Background()) })
	}

	router := NewRouter(RouterConfig{
		Session:       s,
		HealthChecker: health.NewChecker(s),
		APIKey:        testAPIKey,
	})
	return &testServer{router: router, session: s, fake: fake}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

// createTemplate allocates a template running /bin/true and returns its id.
func (ts *testServer) createTemplate(t *testing.T, extra map[string][]string) int {
	t.Helper()
	attrs := map[string][]string{job.AttrRemoteCommand: {"/bin/true"}}
	for k, v := range extra {
		attrs[k] = v
	}
	w := ts.do(t, http.MethodPost, "/v1/templates", TemplateRequest{Attributes: attrs})
	expectStatus(t, w, http.StatusCreated)
	return decodeBody[TemplateResponse](t, w).TemplateID
}

func (ts *testServer) runJob(t *testing.T, templateID int) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/jobs", RunRequest{TemplateID: templateID})
	expectStatus(t, w, http.StatusCreated)
	return decodeBody[RunResponse](t, w).JobID
}

func TestHandler_Livez(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	expectStatus(t, w, http.StatusOK)
	if resp := decodeBody[health.Response](t, w); resp.Status != health.StatusHealthy {
		t.Errorf("Expected status healthy, got %s", resp.Status)
	}
}

func TestHandler_Readyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		init bool
		want int
	}{
		{"active session", true, http.StatusOK},
		{"inactive session", false, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, tt.init)

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			ts.router.ServeHTTP(w, req)

			expectStatus(t, w, tt.want)
		})
	}
}

func TestHandler_RequiresAuth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	expectStatus(t, w, http.StatusUnauthorized)
}

func TestHandler_GetSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodGet, "/v1/session", nil)
	expectStatus(t, w, http.StatusOK)

	info := decodeBody[SessionInfo](t, w)
	if info.Contact != "fake" {
		t.Errorf("Expected contact fake, got %q", info.Contact)
	}
	if info.DRMSInfo != "fake 1.0" {
		t.Errorf("Expected DRMS info from the scheduler, got %q", info.DRMSInfo)
	}
	if info.Version == "" || info.Implementation == "" {
		t.Errorf("Expected version and implementation, got %+v", info)
	}
}

func TestHandler_InactiveSession(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, false)

	for _, path := range []string{"/v1/session", "/v1/attributes", "/v1/jobs"} {
		w := ts.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s: expected status %d, got %d", path, http.StatusServiceUnavailable, w.Code)
		}
	}
}

func TestHandler_GetAttributes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodGet, "/v1/attributes", nil)
	expectStatus(t, w, http.StatusOK)

	resp := decodeBody[AttributeNamesResponse](t, w)
	if !slices.Contains(resp.Scalar, job.AttrRemoteCommand) {
		t.Errorf("Expected %s among scalar attributes, got %v", job.AttrRemoteCommand, resp.Scalar)
	}
	if !slices.Contains(resp.Vector, job.AttrArgv) {
		t.Errorf("Expected %s among vector attributes, got %v", job.AttrArgv, resp.Vector)
	}
	if slices.Contains(resp.Scalar, job.AttrArgv) {
		t.Errorf("Vector attribute listed as scalar: %v", resp.Scalar)
	}
}

func TestHandler_TemplateLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodPost, "/v1/templates", nil)
	expectStatus(t, w, http.StatusCreated)
	id := decodeBody[TemplateResponse](t, w).TemplateID
	if loc := w.Header().Get("Location"); loc != fmt.Sprintf("/v1/templates/%d", id) {
		t.Errorf("Unexpected Location header %q", loc)
	}

	base := fmt.Sprintf("/v1/templates/%d/attributes/", id)

	w = ts.do(t, http.MethodPut, base+job.AttrRemoteCommand, map[string]string{"value": "/bin/echo"})
	expectStatus(t, w, http.StatusOK)

	w = ts.do(t, http.MethodPut, base+job.AttrArgv, map[string][]string{"values": {"hello", "world"}})
	expectStatus(t, w, http.StatusOK)

	w = ts.do(t, http.MethodGet, base+job.AttrArgv, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[AttributeResponse](t, w).Values; !slices.Equal(got, []string{"hello", "world"}) {
		t.Errorf("Expected argv [hello world], got %v", got)
	}

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/templates/%d", id), nil)
	expectStatus(t, w, http.StatusOK)
	tmpl := decodeBody[TemplateResponse](t, w)
	if got := tmpl.Attributes[job.AttrRemoteCommand]; !slices.Equal(got, []string{"/bin/echo"}) {
		t.Errorf("Expected remote command /bin/echo, got %v", got)
	}

	w = ts.do(t, http.MethodDelete, fmt.Sprintf("/v1/templates/%d", id), nil)
	expectStatus(t, w, http.StatusNoContent)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/v1/templates/%d", id), nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestHandler_TemplateErrors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)
	id := ts.createTemplate(t, nil)
	base := fmt.Sprintf("/v1/templates/%d/attributes/", id)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"non-numeric template id", http.MethodGet, "/v1/templates/abc", nil, http.StatusBadRequest},
		{"unknown template", http.MethodGet, "/v1/templates/9999", nil, http.StatusNotFound},
		{"unknown attribute", http.MethodPut, base + "no_such_attribute", map[string]string{"value": "x"}, http.StatusBadRequest},
		{"scalar with two values", http.MethodPut, base + job.AttrJobName, map[string][]string{"values": {"a", "b"}}, http.StatusBadRequest},
		{"invalid submission state", http.MethodPut, base + job.AttrJobSubmissionState, map[string]string{"value": "sideways"}, http.StatusBadRequest},
		{"missing body", http.MethodPut, base + job.AttrJobName, nil, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/v1/templates", `{"attributes": nope}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.body)
			expectStatus(t, w, tt.want)

			if resp := decodeBody[map[string]string](t, w); resp["error"] == "" {
				t.Error("Expected error message in response")
			}
		})
	}
}

func TestHandler_CreateTemplate_InvalidAttributeDiscardsTemplate(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodPost, "/v1/templates", TemplateRequest{
		Attributes: map[string][]string{"no_such_attribute": {"x"}},
	})
	expectStatus(t, w, http.StatusBadRequest)

	// The failed template's id is freed and handed out again.
	if id := ts.createTemplate(t, nil); id != 0 {
		t.Errorf("Expected template id 0 to be reused, got %d", id)
	}
}

func TestHandler_RunAndWait(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)
	id := ts.createTemplate(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/jobs", RunRequest{TemplateID: id})
	expectStatus(t, w, http.StatusCreated)
	jobID := decodeBody[RunResponse](t, w).JobID
	if jobID == "" {
		t.Fatal("Expected a job id")
	}
	if loc := w.Header().Get("Location"); loc != "/v1/jobs/"+jobID {
		t.Errorf("Unexpected Location header %q", loc)
	}

	w = ts.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[JobStatusResponse](t, w).Status; got != job.QueuedActive {
		t.Errorf("Expected QUEUED_ACTIVE, got %v", got)
	}

	// Polling once with a zero timeout reports the job as still running.
	w = ts.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/wait?timeout=0", nil)
	expectStatus(t, w, http.StatusRequestTimeout)

	ts.fake.Finish(jobID, 7)

	w = ts.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/wait?timeout=5", nil)
	expectStatus(t, w, http.StatusOK)
	info := decodeBody[job.Info](t, w)
	if info.JobID != jobID || info.Status != job.Done || !info.Exited || info.ExitStatus != 7 {
		t.Errorf("Unexpected wait result %+v", info)
	}

	w = ts.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/wait?timeout=0", nil)
	expectStatus(t, w, http.StatusGone)
}

func TestHandler_RunJob_Errors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodPost, "/v1/templates", nil)
	expectStatus(t, w, http.StatusCreated)
	empty := decodeBody[TemplateResponse](t, w).TemplateID

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown template", RunRequest{TemplateID: 9999}, http.StatusNotFound},
		{"template without command", RunRequest{TemplateID: empty}, http.StatusBadRequest},
		{"invalid json", "invalid json", http.StatusBadRequest},
		{"empty body", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/v1/jobs", tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestHandler_RunBulkJobs(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)
	id := ts.createTemplate(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/jobs/bulk", map[string]int{"templateId": id, "start": 1, "end": 5, "step": 2})
	expectStatus(t, w, http.StatusCreated)
	if ids := decodeBody[RunResponse](t, w).JobIDs; len(ids) != 3 {
		t.Errorf("Expected 3 job ids, got %v", ids)
	}

	// Step defaults to one.
	w = ts.do(t, http.MethodPost, "/v1/jobs/bulk", map[string]int{"templateId": id, "start": 0, "end": 3})
	expectStatus(t, w, http.StatusCreated)
	if ids := decodeBody[RunResponse](t, w).JobIDs; len(ids) != 4 {
		t.Errorf("Expected 4 job ids, got %v", ids)
	}

	w = ts.do(t, http.MethodPost, "/v1/jobs/bulk", map[string]int{"templateId": id, "start": 5, "end": 1, "step": 1})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestHandler_ListJobs(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodGet, "/v1/jobs", nil)
	expectStatus(t, w, http.StatusOK)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"jobs":[]`)) {
		t.Errorf("Expected an empty job list, got %s", w.Body.String())
	}

	id := ts.createTemplate(t, nil)
	first := ts.runJob(t, id)
	second := ts.runJob(t, id)

	w = ts.do(t, http.MethodGet, "/v1/jobs", nil)
	expectStatus(t, w, http.StatusOK)
	jobs := decodeBody[JobListResponse](t, w).Jobs
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	if !slices.Contains(ids, first) || !slices.Contains(ids, second) {
		t.Errorf("Expected %s and %s in %v", first, second, ids)
	}
}

func TestHandler_GetJob_Unknown(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	w := ts.do(t, http.MethodGet, "/v1/jobs/424242", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestHandler_WaitJob_InvalidTimeout(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)
	jobID := ts.runJob(t, ts.createTemplate(t, nil))

	for _, timeout := range []string{"abc", "-2", "1.5", "9223372037", "9300000000"} {
		w := ts.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/wait?timeout="+timeout, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("timeout=%s: expected status %d, got %d", timeout, http.StatusBadRequest, w.Code)
		}
	}
}

func TestHandler_Synchronize(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)
	id := ts.createTemplate(t, nil)
	first := ts.runJob(t, id)
	second := ts.runJob(t, id)

	w := ts.do(t, http.MethodPost, "/v1/jobs/synchronize", SynchronizeRequest{JobIDs: []string{first, second}, Timeout: new(int)})
	expectStatus(t, w, http.StatusRequestTimeout)

	ts.fake.Finish(first, 0)
	ts.fake.Finish(second, 1)

	w = ts.do(t, http.MethodPost, "/v1/jobs/synchronize", map[string]any{"all": true, "timeout": 5, "dispose": true})
	expectStatus(t, w, http.StatusNoContent)

	// Disposed jobs are reaped.
	w = ts.do(t, http.MethodPost, "/v1/jobs/"+first+"/wait?timeout=0", nil)
	expectStatus(t, w, http.StatusGone)
}

func TestHandler_Synchronize_Validation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)

	tests := []struct {
		name string
		body any
	}{
		{"no targets", map[string]any{"timeout": 1}},
		{"negative timeout", map[string]any{"all": true, "timeout": -5}},
		{"overflowing timeout", map[string]any{"all": true, "timeout": int64(1) << 40}},
		{"malformed", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/v1/jobs/synchronize", tt.body)
			expectStatus(t, w, http.StatusBadRequest)
		})
	}
}

func TestHandler_ControlJob(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)
	jobID := ts.runJob(t, ts.createTemplate(t, nil))
	path := "/v1/jobs/" + jobID + "/control"

	w := ts.do(t, http.MethodPost, path, map[string]string{"action": "HOLD"})
	expectStatus(t, w, http.StatusNoContent)

	w = ts.do(t, http.MethodGet, "/v1/jobs/"+jobID, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[JobStatusResponse](t, w).Status; got != job.UserOnHold {
		t.Errorf("Expected USER_ON_HOLD, got %v", got)
	}

	// A held job cannot be suspended.
	w = ts.do(t, http.MethodPost, path, map[string]string{"action": "suspend"})
	expectStatus(t, w, http.StatusConflict)

	controls := ts.fake.Controls()
	if len(controls) != 1 || controls[0].Action != job.Hold {
		t.Errorf("Expected a single hold on the scheduler, got %+v", controls)
	}
}

func TestHandler_ControlJob_Validation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)
	jobID := ts.runJob(t, ts.createTemplate(t, nil))

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown action", "/v1/jobs/" + jobID + "/control", map[string]string{"action": "explode"}, http.StatusBadRequest},
		{"missing action", "/v1/jobs/" + jobID + "/control", map[string]string{}, http.StatusBadRequest},
		{"unknown job", "/v1/jobs/424242/control", map[string]string{"action": "terminate"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestHandler_ControlAll(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, true)
	id := ts.createTemplate(t, nil)
	running := ts.runJob(t, id)
	finished := ts.runJob(t, id)
	ts.fake.SetStatus(running, job.Running)
	ts.fake.Finish(finished, 0)

	w := ts.do(t, http.MethodPost, "/v1/control", map[string]string{"action": "terminate"})
	expectStatus(t, w, http.StatusNoContent)

	// Only the running job is terminated; finished jobs are skipped.
	controls := ts.fake.Controls()
	if len(controls) != 1 || controls[0].JobID != running || controls[0].Action != job.Terminate {
		t.Errorf("Expected terminate on %s only, got %+v", running, controls)
	}
}
