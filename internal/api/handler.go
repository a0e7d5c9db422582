// Package api provides the HTTP API handlers and routing for the job session
// service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"jobsession/internal/apperrors"
	"jobsession/internal/health"
	"jobsession/internal/job"
	"jobsession/internal/session"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the session API
type Handler struct {
	session *session.Session
	health  *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(s *session.Session, healthChecker *health.Checker) *Handler {
	return &Handler{
		session: s,
		health:  healthChecker,
	}
}

// SessionInfo is the response of GET /v1/session.
type SessionInfo struct {
	Contact        string `json:"contact"`
	DRMSInfo       string `json:"drmsInfo"`
	Version        string `json:"version"`
	Implementation string `json:"implementation"`
}

// AttributeNamesResponse lists supported attribute names.
type AttributeNamesResponse struct {
	Scalar []string `json:"scalar"`
	Vector []string `json:"vector"`
}

// TemplateRequest optionally sets attributes on a new template.
type TemplateRequest struct {
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// TemplateResponse describes a template and its set attributes.
type TemplateResponse struct {
	TemplateID int                 `json:"templateId"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// AttributeRequest sets an attribute. Scalar attributes take Value or a
// single-element Values.
type AttributeRequest struct {
	Value  *string  `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
}

// AttributeResponse is the value of one template attribute.
type AttributeResponse struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// RunRequest submits a template. Start, End and Step are used by the bulk
// endpoint only.
type RunRequest struct {
	TemplateID int `json:"templateId"`
	Start      int `json:"start"`
	End        int `json:"end"`
	Step       int `json:"step"`
}

// RunResponse carries the job ids of a submission.
type RunResponse struct {
	JobID  string   `json:"jobId,omitempty"`
	JobIDs []string `json:"jobIds,omitempty"`
}

// JobStatusResponse is the status of one job.
type JobStatusResponse struct {
	JobID  string     `json:"jobId"`
	Status job.Status `json:"status"`
}

// JobListResponse lists tracked jobs.
type JobListResponse struct {
	Jobs []session.JobEntry `json:"jobs"`
}

// SynchronizeRequest waits for several jobs. All targets every job in the
// session and ignores JobIDs. Timeout is in seconds, -1 waits forever.
type SynchronizeRequest struct {
	JobIDs  []string `json:"jobIds"`
	All     bool     `json:"all"`
	Timeout *int     `json:"timeout,omitempty"`
	Dispose bool     `json:"dispose"`
}

// ControlRequest carries a control action name such as "suspend".
type ControlRequest struct {
	Action job.Action `json:"action"`
}

// GetSession handles GET /v1/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	contact, err := h.session.Contact()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	info, err := h.session.DRMSInfo(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	major, minor := h.session.Version()

	h.writeJSON(w, http.StatusOK, SessionInfo{
		Contact:        contact,
		DRMSInfo:       info,
		Version:        fmt.Sprintf("%d.%d", major, minor),
		Implementation: h.session.Implementation(),
	})
}

// GetAttributes handles GET /v1/attributes
func (h *Handler) GetAttributes(w http.ResponseWriter, r *http.Request) {
	scalar, err := h.session.AttributeNames()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	vector, err := h.session.VectorAttributeNames()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AttributeNamesResponse{Scalar: scalar, Vector: vector})
}

// CreateTemplate handles POST /v1/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	id, err := h.session.AllocateTemplate()
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	for name, values := range req.Attributes {
		if err := h.setAttribute(id, name, values); err != nil {
			_ = h.session.DeleteTemplate(id)
			h.handleError(w, r, err)
			return
		}
	}

	w.Header().Set("Location", fmt.Sprintf("/v1/templates/%d", id))
	h.writeJSON(w, http.StatusCreated, TemplateResponse{TemplateID: id, Attributes: req.Attributes})
}

// GetTemplate handles GET /v1/templates/{templateId}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.templateID(w, r)
	if !ok {
		return
	}

	names, err := h.session.GetAttributeNames(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	attrs := make(map[string][]string, len(names))
	for _, name := range names {
		values, err := h.session.GetAttribute(id, name)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		attrs[name] = values
	}

	h.writeJSON(w, http.StatusOK, TemplateResponse{TemplateID: id, Attributes: attrs})
}

// DeleteTemplate handles DELETE /v1/templates/{templateId}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.templateID(w, r)
	if !ok {
		return
	}
	if err := h.session.DeleteTemplate(id); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutAttribute handles PUT /v1/templates/{templateId}/attributes/{name}
func (h *Handler) PutAttribute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.templateID(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")

	var req AttributeRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	values := req.Values
	if req.Value != nil {
		values = []string{*req.Value}
	}

	if err := h.setAttribute(id, name, values); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AttributeResponse{Name: name, Values: values})
}

// GetAttribute handles GET /v1/templates/{templateId}/attributes/{name}
func (h *Handler) GetAttribute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.templateID(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")

	values, err := h.session.GetAttribute(id, name)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AttributeResponse{Name: name, Values: values})
}

// setAttribute picks the scalar or vector setter from the attribute's kind.
func (h *Handler) setAttribute(id int, name string, values []string) error {
	if a, ok := job.LookupAttribute(name); ok && a.Vector {
		return h.session.SetAttributeValues(id, name, values)
	}
	if len(values) != 1 {
		return apperrors.InvalidAttribute(name, fmt.Sprintf("expects exactly one value, got %d", len(values)))
	}
	return h.session.SetAttributeValue(id, name, values[0])
}

// RunJob handles POST /v1/jobs
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	jobID, err := h.session.RunJob(r.Context(), req.TemplateID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+jobID)
	h.writeJSON(w, http.StatusCreated, RunResponse{JobID: jobID})
}

// RunBulkJobs handles POST /v1/jobs/bulk
func (h *Handler) RunBulkJobs(w http.ResponseWriter, r *http.Request) {
	req := RunRequest{Step: 1}
	if !h.decode(w, r, &req, false) {
		return
	}

	ids, err := h.session.RunBulkJobs(r.Context(), req.TemplateID, req.Start, req.End, req.Step)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, RunResponse{JobIDs: ids})
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.session.Jobs()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []session.JobEntry{}
	}
	h.writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs})
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")

	status, err := h.session.GetJobProgramStatus(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, JobStatusResponse{JobID: jobID, Status: status})
}

// WaitJob handles POST /v1/jobs/{jobId}/wait?timeout=N
func (h *Handler) WaitJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")

	timeout := job.WaitForever
	if v := r.URL.Query().Get("timeout"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "timeout must be an integer number of seconds")
			return
		}
		if timeout, err = waitTimeout(seconds); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	info, err := h.session.Wait(r.Context(), jobID, timeout)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// Synchronize handles POST /v1/jobs/synchronize
func (h *Handler) Synchronize(w http.ResponseWriter, r *http.Request) {
	var req SynchronizeRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	timeout := job.WaitForever
	if req.Timeout != nil {
		var err error
		if timeout, err = waitTimeout(*req.Timeout); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	targets := []job.Target{job.AllJobs}
	if !req.All {
		if len(req.JobIDs) == 0 {
			h.writeError(w, http.StatusBadRequest, "jobIds or all is required")
			return
		}
		targets = job.IDs(req.JobIDs...)
	}

	if err := h.session.Synchronize(r.Context(), targets, timeout, req.Dispose); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ControlJob handles POST /v1/jobs/{jobId}/control
func (h *Handler) ControlJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, job.ID(r.PathValue("jobId")))
}

// ControlAll handles POST /v1/control
func (h *Handler) ControlAll(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, job.AllJobs)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, target job.Target) {
	req := ControlRequest{Action: -1}
	if !h.decode(w, r, &req, false) {
		return
	}
	if !req.Action.Valid() {
		h.writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	if err := h.session.Control(r.Context(), target, req.Action); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 while ready or degraded (event delivery failing).
// Returns 503 if the session is inactive or the scheduler is unreachable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.Serving() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// maxTimeoutSeconds is the largest timeout a time.Duration can hold.
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// waitTimeout converts a timeout in seconds, where -1 waits forever.
func waitTimeout(seconds int) (time.Duration, error) {
	switch {
	case seconds == -1:
		return job.WaitForever, nil
	case seconds < 0:
		return 0, errors.New("timeout must be -1 or a non-negative number of seconds")
	case int64(seconds) > maxTimeoutSeconds:
		return 0, fmt.Errorf("timeout must not exceed %d seconds", maxTimeoutSeconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

func (h *Handler) templateID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("templateId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "templateId must be an integer")
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into v. An empty body is accepted when optional
// is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
	return false
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the session with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		slog.Debug("Client went away", "path", r.URL.Path, "error", err)
		return
	}
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
