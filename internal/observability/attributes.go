// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"jobsession/internal/job"
)

// Attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrJobStatus = "job_status"
	attrAction    = "action"
	attrBulk      = "bulk"
	attrOp        = "op"
	attrOutcome   = "outcome"
	attrSuccess   = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// Normalize paths with IDs to reduce cardinality
	// /v1/jobs/abc123 -> /v1/jobs/{jobId}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func jobStatusAttr(status job.Status) attribute.KeyValue {
	return attribute.String(attrJobStatus, status.String())
}

func actionAttr(action job.Action) attribute.KeyValue {
	return attribute.String(attrAction, action.String())
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// Static segments that follow a collection and must not be treated as ids.
var staticSegments = map[string]bool{
	"bulk":        true,
	"synchronize": true,
}

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) < 4 || parts[1] != "v1" {
		return path
	}

	switch parts[2] {
	case "jobs":
		if !staticSegments[parts[3]] {
			parts[3] = "{jobId}"
		}
	case "templates":
		parts[3] = "{templateId}"
		if len(parts) > 5 && parts[4] == "attributes" {
			parts[5] = "{name}"
		}
	default:
		return path
	}
	return strings.Join(parts, "/")
}
