package cloudevent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsClientError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"400 Bad Request", &HTTPError{StatusCode: 400}, true},
		{"404 Not Found", &HTTPError{StatusCode: 404}, true},
		{"499 client error boundary", &HTTPError{StatusCode: 499}, true},
		{"wrapped 410", fmt.Errorf("deliver: %w", &HTTPError{StatusCode: 410}), true},
		{"500 Internal Server Error", &HTTPError{StatusCode: 500}, false},
		{"399 not a client error", &HTTPError{StatusCode: 399}, false},
		{"non-HTTP error", context.DeadlineExceeded, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsClientError(tt.err); got != tt.expected {
				t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"jobId":"42"}`)

	signature := generateSignature(payload, "secret-key")
	if len(signature) != len("sha256=")+64 || signature[:7] != "sha256=" {
		t.Fatalf("unexpected signature format %q", signature)
	}
	if !Verify(payload, "secret-key", signature) {
		t.Error("signature should verify with the same key")
	}
	if Verify(payload, "different-key", signature) {
		t.Error("signature must not verify with a different key")
	}
}

func TestCloudEvent_ExtensionsRoundTrip(t *testing.T) {
	t.Parallel()
	event := New("drmaa.job.status", "jobsession", "42", "42-1", map[string]any{"status": "RUNNING"})
	event.SetExtension("sequence", "7")

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var members map[string]any
	if err := json.Unmarshal(body, &members); err != nil {
		t.Fatalf("unmarshal members: %v", err)
	}
	if members["sequence"] != "7" {
		t.Errorf("expected top-level sequence extension, got %v", members["sequence"])
	}

	var decoded CloudEvent
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Extensions["sequence"] != "7" {
		t.Errorf("expected sequence extension after decode, got %v", decoded.Extensions)
	}
	if decoded.Subject != "42" || decoded.Type != "drmaa.job.status" {
		t.Errorf("context attributes lost: %+v", decoded)
	}
}

func TestCloudEvent_Validate(t *testing.T) {
	t.Parallel()
	valid := New("t", "s", "sub", "id", nil)
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}

	missingID := New("t", "s", "sub", "", nil)
	if err := missingID.Validate(); err == nil {
		t.Error("expected error for missing id")
	}

	badExtension := New("t", "s", "sub", "id", nil)
	badExtension.SetExtension("Not-Valid", "x")
	if err := badExtension.Validate(); err == nil {
		t.Error("expected error for invalid extension name")
	}
}

func TestSender_Send(t *testing.T) {
	t.Parallel()

	var gotHeaders http.Header
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	event := New("drmaa.job.finished", "jobsession", "42", "42-9", map[string]any{"status": "DONE"})
	event.SetExtension("sequence", "3")

	sender := NewSender(5 * time.Second)
	if err := sender.Send(context.Background(), server.URL, event, SendOptions{SigningKey: "k"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotHeaders.Get("Ce-Type") != "drmaa.job.finished" {
		t.Errorf("unexpected Ce-Type %q", gotHeaders.Get("Ce-Type"))
	}
	if gotHeaders.Get("Ce-Sequence") != "3" {
		t.Errorf("expected extension header, got %q", gotHeaders.Get("Ce-Sequence"))
	}
	if !Verify(gotBody, "k", gotHeaders.Get(SignatureHeader)) {
		t.Error("request signature does not match body")
	}
}

func TestSender_SendErrorStatus(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	sender := NewSender(5 * time.Second)
	err := sender.Send(context.Background(), server.URL, New("t", "s", "sub", "id", nil), SendOptions{})
	if !IsClientError(err) {
		t.Errorf("expected client error, got %v", err)
	}
}
