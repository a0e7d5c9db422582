// Package cloudevent provides CloudEvents 1.0 types and an HTTP sender.
package cloudevent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// CloudEvent represents a CloudEvents 1.0 specification event.
// Extension attributes are serialized as top-level members, as the
// structured JSON format requires.
type CloudEvent struct {
	SpecVersion     string            `json:"specversion"`
	Type            string            `json:"type"`
	Source          string            `json:"source"`
	Subject         string            `json:"subject"`
	ID              string            `json:"id"`
	Time            time.Time         `json:"time"`
	DataContentType string            `json:"datacontenttype"`
	Data            map[string]any    `json:"data"`
	Extensions      map[string]string `json:"-"`
}

// extensionName matches valid extension attribute names: lower-case
// alphanumerics, at most 20 characters.
var extensionName = regexp.MustCompile(`^[a-z0-9]{1,20}$`)

var reservedAttributes = map[string]bool{
	"specversion": true, "type": true, "source": true, "subject": true,
	"id": true, "time": true, "datacontenttype": true, "data": true,
	"dataschema": true, "data_base64": true,
}

// New creates a new CloudEvent with default values
func New(eventType, source, subject, id string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// SetExtension sets an extension attribute such as "sequence".
func (e *CloudEvent) SetExtension(name, value string) {
	if e.Extensions == nil {
		e.Extensions = make(map[string]string)
	}
	e.Extensions[name] = value
}

// Validate checks the required context attributes and extension names.
func (e *CloudEvent) Validate() error {
	switch {
	case e.SpecVersion != "1.0":
		return fmt.Errorf("unsupported specversion %q", e.SpecVersion)
	case e.ID == "":
		return fmt.Errorf("id is required")
	case e.Source == "":
		return fmt.Errorf("source is required")
	case e.Type == "":
		return fmt.Errorf("type is required")
	}
	for name := range e.Extensions {
		if reservedAttributes[name] || !extensionName.MatchString(name) {
			return fmt.Errorf("invalid extension attribute %q", name)
		}
	}
	return nil
}

type eventAlias CloudEvent

// MarshalJSON flattens extensions into the top-level object.
func (e CloudEvent) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(eventAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extensions) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for name, value := range e.Extensions {
		if reservedAttributes[name] {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		merged[name] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON collects unknown string members as extensions.
func (e *CloudEvent) UnmarshalJSON(data []byte) error {
	var alias eventAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}

	*e = CloudEvent(alias)
	e.Extensions = nil
	for name, raw := range members {
		if reservedAttributes[name] {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		e.SetExtension(name, value)
	}
	return nil
}
