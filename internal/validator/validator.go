// Package validator provides validation of inbound message events.
package validator

import (
	"fmt"
	"strings"

	"github.com/jittakal/convbuffer/internal/errors"
	"github.com/jittakal/convbuffer/pkg/message"
)

// CloudEventsValidator validates CloudEvents against the CloudEvents 1.0 required attributes
// and the message-received payload they carry.
type CloudEventsValidator struct {
	acceptedTypes map[string]struct{}
}

// NewCloudEventsValidator creates a new CloudEvents validator. With no
// accepted types every event type passes the envelope check.
func NewCloudEventsValidator(acceptedTypes ...string) *CloudEventsValidator {
	v := &CloudEventsValidator{}
	if len(acceptedTypes) > 0 {
		v.acceptedTypes = make(map[string]struct{}, len(acceptedTypes))
		for _, t := range acceptedTypes {
			v.acceptedTypes[t] = struct{}{}
		}
	}
	return v
}

// Validate validates a CloudEvent envelope.
func (v *CloudEventsValidator) Validate(e *message.CloudEvent) error {
	if e == nil {
		return &errors.ValidationError{Field: "event", Reason: "event is nil"}
	}

	if e.ID == "" {
		return missing(e, "id")
	}
	if e.Source == "" {
		return missing(e, "source")
	}
	if e.SpecVersion == "" {
		return missing(e, "specversion")
	}
	if e.Type == "" {
		return missing(e, "type")
	}

	// Normalize spec version (0.1 -> 1.0)
	if e.SpecVersion == "0.1" {
		e.SpecVersion = "1.0"
	}

	if e.SpecVersion != "1.0" {
		return &errors.ValidationError{
			EventID: e.ID,
			Field:   "specversion",
			Reason:  fmt.Sprintf("unsupported version: %s (supported: 1.0)", e.SpecVersion),
		}
	}

	if v.acceptedTypes != nil {
		if _, ok := v.acceptedTypes[e.Type]; !ok {
			return &errors.ValidationError{
				EventID: e.ID,
				Field:   "type",
				Reason:  fmt.Sprintf("unexpected event type: %s", e.Type),
			}
		}
	}

	return nil
}

// ValidateInbound validates the envelope, decodes the message data and
// checks it identifies a conversation and carries content.
func (v *CloudEventsValidator) ValidateInbound(e *message.CloudEvent) (*message.InboundData, error) {
	if err := v.Validate(e); err != nil {
		return nil, err
	}

	data, err := e.DecodeInbound()
	if err != nil {
		return nil, &errors.ValidationError{
			EventID: e.ID,
			Field:   "data",
			Reason:  err.Error(),
		}
	}

	instanceID := strings.TrimSpace(data.InstanceID)
	switch {
	case instanceID == "":
		return nil, missing(e, "data.instance_id")
	case strings.Contains(instanceID, ":"):
		return nil, &errors.ValidationError{
			EventID: e.ID,
			Field:   "data.instance_id",
			Reason:  "must not contain ':'",
		}
	case strings.TrimSpace(data.From) == "":
		return nil, missing(e, "data.from")
	case data.MessageID == "":
		return nil, missing(e, "data.message_id")
	case data.Text == "" && data.ImageURL == "" && len(data.Payload) == 0:
		return nil, &errors.ValidationError{
			EventID: e.ID,
			Field:   "data",
			Reason:  "message has no text, image or payload",
		}
	}

	return data, nil
}

func missing(e *message.CloudEvent, field string) error {
	return &errors.ValidationError{
		EventID: e.ID,
		Field:   field,
		Reason:  "required field is missing",
	}
}
