package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sahelpay-go/pkg/operation"
)

var (
	ErrMalformedJSON = errors.New("webhook body is not valid JSON")
	ErrMissingField  = errors.New("webhook body is missing a required field")
	ErrInvalidField  = errors.New("webhook body has an invalid field")
)

// ParseError is returned by Parse. Err is one of the sentinels above.
type ParseError struct {
	Err   error
	Field string
	Cause error
}

func (e *ParseError) Error() string {
	msg := e.Err.Error()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type envelope struct {
	Event     string            `json:"event"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Data      operation.Payload `json:"data"`
}

// Parse decodes a body that has already passed Verify. It makes no trust
// decision of its own.
func Parse(rawBody []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, &ParseError{Err: ErrMalformedJSON, Cause: err}
	}

	eventType := EventType(strings.TrimSpace(env.Event))
	if eventType == "" {
		return nil, &ParseError{Err: ErrMissingField, Field: "event"}
	}

	// Event types added on the Gateway side may carry statuses this version
	// does not model. They are kept verbatim; only known types are checked.
	data := env.Data
	rawStatus := strings.ToUpper(strings.TrimSpace(data.Status))
	if !eventType.Known() {
		data.Status = ""
	}

	snapshot, err := data.Snapshot(eventType.Kind())
	if err != nil {
		return nil, &ParseError{Err: ErrInvalidField, Field: "data", Cause: err}
	}
	if snapshot.ID == "" {
		return nil, &ParseError{Err: ErrMissingField, Field: "data.id"}
	}
	switch {
	case !eventType.Known() && rawStatus != "":
		snapshot.Status = operation.Status(rawStatus)
	case rawStatus == "":
		if implied, ok := eventType.impliedStatus(); ok {
			snapshot.Status = implied
		}
	}

	// An unreadable timestamp leaves EmittedAt zero; it is informational and
	// must not make a verified delivery fail.
	var emittedAt time.Time
	if env.Timestamp != "" {
		if t, err := operation.ParseTimestamp(env.Timestamp); err == nil {
			emittedAt = t
		}
	}

	return &Event{
		Type:      eventType,
		Version:   env.Version,
		EmittedAt: emittedAt,
		Payload:   snapshot,
		Raw:       json.RawMessage(bytes.Clone(rawBody)),
	}, nil
}

// VerifyAndParse runs Verify and then Parse on the same bytes.
func VerifyAndParse(rawBody []byte, header, secret string, opts ...VerifyOption) (*Event, error) {
	if err := Verify(rawBody, header, secret, opts...); err != nil {
		return nil, err
	}
	event, err := Parse(rawBody)
	if err != nil {
		return nil, fmt.Errorf("parse verified webhook: %w", err)
	}
	return event, nil
}
