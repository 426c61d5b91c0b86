package delivery

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies why a delivery attempt (or an inbound request) failed.
type ErrorKind string

const (
	ErrNone             ErrorKind = ""
	ErrMalformedPayload ErrorKind = "malformed_payload"
	ErrTimeout          ErrorKind = "timeout"
	ErrSessionCorrupted ErrorKind = "session_corrupted"
	ErrTransientNetwork ErrorKind = "transient_network"
	ErrPermanent        ErrorKind = "permanent_destination_error"
	ErrPoolExhausted    ErrorKind = "pool_exhausted"
)

// Request is one payload headed for the configured destination.
type Request struct {
	DeliveryID  string          `json:"delivery_id"`
	Payload     json.RawMessage `json:"payload"`
	Destination string          `json:"destination"`
	Attempt     int             `json:"attempt"`
	ReceivedAt  string          `json:"received_at"` // RFC3339
}

// Outcome is the result of a single delivery attempt, or the terminal
// result after the retry budget is spent.
type Outcome struct {
	OK         bool      `json:"ok"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Body       string    `json:"body,omitempty"`
	Error      ErrorKind `json:"error,omitempty"`
}

// Success reports whether the outcome is a delivered payload.
func (o Outcome) Success() bool { return o.OK }

// Failure builds a failed outcome for the given kind.
func Failure(kind ErrorKind) Outcome {
	return Outcome{Error: kind}
}

// Classify maps a destination HTTP status to an outcome. Status 0 means the
// in-page fetch never reached the destination.
func Classify(status int, body string) Outcome {
	switch {
	case status >= 200 && status < 400:
		return Outcome{OK: true, HTTPStatus: status, Body: body}
	case status == 0 || status >= 500 || status == 429:
		return Outcome{HTTPStatus: status, Body: body, Error: ErrTransientNetwork}
	default:
		return Outcome{HTTPStatus: status, Body: body, Error: ErrPermanent}
	}
}

// Retryable reports whether an attempt with this error kind should be retried.
func Retryable(kind ErrorKind) bool {
	switch kind {
	case ErrTimeout, ErrSessionCorrupted, ErrTransientNetwork:
		return true
	default:
		return false
	}
}

// TerminalFailure is the snapshot logged when a delivery exhausts its retry
// budget. Nothing is persisted or requeued; this record is the audit trail.
type TerminalFailure struct {
	Type       string    `json:"type"`    // "delivery.failed"
	At         string    `json:"at"`      // RFC3339 time the failure was recorded
	Reason     ErrorKind `json:"reason"`  // last attempt's error kind
	Attempt    int       `json:"attempt"` // attempts spent
	HTTPStatus int       `json:"http_status,omitempty"`
	Request    Request   `json:"request"` // full delivery snapshot
}

const TerminalFailureType = "delivery.failed"

func NewTerminalFailure(req Request, attempt int, last Outcome) TerminalFailure {
	return TerminalFailure{
		Type:       TerminalFailureType,
		At:         time.Now().Format(time.RFC3339Nano),
		Reason:     last.Error,
		Attempt:    attempt,
		HTTPStatus: last.HTTPStatus,
		Request:    req,
	}
}
