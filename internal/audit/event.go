// Package audit records one event per cdfkit operation in a JSONL log.
//
// The audit log is separate from the technical log:
//   - each event is chained to the previous one by a SHA-256 hash
//   - a failed audit write fails the operation
//   - timestamps are UTC
//   - events describe the operation (family, mode, backend, outcome) and
//     never carry arguments, keys, messages or outputs
package audit

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/remiblancher/cdfkit/internal/cdferr"
)

// EventType is the category of an operation event.
type EventType string

const (
	EventSign       EventType = "OP_SIGN"
	EventVerify     EventType = "OP_VERIFY"
	EventEncrypt    EventType = "OP_ENCRYPT"
	EventDecrypt    EventType = "OP_DECRYPT"
	EventDigest     EventType = "OP_DIGEST"
	EventCrosscheck EventType = "OP_CROSSCHECK"
)

var modeEvents = map[string]EventType{
	"sign":    EventSign,
	"verify":  EventVerify,
	"encrypt": EventEncrypt,
	"decrypt": EventDecrypt,
	"digest":  EventDigest,
}

// EventForMode maps a dispatch mode to its event type. Unknown modes map
// to OP_DIGEST.
func EventForMode(mode string) EventType {
	if t, ok := modeEvents[mode]; ok {
		return t
	}
	return EventDigest
}

// Result is the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor is who ran the operation.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Host string `json:"host,omitempty"`
}

// Operation identifies what ran and where.
type Operation struct {
	Family    string   `json:"family"`
	Mode      string   `json:"mode"`
	Backend   string   `json:"backend,omitempty"`
	Backends  []string `json:"backends,omitempty"`
	Algorithm string   `json:"algorithm,omitempty"`
}

// Outcome details the result without revealing any value.
type Outcome struct {
	// Verdict is "true" or "false" for verify operations.
	Verdict string `json:"verdict,omitempty"`

	// ErrorKind is the cdferr kind of a failure.
	ErrorKind string `json:"error_kind,omitempty"`

	Mismatches int `json:"mismatches,omitempty"`
}

// Event is a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"`
	Actor     Actor     `json:"actor"`
	Operation Operation `json:"operation"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash"`
}

func currentActor() Actor {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "unknown"
	}
	return Actor{Type: "user", ID: username, Host: hostname}
}

// NewEvent returns an event stamped with the current time and user.
func NewEvent(eventType EventType, result Result) *Event {
	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor:     currentActor(),
		Result:    result,
	}
}

// WithOperation sets the operation field.
func (e *Event) WithOperation(op Operation) *Event {
	e.Operation = op
	return e
}

// WithOutcome sets the outcome field.
func (e *Event) WithOutcome(o Outcome) *Event {
	e.Outcome = o
	return e
}

// WithError marks the event failed and records the kind of err. The error
// message itself is not recorded.
func (e *Event) WithError(err error) *Event {
	if err == nil {
		return e
	}
	e.Result = ResultFailure
	if k := cdferr.KindOf(err); k != 0 {
		e.Outcome.ErrorKind = k.String()
	} else {
		e.Outcome.ErrorKind = "error"
	}
	return e
}

// Validate checks the required fields.
func (e *Event) Validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event_type is required")
	case e.Timestamp == "":
		return errors.New("timestamp is required")
	case e.Actor.Type == "" || e.Actor.ID == "":
		return errors.New("actor type and id are required")
	case e.Operation.Family == "":
		return errors.New("operation family is required")
	case e.Result == "":
		return errors.New("result is required")
	}
	return nil
}

// canonicalJSON is the hashed form of the event: every field except Hash.
func (e *Event) canonicalJSON() ([]byte, error) {
	type hashed struct {
		EventType EventType `json:"event_type"`
		Timestamp string    `json:"timestamp"`
		Actor     Actor     `json:"actor"`
		Operation Operation `json:"operation"`
		Outcome   Outcome   `json:"outcome,omitempty"`
		Result    Result    `json:"result"`
		HashPrev  string    `json:"hash_prev"`
	}
	return json.Marshal(hashed{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Operation: e.Operation,
		Outcome:   e.Outcome,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}
