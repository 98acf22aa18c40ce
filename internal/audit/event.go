// Package audit records the timestamping operations of the trustedts CLI.
//
// Audit logs are separate from technical logs. Each event is one JSON line
// chained to its predecessor by a SHA-256 hash, so that edits, deletions
// and reordering are detectable with VerifyChain.
//
// Rules:
//   - Audit failure = Operation failure
//   - Never log credentials (TSA passwords, authorization headers)
//   - All timestamps in UTC
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// EventType represents the category of audit event.
type EventType string

const (
	// EventTSARequest records a TimeStampReq built or sent.
	EventTSARequest EventType = "TSA_REQUEST"
	// EventTSAResponse records a TimeStampResp received from a TSA.
	EventTSAResponse EventType = "TSA_RESPONSE"
	// EventTSAVerify records the validation of a timestamp response.
	EventTSAVerify EventType = "TSA_VERIFY"
)

// Result represents the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

func resultOf(success bool) Result {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// Actor represents who performed the action.
type Actor struct {
	Type string `json:"type"` // "user" or "service"
	ID   string `json:"id"`
	Host string `json:"host,omitempty"`
}

// Object represents what was acted upon.
type Object struct {
	Type   string `json:"type"`             // "request", "response", "token"
	Digest string `json:"digest,omitempty"` // algorithm:hex message imprint
	Serial string `json:"serial,omitempty"` // token serial number, hex
	Path   string `json:"path,omitempty"`   // .tsq / .tsr file
	URL    string `json:"url,omitempty"`    // TSA endpoint
}

// Context provides additional details about the operation.
type Context struct {
	Algorithm string `json:"algorithm,omitempty"` // imprint hash algorithm
	Policy    string `json:"policy,omitempty"`    // TSA policy OID
	Nonce     string `json:"nonce,omitempty"`     // request nonce, hex
	GenTime   string `json:"gen_time,omitempty"`  // attested time, RFC 3339
	Status    string `json:"status,omitempty"`    // PKIStatus name
	Kind      string `json:"kind,omitempty"`      // failure kind
	Reason    string `json:"reason,omitempty"`
	Signer    string `json:"signer,omitempty"` // TSA certificate subject
}

// Event represents a single audit log entry.
type Event struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"` // RFC3339 UTC
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
	Hash      string    `json:"hash"`
}

// NewEvent creates an event stamped with the current time and the local user.
func NewEvent(eventType EventType, result Result) *Event {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "unknown"
	}

	return &Event{
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Actor:     Actor{Type: "user", ID: username, Host: hostname},
		Result:    result,
	}
}

// WithObject sets the object field.
func (e *Event) WithObject(obj Object) *Event {
	e.Object = obj
	return e
}

// WithContext sets the context field.
func (e *Event) WithContext(ctx Context) *Event {
	e.Context = ctx
	return e
}

// WithActor overrides the default actor.
func (e *Event) WithActor(actor Actor) *Event {
	e.Actor = actor
	return e
}

// Validate checks that required fields are present.
func (e *Event) Validate() error {
	switch {
	case e.EventType == "":
		return fmt.Errorf("event_type is required")
	case e.Timestamp == "":
		return fmt.Errorf("timestamp is required")
	case e.Actor.Type == "" || e.Actor.ID == "":
		return fmt.Errorf("actor type and id are required")
	case e.Result == "":
		return fmt.Errorf("result is required")
	}
	return nil
}

// canonicalEvent is Event without Hash: the bytes that get hashed.
type canonicalEvent struct {
	EventType EventType `json:"event_type"`
	Timestamp string    `json:"timestamp"`
	Actor     Actor     `json:"actor"`
	Object    Object    `json:"object"`
	Context   Context   `json:"context,omitempty"`
	Result    Result    `json:"result"`
	HashPrev  string    `json:"hash_prev"`
}

// CanonicalJSON returns the JSON form used for hashing; it omits Hash.
func (e *Event) CanonicalJSON() ([]byte, error) {
	return json.Marshal(canonicalEvent{
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Object:    e.Object,
		Context:   e.Context,
		Result:    e.Result,
		HashPrev:  e.HashPrev,
	})
}

// JSON returns the full event as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}
