package audit

import (
	"time"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// EventType is the closed set of audit event kinds a gateway emits.
type EventType string

const (
	EventAuthorization EventType = "AUTHORIZATION"
	EventDenial        EventType = "DENIAL"
	EventRevocation    EventType = "REVOCATION"
	EventDelegation    EventType = "DELEGATION"
	EventSessionStart  EventType = "SESSION_START"
	EventSessionEnd    EventType = "SESSION_END"
)

// Event is one audit record: every authorization-relevant decision a
// gateway makes produces exactly one of these, appended to a Sink in the
// order authorize() returns (not the
// order requests arrived).
type Event struct {
	EventID        string         `json:"event_id"`
	EventType      EventType      `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	AgentID        string         `json:"agent_id"`
	Tool           string         `json:"tool"`
	Method         string         `json:"method"`
	CapabilityID   string         `json:"capability_id,omitempty"`
	CapabilityHash string         `json:"capability_hash,omitempty"`
	RequestHash    string         `json:"request_hash,omitempty"`
	ResponseHash   string         `json:"response_hash,omitempty"`
	ResultCode     string         `json:"result_code"`
	DenialReason   string         `json:"denial_reason,omitempty"`
	LatencyUs      int64          `json:"latency_us"`
	SessionID      string         `json:"session_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// IDGenerator creates event_ids; pkg/capability uses the same seam
// (google/uuid in production, a deterministic sequence in tests).
type IDGenerator func() string

// Validate checks the required fields are populated, rejecting a
// malformed event before it reaches a Sink.
func (e *Event) Validate() error {
	switch {
	case e.EventID == "":
		return talerrors.NewError(talerrors.ErrInvalidArgument, "event missing event_id", nil)
	case e.EventType == "":
		return talerrors.NewError(talerrors.ErrInvalidArgument, "event missing event_type", nil)
	case e.AgentID == "":
		return talerrors.NewError(talerrors.ErrInvalidArgument, "event missing agent_id", nil)
	case e.ResultCode == "":
		return talerrors.NewError(talerrors.ErrInvalidArgument, "event missing result_code", nil)
	}
	return nil
}
