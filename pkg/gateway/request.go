package gateway

import (
	"github.com/stacklok/talos/pkg/capability"
	talerrors "github.com/stacklok/talos/pkg/errors"
)

// Request is one Authorize call's input: a tenant_id, session_id, tool,
// method, optional params, and an optional inline capability (the "slow
// path" presentation a proxy makes on a session cache miss).
type Request struct {
	TenantID  string
	SessionID string
	AgentID   string // the requesting peer's identity, for audit attribution
	Tool      string
	Method    string
	Params    map[string]any

	// Capability is presented on a session-cache miss so the gateway can
	// run the slow verify path and, on success, cache the session for
	// subsequent fast-path calls.
	Capability *capability.Capability
}

// Response is authorize()'s result: Allowed/Denied plus the bookkeeping
// an audit event and a caller's JSON-RPC translation both need.
type Response struct {
	Allowed      bool
	Reason       talerrors.DenialReason
	Message      string
	CapabilityID string
	Cached       bool
	LatencyUs    int64
}

func responseFromResult(r capability.AuthorizationResult) Response {
	return Response{
		Allowed:      r.Allowed,
		Reason:       r.Reason,
		Message:      r.Message,
		CapabilityID: r.CapabilityID,
		Cached:       r.Cached,
		LatencyUs:    r.LatencyUs,
	}
}

func deniedResponse(reason talerrors.DenialReason, message string) Response {
	return Response{Allowed: false, Reason: reason, Message: message}
}
