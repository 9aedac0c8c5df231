package capability

import talerrors "github.com/stacklok/talos/pkg/errors"

// AuthorizationResult is the outcome of authorize/authorize_fast: a closed
// Allowed/Denied sum type rather than an exception, so adversarial input
// can never panic the caller.
type AuthorizationResult struct {
	Allowed      bool
	Reason       talerrors.DenialReason
	CapabilityID string
	Message      string
	LatencyUs    int64
	Cached       bool
}

// allowed builds a successful result.
func allowed(capabilityID string, cached bool, latencyUs int64) AuthorizationResult {
	return AuthorizationResult{Allowed: true, CapabilityID: capabilityID, Cached: cached, LatencyUs: latencyUs}
}

// denied builds a rejected result carrying the reason surfaced to the
// caller and recorded in the audit event.
func denied(reason talerrors.DenialReason, message string, cached bool, latencyUs int64) AuthorizationResult {
	return AuthorizationResult{Allowed: false, Reason: reason, Message: message, Cached: cached, LatencyUs: latencyUs}
}
