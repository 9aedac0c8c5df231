// Package frame implements the wire envelope exchanged between an agent
// and the gateway (or a tool behind it): construction, canonical signing,
// and verification of MCP_MESSAGE / MCP_RESPONSE frames, plus the replay
// defense described alongside them.
package frame

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/stacklok/talos/pkg/canon"
	"github.com/stacklok/talos/pkg/capability"
	talerrors "github.com/stacklok/talos/pkg/errors"
)

// Type enumerates the two frame variants carried over a transport.
type Type string

const (
	TypeMessage  Type = "MCP_MESSAGE"
	TypeResponse Type = "MCP_RESPONSE"
)

// ResultCode is the closed set of MCP_RESPONSE outcomes.
type ResultCode string

const (
	ResultOK   ResultCode = "OK"
	ResultDeny ResultCode = "DENY"
)

// ProtocolVersion is the wire protocol version every frame must carry.
const ProtocolVersion = 1

// CapabilityRef selects how a request frame references its capability:
// inline (the full signed token, sent on the first frame of a session) or
// by-hash (every subsequent frame, resolved by the gateway's session cache).
type CapabilityRef string

const (
	CapabilityRefFull   CapabilityRef = "full"
	CapabilityRefByHash CapabilityRef = "by-hash"
)

// Frame is the canonical, signed envelope carrying one MCP request or
// response. Request-only and response-only fields are left zero-valued on
// the other variant; verify_request/verify_response reject a frame whose
// populated fields don't match its Type.
type Frame struct {
	Type            Type   `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	CorrelationID   string `json:"correlation_id"`
	PeerID          string `json:"peer_id"`
	IssuedAt        int64  `json:"issued_at"`
	Tool            string `json:"tool"`
	Method          string `json:"method"`

	// Request-only.
	RequestHash    string                 `json:"request_hash,omitempty"`
	CapabilityHash string                 `json:"capability_hash,omitempty"`
	Capability     *capability.Capability `json:"capability,omitempty"`

	// Response-only.
	ResponseHash string     `json:"response_hash,omitempty"`
	ResultCode   ResultCode `json:"result_code,omitempty"`

	Sig string `json:"sig,omitempty"`
}

// signableBytes returns the canonical bytes the sender signs: every field
// except sig.
func (f *Frame) signableBytes() ([]byte, error) {
	return canon.SignableBytes(f, "sig")
}

// CanonicalHash returns sha256(canonical(f)), signature included. It is not
// what response_hash holds: BuildResponse sets response_hash to the hash of
// the response body.
func (f *Frame) CanonicalHash() ([32]byte, error) {
	raw, err := canon.Marshal(f)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(raw), nil
}

// HashJSONRPCBody computes request_hash = sha256(canonical(body)).
func HashJSONRPCBody(body any) ([32]byte, error) {
	raw, err := canon.Marshal(body)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(raw), nil
}

// knownFields lists every JSON key Frame recognizes, used by
// rejectUnknownFields to enforce "unknown top-level fields MUST be
// rejected" without reflecting over the struct tags at call time.
var knownFields = map[string]struct{}{
	"type": {}, "protocol_version": {}, "session_id": {}, "correlation_id": {},
	"peer_id": {}, "issued_at": {}, "tool": {}, "method": {},
	"request_hash": {}, "capability_hash": {}, "capability": {},
	"response_hash": {}, "result_code": {}, "sig": {},
}

func rejectUnknownFields(raw []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return talerrors.NewError(talerrors.ErrInvalidFrame, "malformed frame json", err)
	}
	for k := range m {
		if _, ok := knownFields[k]; !ok {
			return talerrors.NewError(talerrors.ErrInvalidFrame, "unknown field: "+k, nil)
		}
	}
	return nil
}
