package frame

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/stacklok/talos/pkg/capability"
	talerrors "github.com/stacklok/talos/pkg/errors"
)

// ClockSkew bounds how far issued_at may drift from the verifier's clock
// in either direction, matching pkg/capability's clock-skew allowance.
const ClockSkew = capability.ClockSkew * time.Second

// BuildRequestParams bundles build_request's arguments.
type BuildRequestParams struct {
	SessionID     string
	CorrelationID string
	PeerID        string
	Tool          string
	Method        string
	JSONRPCBody   any
	CapabilityRef CapabilityRef
	Capability    *capability.Capability
	IssuedAt      time.Time
	SignerKey     ed25519.PrivateKey
}

// BuildRequest assembles, canonicalizes, and signs an MCP_MESSAGE frame.
func BuildRequest(p BuildRequestParams) (*Frame, error) {
	requestHash, err := HashJSONRPCBody(p.JSONRPCBody)
	if err != nil {
		return nil, err
	}

	f := &Frame{
		Type:            TypeMessage,
		ProtocolVersion: ProtocolVersion,
		SessionID:       p.SessionID,
		CorrelationID:   p.CorrelationID,
		PeerID:          p.PeerID,
		IssuedAt:        p.IssuedAt.Unix(),
		Tool:            p.Tool,
		Method:          p.Method,
		RequestHash:     hex.EncodeToString(requestHash[:]),
	}

	switch p.CapabilityRef {
	case CapabilityRefFull:
		if p.Capability == nil {
			return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "capability required for full capability_ref", nil)
		}
		capHash, err := p.Capability.CanonicalHash()
		if err != nil {
			return nil, err
		}
		f.Capability = p.Capability
		f.CapabilityHash = hex.EncodeToString(capHash[:])
	case CapabilityRefByHash:
		if p.Capability == nil {
			return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "capability required to compute capability_hash", nil)
		}
		capHash, err := p.Capability.CanonicalHash()
		if err != nil {
			return nil, err
		}
		f.CapabilityHash = hex.EncodeToString(capHash[:])
	default:
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "unknown capability_ref", nil)
	}

	if err := sign(f, p.SignerKey); err != nil {
		return nil, err
	}
	return f, nil
}

// BuildResponseParams bundles build_response's arguments.
type BuildResponseParams struct {
	Request     *Frame
	ResultCode  ResultCode
	ResponseRaw any
	IssuedAt    time.Time
	SignerKey   ed25519.PrivateKey
}

// BuildResponse assembles, canonicalizes, and signs an MCP_RESPONSE frame
// bound to Request by its copied session_id and correlation_id;
// response_hash is sha256(canonical(ResponseRaw)).
func BuildResponse(p BuildResponseParams) (*Frame, error) {
	responseHash, err := HashJSONRPCBody(p.ResponseRaw)
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Type:            TypeResponse,
		ProtocolVersion: ProtocolVersion,
		SessionID:       p.Request.SessionID,
		CorrelationID:   p.Request.CorrelationID,
		PeerID:          p.Request.PeerID,
		IssuedAt:        p.IssuedAt.Unix(),
		Tool:            p.Request.Tool,
		Method:          p.Request.Method,
		ResponseHash:    hex.EncodeToString(responseHash[:]),
		ResultCode:      p.ResultCode,
	}
	if err := sign(f, p.SignerKey); err != nil {
		return nil, err
	}
	return f, nil
}

func sign(f *Frame, priv ed25519.PrivateKey) error {
	bytes, err := f.signableBytes()
	if err != nil {
		return err
	}
	f.Sig = signBytes(priv, bytes)
	return nil
}

// VerifyOptions parameterizes verify_request/verify_response with the
// collaborators they need: a clock, a key resolver for the peer's
// signature, and the shared replay store.
type VerifyOptions struct {
	Now      time.Time
	Resolver capability.KeyResolver
	Replay   ReplayStore
}

// VerifyRequest implements verify_request: unknown/missing field checks,
// signature verification, inline-capability verification and hash
// binding, clock skew, and replay detection, in the order spec'd.
func VerifyRequest(raw []byte, opts VerifyOptions) (*Frame, talerrors.DenialReason, error) {
	if err := rejectUnknownFields(raw); err != nil {
		return nil, talerrors.DenialInvalidFrame, err
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, talerrors.DenialInvalidFrame, talerrors.NewError(talerrors.ErrInvalidFrame, "malformed frame json", err)
	}
	if f.Type != TypeMessage {
		return nil, talerrors.DenialInvalidFrame, talerrors.NewError(talerrors.ErrInvalidFrame, "not a request frame", nil)
	}
	if err := requireRequestFields(&f); err != nil {
		return nil, talerrors.DenialInvalidFrame, err
	}

	pub, err := opts.Resolver.ResolvePublicKey(f.PeerID)
	if err != nil {
		return nil, talerrors.DenialInvalidSignature, err
	}
	signable, err := f.signableBytes()
	if err != nil {
		return nil, talerrors.DenialInvalidFrame, err
	}
	if !verifySignature(pub, signable, f.Sig) {
		return nil, talerrors.DenialInvalidSignature, talerrors.NewError(talerrors.ErrInvalidSignature, "frame signature mismatch", nil)
	}

	if f.Capability != nil {
		if err := capability.VerifySignatureOnly(f.Capability, opts.Resolver); err != nil {
			return nil, talerrors.DenialInvalidSignature, err
		}
		capHash, err := f.Capability.CanonicalHash()
		if err != nil {
			return nil, talerrors.DenialInvalidFrame, err
		}
		if hex.EncodeToString(capHash[:]) != f.CapabilityHash {
			return nil, talerrors.DenialInvalidFrame, talerrors.NewError(talerrors.ErrInvalidFrame, "capability_hash mismatch", nil)
		}
	}

	issuedAt := time.Unix(f.IssuedAt, 0).UTC()
	if issuedAt.Before(opts.Now.Add(-ClockSkew)) || issuedAt.After(opts.Now.Add(ClockSkew)) {
		return nil, talerrors.DenialInvalidFrame, talerrors.NewError(talerrors.ErrInvalidFrame, "issued_at outside clock skew window", nil)
	}

	if opts.Replay.CheckAndRecord(f.SessionID, f.CorrelationID, issuedAt, opts.Now) {
		return nil, talerrors.DenialReplay, talerrors.NewError(talerrors.ErrReplay, "duplicate (session_id, correlation_id)", nil)
	}

	return &f, "", nil
}

func requireRequestFields(f *Frame) error {
	switch {
	case f.SessionID == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing session_id", nil)
	case f.CorrelationID == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing correlation_id", nil)
	case f.PeerID == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing peer_id", nil)
	case f.Tool == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing tool", nil)
	case f.Method == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing method", nil)
	case f.RequestHash == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing request_hash", nil)
	case f.CapabilityHash == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing capability_hash", nil)
	case f.Sig == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing sig", nil)
	case f.ProtocolVersion != ProtocolVersion:
		return talerrors.NewError(talerrors.ErrInvalidFrame, "unsupported protocol_version", nil)
	case f.ResponseHash != "" || f.ResultCode != "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "response-only field on request frame", nil)
	}
	return nil
}

// VerifyResponse checks an MCP_RESPONSE frame's structure and signature,
// and that it's bound to request via session_id/correlation_id. It does
// not consult the replay store: a request's correlation_id is recorded
// once, when the request is verified, and its response inherits that
// binding rather than consuming a second replay slot.
func VerifyResponse(raw []byte, request *Frame, opts VerifyOptions) (*Frame, talerrors.DenialReason, error) {
	if err := rejectUnknownFields(raw); err != nil {
		return nil, talerrors.DenialInvalidFrame, err
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, talerrors.DenialInvalidFrame, talerrors.NewError(talerrors.ErrInvalidFrame, "malformed frame json", err)
	}
	if f.Type != TypeResponse {
		return nil, talerrors.DenialInvalidFrame, talerrors.NewError(talerrors.ErrInvalidFrame, "not a response frame", nil)
	}
	if err := requireResponseFields(&f); err != nil {
		return nil, talerrors.DenialInvalidFrame, err
	}
	if f.SessionID != request.SessionID || f.CorrelationID != request.CorrelationID {
		return nil, talerrors.DenialInvalidFrame, talerrors.NewError(talerrors.ErrInvalidFrame, "response not bound to request", nil)
	}

	pub, err := opts.Resolver.ResolvePublicKey(f.PeerID)
	if err != nil {
		return nil, talerrors.DenialInvalidSignature, err
	}
	signable, err := f.signableBytes()
	if err != nil {
		return nil, talerrors.DenialInvalidFrame, err
	}
	if !verifySignature(pub, signable, f.Sig) {
		return nil, talerrors.DenialInvalidSignature, talerrors.NewError(talerrors.ErrInvalidSignature, "frame signature mismatch", nil)
	}

	issuedAt := time.Unix(f.IssuedAt, 0).UTC()
	if issuedAt.Before(opts.Now.Add(-ClockSkew)) || issuedAt.After(opts.Now.Add(ClockSkew)) {
		return nil, talerrors.DenialInvalidFrame, talerrors.NewError(talerrors.ErrInvalidFrame, "issued_at outside clock skew window", nil)
	}

	return &f, "", nil
}

func requireResponseFields(f *Frame) error {
	switch {
	case f.SessionID == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing session_id", nil)
	case f.CorrelationID == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing correlation_id", nil)
	case f.PeerID == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing peer_id", nil)
	case f.ResponseHash == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing response_hash", nil)
	case f.ResultCode == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing result_code", nil)
	case f.Sig == "":
		return talerrors.NewError(talerrors.ErrInvalidFrame, "missing sig", nil)
	case f.ProtocolVersion != ProtocolVersion:
		return talerrors.NewError(talerrors.ErrInvalidFrame, "unsupported protocol_version", nil)
	case f.RequestHash != "" || f.CapabilityHash != "" || f.Capability != nil:
		return talerrors.NewError(talerrors.ErrInvalidFrame, "request-only field on response frame", nil)
	}
	return nil
}
