// Package capability implements the capability-token lifecycle: grant,
// verify, delegate, and revoke, plus the session-cached fast authorization
// path gateways use on every tool call.
package capability

import (
	"strings"
)

// Protocol-wide constants shared by every CapabilityManager instance.
const (
	Version             = 1
	MaxDelegationDepth   = 3
	ClockSkew            = 60 // seconds
	SessionCacheMax      = 10000
	SessionCacheEvictN   = 100
)

// Constraints is the recognized-key restriction map attached to a
// capability. Unrecognized keys are preserved and ignored by verification,
// per the forward-compatibility rule.
type Constraints map[string]any

// Paths returns the "paths" constraint (glob patterns) if present.
func (c Constraints) Paths() []string {
	return c.stringSlice("paths")
}

// AllowedTools returns the "allowed_tools" constraint if present.
func (c Constraints) AllowedTools() []string {
	return c.stringSlice("allowed_tools")
}

// RateLimit returns the "rate_limit" constraint ("<N>/<period>") if present.
func (c Constraints) RateLimit() (string, bool) {
	v, ok := c["rate_limit"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (c Constraints) stringSlice(key string) []string {
	v, ok := c[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a deep-enough copy of c for safe mutation by callers
// (delegation overlay) without aliasing the parent's slices/maps.
func (c Constraints) Clone() Constraints {
	if c == nil {
		return nil
	}
	out := make(Constraints, len(c))
	for k, v := range c {
		switch vv := v.(type) {
		case []string:
			cp := make([]string, len(vv))
			copy(cp, vv)
			out[k] = cp
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// Capability is a signed assertion that Subject may invoke operations
// within Scope, optionally constrained. Signature is a detached Ed25519
// signature, base64url encoded, over the canonical bytes of every other
// field.
type Capability struct {
	ID              string      `json:"id"`
	Version         int         `json:"v"`
	Issuer          string      `json:"iss"`
	Subject         string      `json:"sub"`
	Scope           string      `json:"scope"`
	Constraints     Constraints `json:"constraints,omitempty"`
	IssuedAt        int64       `json:"iat"`
	ExpiresAt       int64       `json:"exp"`
	Delegatable     bool        `json:"delegatable,omitempty"`
	DelegationChain []string    `json:"delegation_chain,omitempty"`
	Signature       string      `json:"sig,omitempty"`
}

// scopeSegments splits a "tool:<T>/method:<M>"-shaped scope on "/".
func scopeSegments(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Split(scope, "/")
}

// isScopePrefix reports whether candidate (the capability's scope) is a
// "/"-segmented prefix of requested (the scope being asked for), honoring
// the cached fast-path's "segment ends in :*" wildcard suffix rule.
func isScopePrefix(candidate, requested string) bool {
	candSegs := scopeSegments(candidate)
	reqSegs := scopeSegments(requested)
	if len(candSegs) > len(reqSegs) {
		return false
	}
	for i, seg := range candSegs {
		if seg == reqSegs[i] {
			continue
		}
		if prefix, ok := strings.CutSuffix(seg, ":*"); ok && strings.HasPrefix(reqSegs[i], prefix) {
			continue
		}
		return false
	}
	return true
}

// RevocationEntry records that a capability has been revoked.
type RevocationEntry struct {
	CapabilityID string
	RevokedAt    int64
	Reason       string
	RevokedBy    string
}

// SessionCacheEntry is the fast-path's cached view of a verified
// capability, keyed by session_id.
type SessionCacheEntry struct {
	SessionID      string
	CapabilityID   string
	CapabilityHash [32]byte
	Subject        string
	Scope          string
	Issuer         string
	VerifiedAt     int64
	ExpiresAt      int64
	LastUsed       int64
	Constraints    Constraints
}
