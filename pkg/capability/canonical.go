package capability

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/stacklok/talos/pkg/canon"
	talerrors "github.com/stacklok/talos/pkg/errors"
)

// ToCanonicalJSON returns c's RFC-8785-style canonical encoding, including
// its signature. Used for wire transmission and for capability.from_canonical
// round-tripping.
func (c *Capability) ToCanonicalJSON() ([]byte, error) {
	return canon.Marshal(c)
}

// CapabilityFromCanonicalJSON parses canonical JSON bytes back into a
// Capability, rejecting any duplicate-key input the canonicalizer would
// consider ambiguous.
func CapabilityFromCanonicalJSON(raw []byte) (*Capability, error) {
	if _, err := canon.Canonicalize(raw); err != nil {
		return nil, err
	}
	var c Capability
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "parse capability json", err)
	}
	return &c, nil
}

// signableBytes returns the canonical bytes signed by the issuer: every
// field except sig.
func (c *Capability) signableBytes() ([]byte, error) {
	return canon.SignableBytes(c, "sig")
}

// CanonicalHash returns sha256(canonical(c)), the hash used to reference a
// capability in the session cache and the revocation-hash set.
func (c *Capability) CanonicalHash() ([32]byte, error) {
	raw, err := c.ToCanonicalJSON()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(raw), nil
}
