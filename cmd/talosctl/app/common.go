package app

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/stacklok/talos/pkg/capability"
	"github.com/stacklok/talos/pkg/identity"
)

// loadKeyPair reads a hex-encoded 32-byte Ed25519 seed from seedFile and
// derives the issuer's keypair from it.
func loadKeyPair(seedFile string) (*identity.KeyPair, error) {
	if seedFile == "" {
		return nil, fmt.Errorf("--seed-file is required")
	}
	raw, err := os.ReadFile(seedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	seed, err := hex.DecodeString(trimNewline(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to hex-decode seed: %w", err)
	}
	return identity.KeyPairFromSeed(seed)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// newManager builds a Manager over kp using a resolver pre-seeded with kp's
// own public key, sufficient for single-issuer offline operations (grant,
// verify, revoke) that never need to resolve a delegation peer's key.
func newManager(kp *identity.KeyPair) *capability.Manager {
	resolver := capability.NewStaticResolver()
	resolver.Register(kp.DID, kp.PublicKey)
	return capability.NewManager(kp, resolver)
}

func readCapabilityFile(path string) (*capability.Capability, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capability file: %w", err)
	}
	return capability.CapabilityFromCanonicalJSON(raw)
}

func writeCapabilityFile(path string, c *capability.Capability) error {
	raw, err := c.ToCanonicalJSON()
	if err != nil {
		return fmt.Errorf("failed to canonicalize capability: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}
