// Package identity derives Talos DIDs from Ed25519 keys and builds the
// prekey bundles exchanged during an X3DH handshake.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// didPrefix begins every Talos DID, e.g. "did:talos:3f9a1b...".
const didPrefix = "did:talos:"

// didHexLen is the number of hex characters kept from the public key
// digest (16 bytes = 32 hex chars), chosen to keep DID collision
// probability negligible while staying short enough to log and compare.
const didHexLen = 32

// KeyPair is an Ed25519 identity keypair and its derived DID.
type KeyPair struct {
	DID        string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 identity keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrInternal, "generate ed25519 keypair", err)
	}
	return &KeyPair{DID: DeriveDID(pub), PublicKey: pub, PrivateKey: priv}, nil
}

// KeyPairFromSeed deterministically derives a keypair from a 32-byte seed.
// Used by tests and by callers restoring an identity from stored secret
// material.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument,
			fmt.Sprintf("seed must be %d bytes", ed25519.SeedSize), nil)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{DID: DeriveDID(pub), PublicKey: pub, PrivateKey: priv}, nil
}

// DeriveDID computes the Talos DID for an Ed25519 public key:
// "did:talos:" followed by the first 16 bytes of sha256(pubkey), hex
// encoded.
func DeriveDID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return didPrefix + hex.EncodeToString(sum[:])[:didHexLen]
}

// VerifyDID reports whether did was correctly derived from pub.
func VerifyDID(did string, pub ed25519.PublicKey) bool {
	return did == DeriveDID(pub)
}

// PrekeyBundle is the public material a peer publishes so others can
// initiate an X3DH handshake with it: a long-term identity key and a
// medium-term signed prekey, plus an optional one-time prekey for stronger
// forward secrecy on the first message.
type PrekeyBundle struct {
	DID              string
	IdentityKey      ed25519.PublicKey // long-term Ed25519 signing key
	SignedPrekey     []byte            // X25519 public key (32 bytes)
	PrekeySignature  []byte            // Ed25519 signature over SignedPrekey, by IdentityKey
	OneTimePrekey    []byte            // optional X25519 public key (32 bytes), nil if exhausted
	OneTimePrekeyID  string            // identifies OneTimePrekey for consumption bookkeeping
}

// NewPrekeyBundle signs signedPrekey with kp's identity key and assembles
// a bundle ready to publish.
func NewPrekeyBundle(kp *KeyPair, signedPrekey []byte, oneTimePrekey []byte, oneTimePrekeyID string) (*PrekeyBundle, error) {
	if len(signedPrekey) != 32 {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "signed prekey must be 32 bytes", nil)
	}
	sig := ed25519.Sign(kp.PrivateKey, signedPrekey)
	return &PrekeyBundle{
		DID:             kp.DID,
		IdentityKey:     kp.PublicKey,
		SignedPrekey:    signedPrekey,
		PrekeySignature: sig,
		OneTimePrekey:   oneTimePrekey,
		OneTimePrekeyID: oneTimePrekeyID,
	}, nil
}

// Verify checks that the bundle's DID matches its identity key and that
// the signed prekey's signature verifies under that key.
func (b *PrekeyBundle) Verify() error {
	if !VerifyDID(b.DID, b.IdentityKey) {
		return talerrors.NewError(talerrors.ErrInvalidSignature, "prekey bundle DID does not match identity key", nil)
	}
	if len(b.SignedPrekey) != 32 {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "signed prekey must be 32 bytes", nil)
	}
	if !ed25519.Verify(b.IdentityKey, b.SignedPrekey, b.PrekeySignature) {
		return talerrors.NewError(talerrors.ErrInvalidSignature, "signed prekey signature invalid", nil)
	}
	return nil
}
