package capability

import (
	"crypto/ed25519"
	"encoding/base64"
)

// signBytes signs message with priv and returns the signature, base64url
// encoded without padding (matching the canonicalizer's byte-string
// convention).
func signBytes(priv ed25519.PrivateKey, message []byte) string {
	sig := ed25519.Sign(priv, message)
	return base64.RawURLEncoding.EncodeToString(sig)
}

// verifySignature checks sigEncoded (base64url, no padding) against
// message under pub.
func verifySignature(pub ed25519.PublicKey, message []byte, sigEncoded string) bool {
	sig, err := base64.RawURLEncoding.DecodeString(sigEncoded)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}
