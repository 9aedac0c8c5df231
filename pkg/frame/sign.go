package frame

import (
	"crypto/ed25519"
	"encoding/base64"
)

// signBytes signs message with priv and returns the signature, base64url
// encoded without padding, matching pkg/capability's convention so a
// signature produced by one package verifies under the other.
func signBytes(priv ed25519.PrivateKey, message []byte) string {
	sig := ed25519.Sign(priv, message)
	return base64.RawURLEncoding.EncodeToString(sig)
}

func verifySignature(pub ed25519.PublicKey, message []byte, sigEncoded string) bool {
	sig, err := base64.RawURLEncoding.DecodeString(sigEncoded)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}
