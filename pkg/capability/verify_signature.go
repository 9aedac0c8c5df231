package capability

import talerrors "github.com/stacklok/talos/pkg/errors"

// VerifySignatureOnly checks that c's Ed25519 signature is valid under its
// issuer's resolved public key, without checking expiry, revocation, or
// scope. It's used when a capability arrives inline in a frame and the
// frame verifier only needs to establish "this token wasn't forged"
// before handing it to the gateway's authorize step, which performs the
// full verification (expiry, revocation, scope) in context.
func VerifySignatureOnly(c *Capability, resolver KeyResolver) error {
	if c == nil {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "no capability", nil)
	}
	pub, err := resolver.ResolvePublicKey(c.Issuer)
	if err != nil {
		return talerrors.NewError(talerrors.ErrInvalidSignature, "cannot resolve issuer key", err)
	}
	bytes, err := c.signableBytes()
	if err != nil {
		return err
	}
	if !verifySignature(pub, bytes, c.Signature) {
		return talerrors.NewError(talerrors.ErrInvalidSignature, "signature does not verify", nil)
	}
	return nil
}
