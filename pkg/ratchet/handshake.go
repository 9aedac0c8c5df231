package ratchet

import (
	"crypto/ecdh"
	"io"

	talerrors "github.com/stacklok/talos/pkg/errors"
	"github.com/stacklok/talos/pkg/identity"
)

// createSessionAsInitiator runs the initiator side of the X3DH handshake
// against peerBundle, yielding a State ready to encrypt.
func createSessionAsInitiator(rng io.Reader, peerID string, peerBundle *identity.PrekeyBundle) (*State, error) {
	if err := peerBundle.Verify(); err != nil {
		return nil, err
	}
	peerSignedPrekey, err := curve.NewPublicKey(peerBundle.SignedPrekey)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "invalid peer signed prekey", err)
	}

	ephemeral, err := generateKeypair(rng)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrInternal, "generate ephemeral keypair", err)
	}

	dhX3DH, err := ephemeral.ECDH(peerSignedPrekey)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrRatchetState, "x3dh dh", err)
	}
	rootKey, err := kdfX3DH(dhX3DH)
	if err != nil {
		return nil, err
	}
	newRoot, chainSend, err := kdfRK(rootKey, dhX3DH)
	if err != nil {
		return nil, err
	}

	s := newState(peerID)
	s.dhKeypair = ephemeral
	s.dhRemote = peerSignedPrekey
	s.rootKey = newRoot
	cs := chainSend
	s.chainKeySend = &cs
	return s, nil
}

// createSessionAsResponder runs the responder side: ourSignedPrekey is the
// X25519 private key whose public half was published in our PrekeyBundle,
// and peerDHPublic is the ephemeral public key the initiator sent in its
// first message.
func createSessionAsResponder(peerID string, ourSignedPrekey *ecdh.PrivateKey, peerDHPublic *ecdh.PublicKey) (*State, error) {
	dhX3DH, err := ourSignedPrekey.ECDH(peerDHPublic)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrRatchetState, "x3dh dh", err)
	}
	rootKey, err := kdfX3DH(dhX3DH)
	if err != nil {
		return nil, err
	}
	newRoot, chainRecv, err := kdfRK(rootKey, dhX3DH)
	if err != nil {
		return nil, err
	}

	s := newState(peerID)
	s.dhKeypair = ourSignedPrekey
	s.dhRemote = peerDHPublic
	s.rootKey = newRoot
	cr := chainRecv
	s.chainKeyRecv = &cr
	return s, nil
}
