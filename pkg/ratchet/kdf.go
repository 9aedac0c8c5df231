package ratchet

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

var (
	rootInfo    = []byte("talos-double-ratchet-root")
	messageInfo = []byte("talos-double-ratchet-message")
	chainInfo   = []byte("talos-double-ratchet-chain")
	x3dhInfo    = []byte("x3dh-init")
)

// kdfX3DH derives the initial root key directly from the X3DH shared
// secret, with no salt (none exists yet).
func kdfX3DH(dhOut []byte) ([32]byte, error) {
	return hkdf32(dhOut, nil, x3dhInfo)
}

// kdfRK implements KDF_RK: given the current root key and a fresh DH
// output, derive the next root key and the chain key for the ratchet step
// that produced dhOut.
func kdfRK(rootKey [32]byte, dhOut []byte) (newRoot [32]byte, chainKey [32]byte, err error) {
	r := hkdf.New(sha256.New, dhOut, rootKey[:], rootInfo)
	var buf [64]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return newRoot, chainKey, talerrors.NewError(talerrors.ErrRatchetState, "derive root kdf", err)
	}
	copy(newRoot[:], buf[:32])
	copy(chainKey[:], buf[32:])
	return newRoot, chainKey, nil
}

// kdfCK implements KDF_CK: given a chain key, derive the message key for
// the current step and the next chain key.
func kdfCK(chainKey [32]byte) (messageKey [32]byte, nextChainKey [32]byte, err error) {
	messageKey, err = hkdf32(chainKey[:], nil, messageInfo)
	if err != nil {
		return messageKey, nextChainKey, err
	}
	nextChainKey, err = hkdf32(chainKey[:], nil, chainInfo)
	return messageKey, nextChainKey, err
}

func hkdf32(secret, salt, info []byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, talerrors.NewError(talerrors.ErrRatchetState, "hkdf derive", err)
	}
	return out, nil
}
