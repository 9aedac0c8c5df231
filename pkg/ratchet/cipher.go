package ratchet

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// errSkippedKeyAEADFailure marks a decrypt failure that used a
// skipped-key pick: non-fatal to the session (it indicates replay or
// corruption of one message, not state corruption), unlike every other
// decrypt failure.
var errSkippedKeyAEADFailure = errors.New("aead failure on skipped-key message")

// IsFatal reports whether a Decrypt error should force the session to be
// torn down and the peer to rehandshake. Only an AEAD failure on a
// skipped-key pick is non-fatal.
func IsFatal(err error) bool {
	return !errors.Is(err, errSkippedKeyAEADFailure)
}

// Encrypt advances the sending chain by one step and returns the wire
// encoding of plaintext: u16-be(len(header)) | header | nonce | ciphertext+tag.
// If no sending chain exists yet (the responder side before its first
// outbound message), a DH ratchet step is performed first to establish one.
func (s *State) Encrypt(rng io.Reader, plaintext []byte) ([]byte, error) {
	if s.chainKeySend == nil {
		if err := s.ratchetSend(rng); err != nil {
			return nil, err
		}
	}

	messageKey, nextChain, err := kdfCK(*s.chainKeySend)
	if err != nil {
		return nil, err
	}
	s.chainKeySend = &nextChain

	h := header{
		dhPublic:            s.dhKeypair.PublicKey().Bytes(),
		previousChainLength: s.prevSendCount,
		messageNumber:       s.sendCount,
	}
	s.sendCount++

	headerBytes := h.encode()
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return nil, talerrors.NewError(talerrors.ErrInternal, "generate nonce", err)
	}
	aead, err := chacha20poly1305.New(messageKey[:])
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrInternal, "init aead", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, headerBytes)

	out := make([]byte, 2+len(headerBytes)+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(out[:2], uint16(len(headerBytes)))
	off := 2
	off += copy(out[off:], headerBytes)
	off += copy(out[off:], nonce)
	copy(out[off:], ciphertext)
	return out, nil
}

// EncryptWithRandom is Encrypt using crypto/rand as the nonce/ratchet RNG.
func (s *State) EncryptWithRandom(plaintext []byte) ([]byte, error) {
	return s.Encrypt(rand.Reader, plaintext)
}

// ratchetSend performs a DH ratchet step to (re)establish a sending
// chain: generate a fresh keypair, derive a new root key and chain_key_send
// from DH(new_priv, dh_remote), per KDF_RK.
func (s *State) ratchetSend(rng io.Reader) error {
	if s.dhRemote == nil {
		return talerrors.NewError(talerrors.ErrRatchetState, "no remote dh public key to ratchet against", nil)
	}
	newKeypair, err := generateKeypair(rng)
	if err != nil {
		return talerrors.NewError(talerrors.ErrInternal, "generate dh keypair", err)
	}
	dhOut, err := newKeypair.ECDH(s.dhRemote)
	if err != nil {
		return talerrors.NewError(talerrors.ErrRatchetState, "dh ratchet", err)
	}
	newRoot, chainSend, err := kdfRK(s.rootKey, dhOut)
	if err != nil {
		return err
	}
	s.prevSendCount = s.sendCount
	s.sendCount = 0
	s.dhKeypair = newKeypair
	s.rootKey = newRoot
	cs := chainSend
	s.chainKeySend = &cs
	return nil
}

// Decrypt parses wire, performs a DH ratchet if the sender's key has
// rotated, skips forward in the receiving chain as needed (bounded by
// MaxSkip), and returns the decrypted plaintext.
func (s *State) Decrypt(wire []byte) ([]byte, error) {
	if len(wire) < 2 {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "truncated wire message", nil)
	}
	hdrLen := int(binary.BigEndian.Uint16(wire[:2]))
	if len(wire) < 2+hdrLen+chacha20poly1305.NonceSize {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "truncated wire message", nil)
	}
	headerBytes := wire[2 : 2+hdrLen]
	nonce := wire[2+hdrLen : 2+hdrLen+chacha20poly1305.NonceSize]
	ciphertext := wire[2+hdrLen+chacha20poly1305.NonceSize:]

	h, err := decodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	sk := skippedKey{dhPublic: string(h.dhPublic), messageNumber: h.messageNumber}
	s.skippedMu.Lock()
	entry, ok := s.skippedKeys[sk]
	if ok {
		delete(s.skippedKeys, sk)
	}
	s.skippedMu.Unlock()
	if ok {
		return s.open(entry.messageKey, nonce, headerBytes, ciphertext, true)
	}

	remoteChanged := s.dhRemote == nil || !equalBytes(s.dhRemote.Bytes(), h.dhPublic)
	if remoteChanged {
		if err := s.skipCurrentChain(h.previousChainLength); err != nil {
			return nil, err
		}
		if err := s.dhRatchetRecv(h.dhPublic); err != nil {
			return nil, err
		}
	}

	if err := s.skipCurrentChain(h.messageNumber); err != nil {
		return nil, err
	}

	messageKey, nextChain, err := kdfCK(*s.chainKeyRecv)
	if err != nil {
		return nil, err
	}
	s.chainKeyRecv = &nextChain
	s.recvCount++

	return s.open(messageKey, nonce, headerBytes, ciphertext, false)
}

func (s *State) open(messageKey [32]byte, nonce, aad, ciphertext []byte, fromSkipped bool) ([]byte, error) {
	aead, err := chacha20poly1305.New(messageKey[:])
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrInternal, "init aead", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		cause := err
		if fromSkipped {
			cause = errSkippedKeyAEADFailure
		}
		return nil, talerrors.NewError(talerrors.ErrInvalidSignature, "aead tag mismatch", cause)
	}
	return plaintext, nil
}

// skipCurrentChain advances the receiving chain up to target message
// number, storing every intermediate key in the skipped-key store.
// target is exclusive: messages [recvCount, target) are skipped.
func (s *State) skipCurrentChain(target uint32) error {
	if s.chainKeyRecv == nil {
		return nil
	}
	if target <= s.recvCount {
		return nil
	}
	if uint64(s.recvCount)+uint64(MaxSkip) < uint64(target) {
		return talerrors.NewError(talerrors.ErrRatchetState, "too many skipped messages", nil)
	}
	s.skippedMu.Lock()
	skippedCount := len(s.skippedKeys)
	s.skippedMu.Unlock()
	if skippedCount+int(target-s.recvCount) > MaxSkip {
		return talerrors.NewError(talerrors.ErrRatchetState, "too many skipped messages", nil)
	}
	dhKey := ""
	if s.dhRemote != nil {
		dhKey = string(s.dhRemote.Bytes())
	}
	now := s.now()
	for s.recvCount < target {
		messageKey, nextChain, err := kdfCK(*s.chainKeyRecv)
		if err != nil {
			return err
		}
		s.skippedMu.Lock()
		s.skippedKeys[skippedKey{dhPublic: dhKey, messageNumber: s.recvCount}] = skippedKeyEntry{messageKey: messageKey, storedAt: now}
		s.skippedMu.Unlock()
		s.chainKeyRecv = &nextChain
		s.recvCount++
	}
	return nil
}

// dhRatchetRecv performs stages 2-5 of the DH ratchet on message receipt:
// reset counters, adopt the peer's new public key, derive the new
// receiving chain, then generate our own new keypair and derive the new
// sending chain so our next Encrypt uses it.
func (s *State) dhRatchetRecv(peerPublicBytes []byte) error {
	peerPub, err := curve.NewPublicKey(peerPublicBytes)
	if err != nil {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "invalid peer dh public key", err)
	}
	s.prevSendCount = s.sendCount
	s.sendCount = 0
	s.recvCount = 0
	s.dhRemote = peerPub

	dhOut, err := s.dhKeypair.ECDH(s.dhRemote)
	if err != nil {
		return talerrors.NewError(talerrors.ErrRatchetState, "dh ratchet recv", err)
	}
	newRoot, chainRecv, err := kdfRK(s.rootKey, dhOut)
	if err != nil {
		return err
	}
	s.rootKey = newRoot
	cr := chainRecv
	s.chainKeyRecv = &cr

	newKeypair, err := generateKeypair(rand.Reader)
	if err != nil {
		return talerrors.NewError(talerrors.ErrInternal, "generate dh keypair", err)
	}
	s.dhKeypair = newKeypair
	dhOut2, err := newKeypair.ECDH(s.dhRemote)
	if err != nil {
		return talerrors.NewError(talerrors.ErrRatchetState, "dh ratchet send", err)
	}
	newRoot2, chainSend, err := kdfRK(s.rootKey, dhOut2)
	if err != nil {
		return err
	}
	s.rootKey = newRoot2
	cs := chainSend
	s.chainKeySend = &cs
	return nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
