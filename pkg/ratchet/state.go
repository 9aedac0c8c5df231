// Package ratchet implements the Signal-style Double Ratchet: an X3DH
// handshake establishes initial key material, after which each message
// advances a symmetric ratchet (and, on peer key rotation, a Diffie-
// Hellman ratchet), giving forward secrecy and tolerance of out-of-order
// delivery up to a bounded skip.
package ratchet

import (
	"crypto/ecdh"
	"io"
	"sync"
	"time"
)

// MaxSkip bounds the number of message keys that may accumulate in a
// single receiving chain's skipped-key store.
const MaxSkip = 1000

// skippedKey identifies one entry in the skipped-message-key store: a
// message the peer sent (under a given DH public key) that has not yet
// been delivered/decrypted.
type skippedKey struct {
	dhPublic      string // raw X25519 public key bytes, used as a map key
	messageNumber uint32
}

// skippedKeyEntry is one stored message key plus the time it was skipped,
// so a sweep can reclaim entries that sat unused past a TTL without
// waiting for MaxSkip to force the issue.
type skippedKeyEntry struct {
	messageKey [32]byte
	storedAt   time.Time
}

// State is one peer's Double Ratchet session. Every field is owned
// exclusively by whichever caller currently holds the session (see
// SessionManager); State itself is not safe for concurrent use.
type State struct {
	PeerID string

	dhKeypair *ecdh.PrivateKey
	dhRemote  *ecdh.PublicKey

	rootKey [32]byte

	chainKeySend *[32]byte
	chainKeyRecv *[32]byte

	sendCount     uint32
	recvCount     uint32
	prevSendCount uint32

	// skippedMu guards skippedKeys only: everything else in State follows
	// the exclusive-borrow discipline described above, but skippedKeys is
	// also read by SessionManager's background sweep, which runs
	// concurrently with whatever goroutine currently holds the session.
	skippedMu   sync.Mutex
	skippedKeys map[skippedKey]skippedKeyEntry

	nowFunc func() time.Time
}

func newState(peerID string) *State {
	return &State{PeerID: peerID, skippedKeys: make(map[skippedKey]skippedKeyEntry)}
}

func (s *State) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// SweepSkippedKeys removes skipped-key entries older than ttl, reclaiming
// keys a peer never came back for without waiting for MaxSkip to be hit.
// Safe to call concurrently with Encrypt/Decrypt on the same session.
func (s *State) SweepSkippedKeys(ttl time.Duration) int {
	now := s.now()
	s.skippedMu.Lock()
	defer s.skippedMu.Unlock()
	removed := 0
	for k, entry := range s.skippedKeys {
		if now.Sub(entry.storedAt) > ttl {
			delete(s.skippedKeys, k)
			removed++
		}
	}
	return removed
}

// SkippedCount reports how many message keys are currently buffered in
// the skipped-key store, for tests asserting the MAX_SKIP boundary.
func (s *State) SkippedCount() int {
	s.skippedMu.Lock()
	defer s.skippedMu.Unlock()
	return len(s.skippedKeys)
}

// SendCount exposes the sending chain's message counter.
func (s *State) SendCount() uint32 { return s.sendCount }

// RecvCount exposes the receiving chain's message counter.
func (s *State) RecvCount() uint32 { return s.recvCount }

var curve = ecdh.X25519()

func generateKeypair(rng io.Reader) (*ecdh.PrivateKey, error) {
	return curve.GenerateKey(rng)
}
