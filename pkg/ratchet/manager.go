package ratchet

import (
	"crypto/ecdh"
	"crypto/rand"
	"io"
	"sync"
	"time"

	talerrors "github.com/stacklok/talos/pkg/errors"
	"github.com/stacklok/talos/pkg/identity"
)

// SessionManager owns every peer session on one side of the gateway. The
// map of peer_id -> *State is guarded by a lock on lookup/insert; once a
// caller has the *State returned from Get, it owns that session
// exclusively until it returns it, matching the borrow discipline laid
// out for concurrent request handling. The one exception is the skipped-
// key sweep started by StartSkippedKeySweeper, which runs on its own
// goroutine and only ever touches the skippedMu-guarded part of a State.
type SessionManager struct {
	rng io.Reader

	mu       sync.Mutex
	sessions map[string]*State

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	sweepDone   chan struct{}
}

// NewSessionManager creates an empty SessionManager using crypto/rand for
// ephemeral key and nonce generation.
func NewSessionManager() *SessionManager {
	return &SessionManager{rng: rand.Reader, sessions: make(map[string]*State)}
}

// NewSessionManagerWithRNG is NewSessionManager with an injectable RNG,
// for deterministic tests.
func NewSessionManagerWithRNG(rng io.Reader) *SessionManager {
	return &SessionManager{rng: rng, sessions: make(map[string]*State)}
}

// CreateSessionAsInitiator runs the X3DH initiator handshake against
// peerBundle and stores the resulting session under peerID.
func (sm *SessionManager) CreateSessionAsInitiator(peerID string, peerBundle *identity.PrekeyBundle) (*State, error) {
	s, err := createSessionAsInitiator(sm.rng, peerID, peerBundle)
	if err != nil {
		return nil, err
	}
	sm.put(peerID, s)
	return s, nil
}

// CreateSessionAsResponder runs the X3DH responder handshake and stores
// the resulting session under peerID.
func (sm *SessionManager) CreateSessionAsResponder(peerID string, ourSignedPrekey *ecdh.PrivateKey, peerDHPublic *ecdh.PublicKey) (*State, error) {
	s, err := createSessionAsResponder(peerID, ourSignedPrekey, peerDHPublic)
	if err != nil {
		return nil, err
	}
	sm.put(peerID, s)
	return s, nil
}

func (sm *SessionManager) put(peerID string, s *State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[peerID] = s
}

// Get returns the session for peerID, if any.
func (sm *SessionManager) Get(peerID string) (*State, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[peerID]
	return s, ok
}

// Remove deletes peerID's session, e.g. after a fatal ratchet error forces
// a rehandshake.
func (sm *SessionManager) Remove(peerID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, peerID)
}

// Count reports the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Encrypt looks up peerID's session and encrypts plaintext through it.
func (sm *SessionManager) Encrypt(peerID string, plaintext []byte) ([]byte, error) {
	s, ok := sm.Get(peerID)
	if !ok {
		return nil, talerrors.NewError(talerrors.ErrRatchetState, "no session for peer "+peerID, nil)
	}
	return s.Encrypt(sm.rng, plaintext)
}

// Decrypt looks up peerID's session and decrypts wire through it. A fatal
// ratchet error (anything other than an AEAD failure on a skipped key)
// removes the session, forcing the peer to rehandshake.
func (sm *SessionManager) Decrypt(peerID string, wire []byte) ([]byte, error) {
	s, ok := sm.Get(peerID)
	if !ok {
		return nil, talerrors.NewError(talerrors.ErrRatchetState, "no session for peer "+peerID, nil)
	}
	plaintext, err := s.Decrypt(wire)
	if err != nil {
		if IsFatal(err) {
			sm.Remove(peerID)
		}
		return nil, err
	}
	return plaintext, nil
}

// StartSkippedKeySweeper runs a background goroutine that wakes up every
// interval and sweeps every session's skipped-key store, removing entries
// older than ttl even if MaxSkip was never hit. Call StopSweeper to end
// it; starting a sweeper twice without stopping the first leaks the
// earlier goroutine.
func (sm *SessionManager) StartSkippedKeySweeper(interval, ttl time.Duration) {
	sm.sweepTicker = time.NewTicker(interval)
	sm.stopSweep = make(chan struct{})
	sm.sweepDone = make(chan struct{})
	go sm.sweepLoop(ttl)
}

func (sm *SessionManager) sweepLoop(ttl time.Duration) {
	for {
		select {
		case <-sm.sweepTicker.C:
			sm.sweepExpiredSkippedKeys(ttl)
		case <-sm.stopSweep:
			sm.sweepTicker.Stop()
			close(sm.sweepDone)
			return
		}
	}
}

func (sm *SessionManager) sweepExpiredSkippedKeys(ttl time.Duration) {
	sm.mu.Lock()
	sessions := make([]*State, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	for _, s := range sessions {
		s.SweepSkippedKeys(ttl)
	}
}

// StopSweeper stops the sweeper started by StartSkippedKeySweeper and
// blocks until its goroutine has exited. A no-op if no sweeper is running.
func (sm *SessionManager) StopSweeper() {
	if sm.stopSweep == nil {
		return
	}
	close(sm.stopSweep)
	<-sm.sweepDone
	sm.stopSweep = nil
}
