package ratchet

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/talos/pkg/identity"
)

func newTestPair(t *testing.T) (initiator, responder *State) {
	t.Helper()
	responderIdentity, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	signedPrekeyPriv, err := curve.GenerateKey(rand.Reader)
	require.NoError(t, err)
	bundle, err := identity.NewPrekeyBundle(responderIdentity, signedPrekeyPriv.PublicKey().Bytes(), nil, "")
	require.NoError(t, err)

	initiator, err = createSessionAsInitiator(rand.Reader, responderIdentity.DID, bundle)
	require.NoError(t, err)

	responder, err = createSessionAsResponder("initiator", signedPrekeyPriv, initiator.dhKeypair.PublicKey())
	require.NoError(t, err)
	return initiator, responder
}

func TestHandshakeProducesMatchingChainKeys(t *testing.T) {
	initiator, responder := newTestPair(t)
	assert.Equal(t, initiator.rootKey, responder.rootKey)
	require.NotNil(t, initiator.chainKeySend)
	require.NotNil(t, responder.chainKeyRecv)
	assert.Equal(t, *initiator.chainKeySend, *responder.chainKeyRecv)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	initiator, responder := newTestPair(t)
	wire, err := initiator.EncryptWithRandom([]byte("hello talos"))
	require.NoError(t, err)
	plaintext, err := responder.Decrypt(wire)
	require.NoError(t, err)
	assert.Equal(t, "hello talos", string(plaintext))
}

func TestForwardSecrecyChainKeyOverwritten(t *testing.T) {
	initiator, _ := newTestPair(t)
	before := *initiator.chainKeySend
	_, err := initiator.EncryptWithRandom([]byte("msg"))
	require.NoError(t, err)
	after := *initiator.chainKeySend
	assert.NotEqual(t, before, after)
}

func TestOutOfOrderDeliveryWithinChain(t *testing.T) {
	initiator, responder := newTestPair(t)

	var wires [][]byte
	for i := 0; i < 5; i++ {
		w, err := initiator.EncryptWithRandom([]byte{byte(i)})
		require.NoError(t, err)
		wires = append(wires, w)
	}

	order := []int{4, 1, 0, 3, 2}
	for _, i := range order {
		pt, err := responder.Decrypt(wires[i])
		require.NoError(t, err)
		assert.Equal(t, byte(i), pt[0])
	}
}

func TestBidirectionalExchangeTriggersDHRatchet(t *testing.T) {
	initiator, responder := newTestPair(t)

	w1, err := initiator.EncryptWithRandom([]byte("a->b"))
	require.NoError(t, err)
	_, err = responder.Decrypt(w1)
	require.NoError(t, err)

	w2, err := responder.EncryptWithRandom([]byte("b->a"))
	require.NoError(t, err)
	pt, err := initiator.Decrypt(w2)
	require.NoError(t, err)
	assert.Equal(t, "b->a", string(pt))

	w3, err := initiator.EncryptWithRandom([]byte("a->b again"))
	require.NoError(t, err)
	pt3, err := responder.Decrypt(w3)
	require.NoError(t, err)
	assert.Equal(t, "a->b again", string(pt3))
}

func TestSkipExactlyAtMaxSkipSucceeds(t *testing.T) {
	_, responder := newTestPair(t)
	err := responder.skipCurrentChain(MaxSkip)
	require.NoError(t, err)
	assert.Equal(t, MaxSkip, responder.SkippedCount())
}

func TestSkipBeyondMaxSkipFails(t *testing.T) {
	_, responder := newTestPair(t)
	err := responder.skipCurrentChain(MaxSkip + 1)
	assert.Error(t, err)
}

func TestTamperedCiphertextFailsDecrypt(t *testing.T) {
	initiator, responder := newTestPair(t)
	wire, err := initiator.EncryptWithRandom([]byte("hello"))
	require.NoError(t, err)
	wire[len(wire)-1] ^= 0xFF
	_, err = responder.Decrypt(wire)
	assert.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestReplayOfConsumedSkippedKeyMessageFails(t *testing.T) {
	initiator, responder := newTestPair(t)
	w0, err := initiator.EncryptWithRandom([]byte("m0"))
	require.NoError(t, err)
	w1, err := initiator.EncryptWithRandom([]byte("m1"))
	require.NoError(t, err)

	_, err = responder.Decrypt(w1) // skips m0 into skipped-key store
	require.NoError(t, err)
	_, err = responder.Decrypt(w0) // consumes the skipped key
	require.NoError(t, err)

	_, err = responder.Decrypt(w0) // replay: key already consumed
	assert.Error(t, err)
}

func TestSweepSkippedKeysRemovesOnlyEntriesOlderThanTTL(t *testing.T) {
	_, responder := newTestPair(t)
	require.NoError(t, responder.skipCurrentChain(3))
	require.Equal(t, 3, responder.SkippedCount())

	base := time.Unix(1_700_000_000, 0)
	responder.nowFunc = func() time.Time { return base }
	require.NoError(t, responder.skipCurrentChain(4)) // one more entry, stamped at base

	responder.nowFunc = func() time.Time { return base.Add(time.Hour) }
	removed := responder.SweepSkippedKeys(30 * time.Minute)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 3, responder.SkippedCount())
}

func TestSweepSkippedKeysNoopBeforeTTLElapses(t *testing.T) {
	_, responder := newTestPair(t)
	require.NoError(t, responder.skipCurrentChain(2))

	removed := responder.SweepSkippedKeys(time.Hour)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 2, responder.SkippedCount())
}

func TestSessionManagerSkippedKeySweeperReclaimsAcrossSessions(t *testing.T) {
	initiator, responder := newTestPair(t)
	require.NoError(t, responder.skipCurrentChain(2))

	base := time.Unix(1_700_000_000, 0)
	responder.nowFunc = func() time.Time { return base }
	require.NoError(t, responder.skipCurrentChain(3))

	sm := NewSessionManager()
	sm.put("initiator", initiator)
	sm.put("responder", responder)

	responder.nowFunc = func() time.Time { return base.Add(time.Minute) }
	sm.sweepExpiredSkippedKeys(30 * time.Second)

	assert.Equal(t, 2, responder.SkippedCount())
}

func TestSessionManagerStartStopSweeper(t *testing.T) {
	sm := NewSessionManager()
	sm.StartSkippedKeySweeper(10*time.Millisecond, time.Hour)
	sm.StopSweeper()
}

func TestSessionManagerEncryptDecrypt(t *testing.T) {
	initiator, responder := newTestPair(t)
	sm := NewSessionManager()
	sm.put("responder", initiator)
	sm2 := NewSessionManager()
	sm2.put("initiator", responder)

	wire, err := sm.Encrypt("responder", []byte("via manager"))
	require.NoError(t, err)
	pt, err := sm2.Decrypt("initiator", wire)
	require.NoError(t, err)
	assert.Equal(t, "via manager", string(pt))
}
