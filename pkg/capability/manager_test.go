package capability

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	talerrors "github.com/stacklok/talos/pkg/errors"
	"github.com/stacklok/talos/pkg/identity"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	resolver := NewStaticResolver()
	m := NewManager(kp, resolver, WithClock(clock))
	return m, clock
}

func TestGrantProducesVerifiableCapability(t *testing.T) {
	m, clock := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Unix(), c.IssuedAt)
	assert.Equal(t, clock.now.Add(time.Hour).Unix(), c.ExpiresAt)
	assert.NoError(t, m.Verify(c, "tool:weather/method:get", nil))
}

func TestHappyPathAuthorize(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	result := m.Authorize(c, "weather", "get")
	assert.True(t, result.Allowed)
	assert.Equal(t, c.ID, result.CapabilityID)
}

func TestExpiredCapabilityDenied(t *testing.T) {
	m, clock := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	clock.now = clock.now.Add(2 * time.Hour)
	result := m.Authorize(c, "weather", "get")
	assert.False(t, result.Allowed)
	assert.Equal(t, talerrors.DenialExpired, result.Reason)
}

func TestRevokedCapabilityDenied(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(c.ID, "test"))
	result := m.Authorize(c, "weather", "get")
	assert.False(t, result.Allowed)
	assert.Equal(t, talerrors.DenialRevoked, result.Reason)
}

func TestRevokeIsIdempotentAndPreservesRevokedAt(t *testing.T) {
	m, clock := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(c.ID, "first"))
	first := m.revocations[c.ID]
	clock.now = clock.now.Add(time.Minute)
	require.NoError(t, m.Revoke(c.ID, "second"))
	second := m.revocations[c.ID]
	assert.Equal(t, first.RevokedAt, second.RevokedAt)
	assert.Equal(t, "second", second.Reason)
}

func TestTamperedSignatureDenied(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	tampered := *c
	tampered.Signature = flipLastSignatureByte(t, tampered.Signature)
	result := m.Authorize(&tampered, "weather", "get")
	assert.False(t, result.Allowed)
	assert.Equal(t, talerrors.DenialInvalidSignature, result.Reason)
}

// flipLastSignatureByte flips a bit in the last decoded byte of a
// base64url signature. Editing the last base64 character instead is not
// enough: four of its six bits are padding that decoding ignores.
func flipLastSignatureByte(t *testing.T, s string) string {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	raw[len(raw)-1] ^= 0x01
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestNonCanonicalSignatureDenied(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	badSig := signBytes(m.identity.PrivateKey, []byte(`{"not":"canonical order"}`))
	tampered := *c
	tampered.Signature = badSig
	result := m.Authorize(&tampered, "weather", "get")
	assert.False(t, result.Allowed)
	assert.Equal(t, talerrors.DenialInvalidSignature, result.Reason)
}

func TestScopeMismatchDenied(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	result := m.Authorize(c, "billing", "charge")
	assert.False(t, result.Allowed)
	assert.Equal(t, talerrors.DenialScopeMismatch, result.Reason)
}

func TestExactlyAtExpiryBoundary(t *testing.T) {
	m, clock := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, m.CacheSession("sess-1", c))

	clock.now = time.Unix(c.ExpiresAt, 0).UTC()
	r1 := m.AuthorizeFast("sess-1", "weather", "get", nil)
	assert.True(t, r1.Allowed)

	clock.now = time.Unix(c.ExpiresAt+1, 0).UTC()
	r2 := m.AuthorizeFast("sess-1", "weather", "get", nil)
	assert.False(t, r2.Allowed)
	assert.Equal(t, talerrors.DenialExpired, r2.Reason)
}

func TestCacheSessionThenAuthorizeFastAllowed(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:*", nil, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, m.CacheSession("sess-2", c))
	result := m.AuthorizeFast("sess-2", "weather", "get", nil)
	assert.True(t, result.Allowed)
	assert.True(t, result.Cached)
}

func TestAuthorizeFastCacheMiss(t *testing.T) {
	m, _ := newTestManager(t)
	result := m.AuthorizeFast("unknown-session", "weather", "get", nil)
	assert.False(t, result.Allowed)
	assert.False(t, result.Cached)
}

func TestRevocationPropagatesToFastPath(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, m.CacheSession("sess-3", c))
	require.NoError(t, m.Revoke(c.ID, "compromised"))
	result := m.AuthorizeFast("sess-3", "weather", "get", nil)
	assert.False(t, result.Allowed)
	assert.Equal(t, talerrors.DenialRevoked, result.Reason)
	assert.True(t, result.Cached)
}

func TestDoubleRevokeUpdatesReasonWithoutResettingRevokedAt(t *testing.T) {
	m, clock := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(c.ID, "first reason"))
	firstRevokedAt := m.revocations[c.ID].RevokedAt

	clock.now = clock.now.Add(time.Minute)
	require.NoError(t, m.Revoke(c.ID, "second reason"))

	entry := m.revocations[c.ID]
	assert.Equal(t, "second reason", entry.Reason)
	assert.Equal(t, firstRevokedAt, entry.RevokedAt)
}

func TestInvalidateSession(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:weather/method:get", nil, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, m.CacheSession("sess-4", c))
	assert.True(t, m.InvalidateSession("sess-4"))
	assert.False(t, m.InvalidateSession("sess-4"))
	result := m.AuthorizeFast("sess-4", "weather", "get", nil)
	assert.False(t, result.Allowed)
}

func TestDelegationNarrowsScopeAndExpiry(t *testing.T) {
	m, clock := newTestManager(t)
	parent, err := m.Grant("did:talos:mid", "tool:weather/method:*", nil, 2*time.Hour, true)
	require.NoError(t, err)

	child, err := m.Delegate(parent, "did:talos:leaf", "tool:weather/method:get", nil, durationPtr(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "tool:weather/method:get", child.Scope)
	assert.Equal(t, parent.ExpiresAt, child.ExpiresAt) // min(now+3h, parent.exp) == parent.exp
	assert.False(t, child.Delegatable)
	assert.Equal(t, []string{parent.ID}, child.DelegationChain)
	assert.NoError(t, m.Verify(child, "tool:weather/method:get", nil))
	_ = clock
}

func TestDelegationRejectsNonDelegatableParent(t *testing.T) {
	m, _ := newTestManager(t)
	parent, err := m.Grant("did:talos:mid", "tool:weather/method:*", nil, time.Hour, false)
	require.NoError(t, err)
	_, err = m.Delegate(parent, "did:talos:leaf", "", nil, nil)
	assert.Error(t, err)
}

func TestDelegationRejectsScopeWidening(t *testing.T) {
	m, _ := newTestManager(t)
	parent, err := m.Grant("did:talos:mid", "tool:weather/method:get", nil, time.Hour, true)
	require.NoError(t, err)
	_, err = m.Delegate(parent, "did:talos:leaf", "tool:weather", nil, nil)
	assert.Error(t, err)
}

func TestDelegationAtMaxDepthFails(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:s0", "tool:weather/method:*", nil, time.Hour, true)
	require.NoError(t, err)
	for i := 0; i < MaxDelegationDepth; i++ {
		c, err = m.Delegate(c, "did:talos:sN", "", nil, nil)
		require.NoError(t, err)
		c.Delegatable = true
		require.NoError(t, m.sign(c))
	}
	assert.Equal(t, MaxDelegationDepth, len(c.DelegationChain))
	_, err = m.Delegate(c, "did:talos:too-deep", "", nil, nil)
	assert.Error(t, err)
}

func TestDelegationConstraintsAreAdditionsOnly(t *testing.T) {
	m, _ := newTestManager(t)
	parent, err := m.Grant("did:talos:mid", "tool:fs/method:read", Constraints{
		"paths": []string{"/data/**"},
	}, time.Hour, true)
	require.NoError(t, err)

	_, err = m.Delegate(parent, "did:talos:leaf", "", Constraints{"paths": []string{"/other/**"}}, nil)
	assert.Error(t, err, "widening paths beyond parent's set must fail")

	child, err := m.Delegate(parent, "did:talos:leaf", "", Constraints{"allowed_tools": []string{"fs"}}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/data/**"}, child.Constraints.Paths())
	assert.ElementsMatch(t, []string{"fs"}, child.Constraints.AllowedTools())
}

func TestConstraintPathGlobEnforced(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Grant("did:talos:recipient", "tool:fs/method:read", Constraints{
		"paths": []string{"/data/*.json"},
	}, time.Hour, false)
	require.NoError(t, err)

	require.NoError(t, m.Verify(c, "tool:fs/method:read", map[string]any{"path": "/data/a.json"}))
	assert.Error(t, m.Verify(c, "tool:fs/method:read", map[string]any{"path": "/etc/passwd"}))
}

func durationPtr(d time.Duration) *time.Duration { return &d }
