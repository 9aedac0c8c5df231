package capability

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/talos/pkg/identity"

	"github.com/gobwas/glob"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// Manager owns the capability lifecycle for a single issuing identity:
// grant, verify, delegate, revoke, and the session-cached fast
// authorization path. One Manager is created per tenant by the gateway.
type Manager struct {
	identity *identity.KeyPair
	resolver KeyResolver
	clock    Clock
	idGen    func() string

	mu            sync.RWMutex
	issued        map[string]*Capability
	bySubject     map[string][]string
	revocations   map[string]RevocationEntry
	revokedHashes map[[32]byte]struct{}

	cache *sessionCache
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithClock overrides the wall clock used for issued_at/expires_at
// comparisons. Tests use this to pin exact boundary instants.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithIDGenerator overrides capability ID generation. Defaults to
// uuid.NewString.
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.idGen = f }
}

// WithSessionCacheLimits overrides SessionCacheMax/SessionCacheEvictN.
func WithSessionCacheLimits(capacity, evictN int) Option {
	return func(m *Manager) { m.cache = newSessionCache(capacity, evictN) }
}

// NewManager creates a Manager that signs with id and resolves other
// issuers' keys (for verifying capabilities it did not itself grant)
// through resolver. id's own key is registered with resolver automatically
// if resolver is a *StaticResolver.
func NewManager(id *identity.KeyPair, resolver KeyResolver, opts ...Option) *Manager {
	if sr, ok := resolver.(*StaticResolver); ok {
		sr.Register(id.DID, id.PublicKey)
	}
	m := &Manager{
		identity:      id,
		resolver:      resolver,
		clock:         SystemClock{},
		idGen:         uuid.NewString,
		issued:        make(map[string]*Capability),
		bySubject:     make(map[string][]string),
		revocations:   make(map[string]RevocationEntry),
		revokedHashes: make(map[[32]byte]struct{}),
		cache:         newSessionCache(SessionCacheMax, SessionCacheEvictN),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Grant issues a fresh, directly-granted capability signed by the
// manager's identity.
func (m *Manager) Grant(subject, scope string, constraints Constraints, expiresIn time.Duration, delegatable bool) (*Capability, error) {
	now := m.clock.Now()
	c := &Capability{
		ID:          m.idGen(),
		Version:     Version,
		Issuer:      m.identity.DID,
		Subject:     subject,
		Scope:       scope,
		Constraints: constraints,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(expiresIn).Unix(),
		Delegatable: delegatable,
	}
	if err := m.sign(c); err != nil {
		return nil, err
	}
	m.index(c)
	return c, nil
}

// sign computes c's signable bytes and attaches the manager identity's
// Ed25519 signature.
func (m *Manager) sign(c *Capability) error {
	bytes, err := c.signableBytes()
	if err != nil {
		return err
	}
	c.Signature = signBytes(m.identity.PrivateKey, bytes)
	return nil
}

func (m *Manager) index(c *Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued[c.ID] = c
	m.bySubject[c.Subject] = append(m.bySubject[c.Subject], c.ID)
}

// ListBySubject returns the IDs of capabilities issued to subject by this
// manager.
func (m *Manager) ListBySubject(subject string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.bySubject[subject]))
	copy(out, m.bySubject[subject])
	return out
}

// ListRevoked returns every RevocationEntry recorded by this manager.
func (m *Manager) ListRevoked() []RevocationEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RevocationEntry, 0, len(m.revocations))
	for _, r := range m.revocations {
		out = append(out, r)
	}
	return out
}

// VerifyOptions tunes Verify's behavior for cases left as an explicit
// policy choice.
type VerifyOptions struct {
	// CheckDelegationChainRevocation re-verifies that no ancestor in the
	// capability's delegation_chain has been revoked, not just the leaf.
	CheckDelegationChainRevocation bool
}

// Verify checks issued_at/expires_at/revocation/signature, and optionally
// scope and constraint satisfaction against params.
func (m *Manager) Verify(c *Capability, requestedScope string, params map[string]any) error {
	return m.verify(c, requestedScope, params, VerifyOptions{})
}

// VerifyWithOptions is Verify with explicit VerifyOptions.
func (m *Manager) VerifyWithOptions(c *Capability, requestedScope string, params map[string]any, opts VerifyOptions) error {
	return m.verify(c, requestedScope, params, opts)
}

func (m *Manager) verify(c *Capability, requestedScope string, params map[string]any, opts VerifyOptions) error {
	if c == nil {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "no capability", nil)
	}
	now := m.clock.Now().Unix()
	skew := int64(ClockSkew)

	if c.IssuedAt > now+skew {
		return talerrors.NewError(talerrors.ErrInvalidSignature, "future-dated capability", nil)
	}
	if now > c.ExpiresAt {
		return talerrors.NewError(talerrors.ErrExpired, "capability expired", nil)
	}
	if m.isRevoked(c.ID) {
		reason := m.revocationReason(c.ID)
		return talerrors.NewError(talerrors.ErrRevoked, reason, nil)
	}
	pub, err := m.resolver.ResolvePublicKey(c.Issuer)
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
	if opts.CheckDelegationChainRevocation {
		for _, ancestorID := range c.DelegationChain {
			if m.isRevoked(ancestorID) {
				return talerrors.NewError(talerrors.ErrRevoked, "ancestor capability "+ancestorID+" revoked", nil)
			}
		}
	}
	if requestedScope != "" && !isScopePrefix(c.Scope, requestedScope) {
		return talerrors.NewError(talerrors.ErrPermissionDenied, "scope violation", nil)
	}
	if params != nil {
		if err := checkConstraints(c.Constraints, params); err != nil {
			return err
		}
	}
	return nil
}

// checkConstraints applies the recognized-key constraint rules against
// params. Unrecognized keys are ignored.
func checkConstraints(c Constraints, params map[string]any) error {
	if paths := c.Paths(); len(paths) > 0 {
		path, _ := params["path"].(string)
		if !matchesAnyGlob(paths, path) {
			return talerrors.NewError(talerrors.ErrPermissionDenied, "path not in allowed constraint set", nil)
		}
	}
	if tools := c.AllowedTools(); len(tools) > 0 {
		name, _ := params["name"].(string)
		if !contains(tools, name) {
			return talerrors.NewError(talerrors.ErrPermissionDenied, "tool not in allowed_tools constraint", nil)
		}
	}
	return nil
}

func matchesAnyGlob(patterns []string, path string) bool {
	if path == "" {
		return false
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		if g.Match(path) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (m *Manager) isRevoked(capabilityID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revocations[capabilityID]
	return ok
}

func (m *Manager) revocationReason(capabilityID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revocations[capabilityID].Reason
}

// Delegate mints a narrower capability from parent, issued by this
// manager's identity to newSubject.
func (m *Manager) Delegate(parent *Capability, newSubject string, narrowedScope string, narrowedConstraints Constraints, expiresIn *time.Duration) (*Capability, error) {
	if err := m.Verify(parent, "", nil); err != nil {
		return nil, err
	}
	if !parent.Delegatable {
		return nil, talerrors.NewError(talerrors.ErrPermissionDenied, "parent capability is not delegatable", nil)
	}
	if len(parent.DelegationChain) >= MaxDelegationDepth {
		return nil, talerrors.NewError(talerrors.ErrPermissionDenied, "delegation depth exceeded", nil)
	}

	scope := parent.Scope
	if narrowedScope != "" {
		if !isScopePrefix(parent.Scope, narrowedScope) {
			return nil, talerrors.NewError(talerrors.ErrPermissionDenied, "narrowed scope is not a prefix of parent scope", nil)
		}
		scope = narrowedScope
	}

	constraints, err := narrowConstraints(parent.Constraints, narrowedConstraints)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	expiry := parent.ExpiresAt
	if expiresIn != nil {
		candidate := now.Add(*expiresIn).Unix()
		if candidate < expiry {
			expiry = candidate
		}
	}

	chain := make([]string, len(parent.DelegationChain)+1)
	copy(chain, parent.DelegationChain)
	chain[len(chain)-1] = parent.ID

	c := &Capability{
		ID:              m.idGen(),
		Version:         Version,
		Issuer:          m.identity.DID,
		Subject:         newSubject,
		Scope:           scope,
		Constraints:     constraints,
		IssuedAt:        now.Unix(),
		ExpiresAt:       expiry,
		Delegatable:     false,
		DelegationChain: chain,
	}
	if err := m.sign(c); err != nil {
		return nil, err
	}
	m.index(c)
	return c, nil
}

// narrowConstraints overlays narrowed onto parent, enforcing
// additions-only semantics: a key absent from parent may be freely added;
// a key present in parent may only be replaced by a narrower or equal
// value (a subset list, or — for rate_limit — a count no higher than the
// parent's over the same period).
func narrowConstraints(parent, narrowed Constraints) (Constraints, error) {
	out := parent.Clone()
	if out == nil {
		out = make(Constraints)
	}
	for key, newVal := range narrowed {
		oldVal, existed := out[key]
		if !existed {
			out[key] = newVal
			continue
		}
		ok, err := isNarrowerOrEqual(key, oldVal, newVal)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, talerrors.NewError(talerrors.ErrPermissionDenied, fmt.Sprintf("delegated constraint %q widens parent restriction", key), nil)
		}
		out[key] = newVal
	}
	return out, nil
}

func isNarrowerOrEqual(key string, oldVal, newVal any) (bool, error) {
	switch key {
	case "paths", "allowed_tools":
		oldList := Constraints{key: oldVal}.stringSlice(key)
		newList := Constraints{key: newVal}.stringSlice(key)
		for _, v := range newList {
			if !contains(oldList, v) {
				return false, nil
			}
		}
		return true, nil
	case "rate_limit":
		oldStr, _ := oldVal.(string)
		newStr, _ := newVal.(string)
		oldN, oldPeriod, okOld := strings.Cut(oldStr, "/")
		newN, newPeriod, okNew := strings.Cut(newStr, "/")
		if !okOld || !okNew || oldPeriod != newPeriod {
			return false, nil
		}
		oldCount, errOld := strconv.Atoi(oldN)
		newCount, errNew := strconv.Atoi(newN)
		return errOld == nil && errNew == nil && newCount <= oldCount, nil
	default:
		// Unrecognized keys: accept (forward-compatible, not enforced).
		return true, nil
	}
}

// Revoke places capabilityID in the revocation table and, if this manager
// issued that capability, its canonical hash in the revocation-hash set
// used by the fast path. Idempotent: a
// second revoke may update Reason but never RevokedAt. A session with
// this capability cached is left in the cache: AuthorizeFast checks
// revokedHashes on every cache hit, so the revocation is picked up
// lazily on the entry's next use instead of evicting it up front.
func (m *Manager) Revoke(capabilityID, reason string) error {
	m.mu.Lock()
	issuedCap, ok := m.issued[capabilityID]
	if existing, already := m.revocations[capabilityID]; already {
		existing.Reason = reason
		m.revocations[capabilityID] = existing
		m.mu.Unlock()
		return nil
	}
	m.revocations[capabilityID] = RevocationEntry{
		CapabilityID: capabilityID,
		RevokedAt:    m.clock.Now().Unix(),
		Reason:       reason,
		RevokedBy:    m.identity.DID,
	}
	m.mu.Unlock()

	if ok {
		hash, err := issuedCap.CanonicalHash()
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.revokedHashes[hash] = struct{}{}
		m.mu.Unlock()
	}
	return nil
}

// Authorize is the canonical slow path.
func (m *Manager) Authorize(c *Capability, tool, method string) AuthorizationResult {
	start := time.Now()
	if tool == "" || method == "" {
		return denied(talerrors.DenialScopeMismatch, "empty tool or method", false, elapsedUs(start))
	}
	if c == nil {
		return denied(talerrors.DenialNoCapability, "no capability presented", false, elapsedUs(start))
	}
	scope := fmt.Sprintf("tool:%s/method:%s", tool, method)
	if err := m.Verify(c, scope, nil); err != nil {
		return denied(translateDenial(err), err.Error(), false, elapsedUs(start))
	}
	return allowed(c.ID, false, elapsedUs(start))
}

// translateDenial maps a verification error to the wire DenialReason.
func translateDenial(err error) talerrors.DenialReason {
	te, ok := err.(*talerrors.Error)
	if !ok {
		return talerrors.DenialInvalidSignature
	}
	switch te.Type {
	case talerrors.ErrExpired:
		return talerrors.DenialExpired
	case talerrors.ErrRevoked:
		return talerrors.DenialRevoked
	case talerrors.ErrPermissionDenied:
		return talerrors.DenialScopeMismatch
	default:
		return talerrors.DenialInvalidSignature
	}
}

// AuthorizeFast is the session-cached hot path, target p99 < 1ms.
func (m *Manager) AuthorizeFast(sessionID, tool, method string, params map[string]any) AuthorizationResult {
	start := time.Now()

	entry, ok := m.cache.get(sessionID)
	if !ok {
		return denied(talerrors.DenialNoCapability, "cache miss", false, elapsedUs(start))
	}

	now := m.clock.Now().Unix()
	entry.LastUsed = now
	if now > entry.ExpiresAt {
		m.cache.delete(sessionID)
		return denied(talerrors.DenialExpired, "cached capability expired", true, elapsedUs(start))
	}
	m.mu.RLock()
	_, revoked := m.revokedHashes[entry.CapabilityHash]
	m.mu.RUnlock()
	if revoked {
		return denied(talerrors.DenialRevoked, "cached capability revoked", true, elapsedUs(start))
	}

	requestedScope := fmt.Sprintf("tool:%s/method:%s", tool, method)
	if !isScopePrefix(entry.Scope, requestedScope) {
		return denied(talerrors.DenialScopeMismatch, "scope mismatch", true, elapsedUs(start))
	}
	if params != nil {
		if path, ok := params["path"].(string); ok {
			if paths := entry.Constraints.Paths(); len(paths) > 0 && !matchesAnyGlob(paths, path) {
				return denied(talerrors.DenialScopeMismatch, "path constraint mismatch", true, elapsedUs(start))
			}
		}
	}
	m.cache.update(sessionID, entry)
	return allowed(entry.CapabilityID, true, elapsedUs(start))
}

// CacheSession stores c's verified view under sessionID, for use by
// AuthorizeFast. Called by callers (typically the gateway) after a
// successful slow-path Authorize.
func (m *Manager) CacheSession(sessionID string, c *Capability) error {
	hash, err := c.CanonicalHash()
	if err != nil {
		return err
	}
	now := m.clock.Now().Unix()
	m.cache.put(sessionID, SessionCacheEntry{
		SessionID:      sessionID,
		CapabilityID:   c.ID,
		CapabilityHash: hash,
		Subject:        c.Subject,
		Scope:          c.Scope,
		Issuer:         c.Issuer,
		VerifiedAt:     now,
		ExpiresAt:      c.ExpiresAt,
		LastUsed:       now,
		Constraints:    c.Constraints,
	})
	return nil
}

// InvalidateSession removes sessionID's cached entry, reporting whether
// one existed.
func (m *Manager) InvalidateSession(sessionID string) bool {
	return m.cache.delete(sessionID)
}

// SessionCount returns the number of currently cached sessions.
func (m *Manager) SessionCount() int {
	return m.cache.len()
}

func elapsedUs(start time.Time) int64 {
	return time.Since(start).Microseconds()
}
