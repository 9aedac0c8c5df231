package capability

import (
	"crypto/ed25519"
	"sync"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// KeyResolver resolves an identity's DID to its current Ed25519
// verification key. Capabilities name their issuer by DID only; resolving
// that to bytes is an external collaborator concern (a directory, a
// store-backed registry, or — in the reference implementation — a static
// in-memory map) that the manager depends on as an interface.
type KeyResolver interface {
	ResolvePublicKey(did string) (ed25519.PublicKey, error)
}

// StaticResolver is an in-memory KeyResolver, sufficient for a single
// process hosting one or more CapabilityManagers that all need to resolve
// each other's issuer keys (e.g. cross-tenant delegation).
type StaticResolver struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{keys: make(map[string]ed25519.PublicKey)}
}

// Register associates did with pub, overwriting any prior registration.
func (r *StaticResolver) Register(did string, pub ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[did] = pub
}

// ResolvePublicKey implements KeyResolver.
func (r *StaticResolver) ResolvePublicKey(did string) (ed25519.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.keys[did]
	if !ok {
		return nil, talerrors.NewError(talerrors.ErrNotFound, "no public key registered for "+did, nil)
	}
	return pub, nil
}
