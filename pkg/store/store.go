// Package store defines the persistent capability store collaborator:
// a key->blob store over capability_id, with secondary indices by subject
// and scope prefix, maintained on write. Durable storage is out of scope
// for this module (spec: "persistent storage for capabilities... external
// collaborator, interface only") — CapabilityStore is the seam a host
// application implements against a real database; InMemoryStore is the
// reference implementation used by tests and single-process deployments.
package store

import (
	"strings"
	"sync"

	"github.com/stacklok/talos/pkg/capability"
	talerrors "github.com/stacklok/talos/pkg/errors"
)

// CapabilityStore persists capabilities and revocation entries, keyed by
// capability_id, with reverse indices for lookup by subject and by scope
// prefix.
type CapabilityStore interface {
	Put(c *capability.Capability) error
	Get(capabilityID string) (*capability.Capability, error)
	Delete(capabilityID string) error
	BySubject(subject string) ([]*capability.Capability, error)
	ByScopePrefix(prefix string) ([]*capability.Capability, error)

	PutRevocation(entry capability.RevocationEntry) error
	GetRevocation(capabilityID string) (capability.RevocationEntry, bool, error)
}

// InMemoryStore is a CapabilityStore backed by maps, guarded by a single
// mutex. The subject index is updated incrementally on Put/Delete; there is
// no scope index, so ByScopePrefix scans every capability on read.
type InMemoryStore struct {
	mu          sync.RWMutex
	byID        map[string]*capability.Capability
	bySubject   map[string]map[string]struct{}
	revocations map[string]capability.RevocationEntry
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:        make(map[string]*capability.Capability),
		bySubject:   make(map[string]map[string]struct{}),
		revocations: make(map[string]capability.RevocationEntry),
	}
}

// Put implements CapabilityStore.
func (s *InMemoryStore) Put(c *capability.Capability) error {
	if c == nil || c.ID == "" {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "capability missing id", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = c
	if s.bySubject[c.Subject] == nil {
		s.bySubject[c.Subject] = make(map[string]struct{})
	}
	s.bySubject[c.Subject][c.ID] = struct{}{}
	return nil
}

// Get implements CapabilityStore.
func (s *InMemoryStore) Get(capabilityID string) (*capability.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[capabilityID]
	if !ok {
		return nil, talerrors.NewError(talerrors.ErrNotFound, "capability not found: "+capabilityID, nil)
	}
	return c, nil
}

// Delete implements CapabilityStore.
func (s *InMemoryStore) Delete(capabilityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[capabilityID]
	if !ok {
		return nil
	}
	delete(s.byID, capabilityID)
	if idx := s.bySubject[c.Subject]; idx != nil {
		delete(idx, capabilityID)
	}
	return nil
}

// BySubject implements CapabilityStore.
func (s *InMemoryStore) BySubject(subject string) ([]*capability.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySubject[subject]
	out := make([]*capability.Capability, 0, len(ids))
	for id := range ids {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// ByScopePrefix implements CapabilityStore. The in-memory reference scans
// every capability; a persistent implementation would maintain a real
// scope_prefix -> [capability_id] index maintained on write.
func (s *InMemoryStore) ByScopePrefix(prefix string) ([]*capability.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*capability.Capability
	for _, c := range s.byID {
		if strings.HasPrefix(c.Scope, prefix) {
			out = append(out, c)
		}
	}
	return out, nil
}

// PutRevocation implements CapabilityStore.
func (s *InMemoryStore) PutRevocation(entry capability.RevocationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revocations[entry.CapabilityID] = entry
	return nil
}

// GetRevocation implements CapabilityStore.
func (s *InMemoryStore) GetRevocation(capabilityID string) (capability.RevocationEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.revocations[capabilityID]
	return entry, ok, nil
}
