// Package access implements the Sessions registry and the
// access-control predicates of spec section 4.8: a process-wide
// mapping from endpoint addresses to session tags, and the predicate
// contract workers are constructed with to gate inbound/outbound
// message delivery.
package access

import (
	"sync"

	"github.com/google/uuid"
	"github.com/ockam-go/securechannel/pkg/errkind"
	"github.com/ockam-go/securechannel/pkg/router"
)

// SessionId is an opaque, process-local tag associating endpoint
// addresses produced by a common authenticated source.
type SessionId string

// NewSessionId allocates a fresh, random session id.
func NewSessionId() SessionId {
	return SessionId(uuid.NewString())
}

// sessionEntry is what Sessions stores per address.
type sessionEntry struct {
	id      SessionId
	spawner SessionId
	hasSpawner bool
}

// Sessions is the process-wide address -> session tag registry
// described in spec section 4.8. Writes are rare (a producer or
// spawner registering a new address); reads happen on every message
// a SessionOutgoingAccessControl evaluates, so the table is guarded by
// an RWMutex rather than a single exclusive lock.
type Sessions struct {
	mu      sync.RWMutex
	entries map[router.Address]sessionEntry
}

// NewSessions creates an empty Sessions registry.
func NewSessions() *Sessions {
	return &Sessions{entries: make(map[router.Address]sessionEntry)}
}

// Register tags addr with id, with no spawner.
func (s *Sessions) Register(addr router.Address, id SessionId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[addr] = sessionEntry{id: id}
}

// RegisterSpawned tags addr with a fresh session id whose spawner is
// spawnerID — used by a listener-like worker that spawns a fresh
// producer per accepted peer and wants the spawned producer's outbound
// sends to be recognized as belonging to the same authenticated
// lineage as the spawner.
func (s *Sessions) RegisterSpawned(addr router.Address, spawnerID SessionId) SessionId {
	id := NewSessionId()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[addr] = sessionEntry{id: id, spawner: spawnerID, hasSpawner: true}
	return id
}

// Unregister removes addr's session tag, e.g. on worker teardown.
func (s *Sessions) Unregister(addr router.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, addr)
}

// Lookup returns the session tag for addr.
func (s *Sessions) Lookup(addr router.Address) (id SessionId, spawner SessionId, hasSpawner, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.entries[addr]
	if !found {
		return "", "", false, false
	}
	return e.id, e.spawner, e.hasSpawner, true
}

// Matches reports whether addr is registered under id, either directly
// or as a spawned descendant of id.
func (s *Sessions) Matches(addr router.Address, id SessionId) bool {
	entryID, spawner, hasSpawner, ok := s.Lookup(addr)
	if !ok {
		return false
	}
	if entryID == id {
		return true
	}
	return hasSpawner && spawner == id
}

// errSessionInconsistency is raised when a caller tries to register a
// spawned session under a spawner address that itself is not registered —
// surfaced synchronously per spec section 7.
var errSessionInconsistency = errkind.ErrSessionInconsistency

// RegisterSpawnedStrict behaves like RegisterSpawned but takes the
// spawner's address: it first validates that spawnerAddr is itself a
// registered session, returning errkind.ErrSessionInconsistency
// otherwise, and uses that address's session id as the spawner id. Listener-style
// callers that must not silently create orphaned session lineages
// should prefer this over RegisterSpawned.
func (s *Sessions) RegisterSpawnedStrict(addr router.Address, spawnerAddr router.Address) (SessionId, error) {
	spawnerID, _, _, ok := s.Lookup(spawnerAddr)
	if !ok {
		return "", errSessionInconsistency
	}
	return s.RegisterSpawned(addr, spawnerID), nil
}
