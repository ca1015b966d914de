package channel

import (
	"sync"

	"github.com/ockam-go/securechannel/pkg/router"
)

// Registry is one Identity's encryptor-address -> Record mapping of
// spec section 3 ("Channel Registry"). It is written only at handshake
// completion and channel teardown, so it is guarded by an RWMutex
// rather than a channel-owned goroutine, matching the read-mostly
// shape of access.Sessions.
type Registry struct {
	mu      sync.RWMutex
	byEnc   map[router.Address]*Record
	byDec   map[router.Address]*Record
	maxSize int
}

// DefaultMaxEntries bounds the registry's resident channel count,
// resolving the spec's Open Question about unbounded table growth
// under a hostile or buggy peer that keeps opening channels (see
// DESIGN.md).
const DefaultMaxEntries = 4096

// NewRegistry creates an empty registry capped at maxEntries records.
// A maxEntries of 0 selects DefaultMaxEntries.
func NewRegistry(maxEntries int) *Registry {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Registry{
		byEnc:   make(map[router.Address]*Record),
		byDec:   make(map[router.Address]*Record),
		maxSize: maxEntries,
	}
}

// Insert adds rec, keyed by both its encryptor and decryptor
// addresses. It reports false, inserting nothing, if the registry is
// already at capacity.
func (r *Registry) Insert(rec *Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byEnc) >= r.maxSize {
		return false
	}
	r.byEnc[rec.EncryptorAddress] = rec
	r.byDec[rec.DecryptorAddress] = rec
	return true
}

// Remove drops rec from the registry.
func (r *Registry) Remove(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byEnc, rec.EncryptorAddress)
	delete(r.byDec, rec.DecryptorAddress)
}

// ByEncryptorAddress looks up the record whose Encryptor lives at
// addr.
func (r *Registry) ByEncryptorAddress(addr router.Address) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byEnc[addr]
	return rec, ok
}

// ByDecryptorAddress looks up the record whose Decryptor lives at
// addr.
func (r *Registry) ByDecryptorAddress(addr router.Address) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byDec[addr]
	return rec, ok
}

// Len reports the number of resident channel records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEnc)
}

// Snapshot returns every resident record, for diagnostics and shutdown
// sweeps.
func (r *Registry) Snapshot() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.byEnc))
	for _, rec := range r.byEnc {
		out = append(out, rec)
	}
	return out
}
