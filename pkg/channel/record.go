// Package channel implements the secure channel core: the XX-style
// handshake state machine, the per-channel Encryptor/Decryptor worker
// pair with replay-resistant nonce discipline, the channel registry,
// and the Listener/Initiator glue that drives handshakes to
// completion. It is grounded on the teacher's pkg/securechannel (the
// Matter CASE/PASE handshake managers) and pkg/session (the
// session-context table with its ref-counted key handles), adapted
// from Matter's certificate-chain authentication to the spec's
// signed-transcript XX handshake over an Ed25519/X25519 vault.
package channel

import (
	"math"
	"sync"

	"github.com/ockam-go/securechannel/pkg/identity"
	"github.com/ockam-go/securechannel/pkg/router"
	"github.com/ockam-go/securechannel/pkg/vault"
)

// Role identifies which side of the handshake a channel record
// represents.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// String implements fmt.Stringer.
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is the lifecycle of a channel record (spec section 3).
type State int

const (
	StateHandshaking State = iota
	StateEstablished
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DirectionalKeys holds one direction's AEAD key handle plus its
// strictly-monotonic nonce counter. SendCounter is the next counter
// value to use (post-increment semantics); RecvHighWater is the
// highest counter value accepted so far, or -1 if none yet.
type DirectionalKeys struct {
	Key           vault.Handle
	SendCounter   uint64
	RecvHighWater int64

	mu sync.Mutex
}

// NextSendCounter atomically returns the next nonce counter to use and
// advances it, or reports overflow.
func (d *DirectionalKeys) NextSendCounter() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendCounter == ^uint64(0) {
		return 0, false
	}
	n := d.SendCounter
	d.SendCounter++
	return n, true
}

// AcceptRecvCounter reports whether counter is strictly greater than
// the highest previously accepted value, and if so records it. A
// channel's RecvHighWater starts at -1 so the first accepted frame,
// counter 0, always passes. Counters above math.MaxInt64, which
// RecvHighWater cannot hold, are rejected.
func (d *DirectionalKeys) AcceptRecvCounter(counter uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if counter > math.MaxInt64 {
		return false
	}
	if d.RecvHighWater >= 0 && counter <= uint64(d.RecvHighWater) {
		return false
	}
	d.RecvHighWater = int64(counter)
	return true
}

// Record is one direction's view of an established (or handshaking)
// secure channel — spec section 3's ChannelRecord. It is stored in the
// registry only upon transition to Established.
type Record struct {
	EncryptorAddress    router.Address
	DecryptorAddress    router.Address
	EncryptorAPIAddress router.Address
	DecryptorAPIAddress router.Address

	Role Role

	MyIdentifier    identity.Identifier
	TheirIdentifier identity.Identifier

	// SendKeys/RecvKeys are this side's directional key material: the
	// key this side uses to seal outbound frames, and the key it uses
	// to open inbound frames.
	SendKeys *DirectionalKeys
	RecvKeys *DirectionalKeys

	mu    sync.RWMutex
	state State
}

// State returns the record's current lifecycle state.
func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// SetState transitions the record's lifecycle state.
func (r *Record) SetState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// IsInitiator reports whether this record was established as the
// initiating side.
func (r *Record) IsInitiator() bool { return r.Role == RoleInitiator }
