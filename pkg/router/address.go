// Package router implements the in-process, message-passing actor
// runtime the rest of the secure channel subsystem is layered over:
// addresses, routes, mailboxes, workers and a cooperative scheduler.
// It plays the role the spec calls "the routed transport" — a
// generic byte-stream transport is assumed by the spec and is out of
// scope; this package is the in-process substrate that routing,
// handshakes and steady-state frames are built on top of.
package router

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Address is an opaque endpoint name, unique within one Router.
type Address string

// String returns the address as a plain string.
func (a Address) String() string { return string(a) }

var addrSeq uint64

// NewAddress allocates a fresh, collision-free address with the given
// human-readable prefix (e.g. "encryptor", "decryptor", "listener").
// Addresses combine a monotonic sequence number with a random UUID
// suffix so that addresses remain unique even across process restarts
// within the same test run.
func NewAddress(prefix string) Address {
	n := atomic.AddUint64(&addrSeq, 1)
	return Address(fmt.Sprintf("%s_%d_%s", prefix, n, uuid.NewString()[:8]))
}
