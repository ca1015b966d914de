// Package errkind defines the error taxonomy shared across the secure
// channel subsystem. Components wrap one of these sentinels with
// fmt.Errorf("...: %w", ...) so callers can errors.Is against a stable
// kind while still getting a human-readable message.
package errkind

import "errors"

// Sentinel error kinds. See spec section 7 for the propagation rules:
// handshake errors are fatal and returned to the initiator's caller;
// steady-state decrypt failures are logged and the frame dropped;
// access denial drops the message silently; SessionInconsistency
// surfaces synchronously at construction.
var (
	// ErrHandshakeFailed covers protocol violations during the XX
	// handshake: malformed messages, unexpected message types, bad
	// transcript state.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrAuthenticationFailed covers AEAD tag verification failures
	// and signature verification failures over the handshake transcript.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTrustRejected is returned when a verified peer identifier is
	// rejected by the trust policy.
	ErrTrustRejected = errors.New("trust policy rejected peer identifier")

	// ErrPeerUnreachable is returned when a handshake message cannot be
	// routed to its destination (e.g. no listener at that address).
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrTimeout is returned when a handshake message fails to arrive
	// within its deadline.
	ErrTimeout = errors.New("handshake timed out")

	// ErrReplayedOrOutOfOrder is returned when a decryptor receives a
	// nonce counter that is not strictly greater than the last accepted
	// value.
	ErrReplayedOrOutOfOrder = errors.New("replayed or out-of-order ciphertext")

	// ErrKeyExhausted is returned when an encryptor's sending nonce
	// counter would overflow.
	ErrKeyExhausted = errors.New("nonce space exhausted")

	// ErrSessionInconsistency is returned synchronously at construction
	// time when a listener or channel is configured with contradictory
	// session options.
	ErrSessionInconsistency = errors.New("inconsistent session configuration")

	// ErrAccessDenied is the kind for a delivery an access-control
	// predicate blocked. The router does not return it: routed messages
	// a predicate denies are dropped silently.
	ErrAccessDenied = errors.New("access denied")

	// ErrVaultError wraps any failure from the cryptographic vault
	// (key generation, signing, AEAD, key agreement, KDF, hashing).
	ErrVaultError = errors.New("vault error")

	// ErrSessionTableFull is returned when a registry has reached its
	// configured capacity bound.
	ErrSessionTableFull = errors.New("session table full")

	// ErrChannelClosed is returned when an operation is attempted
	// against a channel that has already transitioned to closing or
	// closed.
	ErrChannelClosed = errors.New("channel closed")
)

// Is reports whether err wraps kind, a thin wrapper over errors.Is for
// readability at call sites that check against this package's
// sentinels.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
