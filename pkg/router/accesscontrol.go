package router

// AccessControl is a predicate evaluated per message delivery: once on
// the incoming side before a worker's HandleMessage runs, and once on
// the outgoing side before a Send leaves a worker. Denied messages are
// dropped silently — observability of drops is an external concern.
type AccessControl interface {
	IsAuthorized(msg *Message) bool
}

// AllowAll accepts every message unconditionally.
type AllowAll struct{}

// IsAuthorized always returns true.
func (AllowAll) IsAuthorized(*Message) bool { return true }

// DenyAll rejects every message unconditionally.
type DenyAll struct{}

// IsAuthorized always returns false.
func (DenyAll) IsAuthorized(*Message) bool { return false }
