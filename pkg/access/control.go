package access

import (
	"github.com/ockam-go/securechannel/pkg/identity"
	"github.com/ockam-go/securechannel/pkg/router"
)

// IdentityAccessControl passes a message iff it carries a
// SecureChannelLocalInfo attached by a secure channel Decryptor whose
// verified identifier equals Expected. A message with no such local
// info — i.e. one that did not cross an authenticated channel boundary
// — is denied (spec section 4.8).
type IdentityAccessControl struct {
	Expected identity.Identifier
}

// NewIdentityAccessControl builds a predicate that only admits
// messages whose secure channel peer identifier equals expected.
func NewIdentityAccessControl(expected identity.Identifier) IdentityAccessControl {
	return IdentityAccessControl{Expected: expected}
}

// IsAuthorized implements router.AccessControl.
func (a IdentityAccessControl) IsAuthorized(msg *router.Message) bool {
	info, ok := router.LocalInfoOf[identity.SecureChannelLocalInfo](msg)
	if !ok {
		return false
	}
	return info.TheirIdentifier.Equal(a.Expected)
}

// SessionOutgoingAccessControl passes an outbound message iff its next
// hop address is registered in Sessions under the same session id (or
// a matching spawner id) as the sending worker.
type SessionOutgoingAccessControl struct {
	sessions *Sessions
	self     SessionId
}

// NewSessionOutgoingAccessControl builds a predicate tied to the
// sending worker's own session id.
func NewSessionOutgoingAccessControl(sessions *Sessions, self SessionId) SessionOutgoingAccessControl {
	return SessionOutgoingAccessControl{sessions: sessions, self: self}
}

// IsAuthorized implements router.AccessControl. It is evaluated on the
// outbound side, so it inspects the message's next onward hop rather
// than its arrival route.
func (a SessionOutgoingAccessControl) IsAuthorized(msg *router.Message) bool {
	next := msg.Onward.Next()
	if next == "" {
		return false
	}
	return a.sessions.Matches(next, a.self)
}

var (
	_ router.AccessControl = IdentityAccessControl{}
	_ router.AccessControl = SessionOutgoingAccessControl{}
)
