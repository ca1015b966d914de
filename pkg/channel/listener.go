package channel

import (
	"time"

	"github.com/ockam-go/securechannel/pkg/identity"
	"github.com/ockam-go/securechannel/pkg/router"
)

// Listener is the worker spawned by Identity.CreateSecureChannelListener
// (spec section 4.2/4.3). Every handshake message 1 it receives spawns
// a fresh, per-handshake detached context so concurrent handshakes
// never share a mailbox, runs the responder side of the handshake to
// completion, and — on success — installs the resulting channel.
type Listener struct {
	id     *Identity
	policy identity.TrustPolicy
}

// NewListener builds a Listener that authenticates incoming handshakes
// against policy.
func NewListener(id *Identity, policy identity.TrustPolicy) *Listener {
	return &Listener{id: id, policy: policy}
}

// HandshakeTimeout bounds how long a responder waits for message 3
// after sending message 2, and how long an initiator waits for message
// 2 after sending message 1 (spec section 6: "on the order of
// seconds").
const HandshakeTimeout = 10 * time.Second

// HandleMessage implements router.Worker. If the owning Identity
// tracks sessions, the per-handshake responder address is registered
// as a spawned descendant of this Listener's own session (spec
// section 4.8) before the handshake runs, so the channel addresses
// install eventually creates inherit a lineage traceable back to this
// listener.
func (l *Listener) HandleMessage(ctx *router.Context, msg *router.Message) error {
	respAddr := router.NewAddress("responder")
	respCtx := ctx.Router().NewDetached(respAddr, router.AllowAll{}, router.AllowAll{})
	if l.id.sessions != nil {
		l.id.sessions.RegisterSpawnedStrict(respAddr, ctx.Address())
	}
	msg1Bytes := msg.Payload
	peerReplyRoute := msg.Return
	go l.id.runResponder(respCtx, l.policy, peerReplyRoute, msg1Bytes)
	return nil
}

var _ router.Worker = (*Listener)(nil)
