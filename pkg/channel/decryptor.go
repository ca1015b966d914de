package channel

import (
	"fmt"
	"sync/atomic"

	"github.com/ockam-go/securechannel/pkg/errkind"
	"github.com/ockam-go/securechannel/pkg/identity"
	"github.com/ockam-go/securechannel/pkg/router"
	"github.com/ockam-go/securechannel/pkg/vault"
)

// MaxConsecutiveAuthFailures bounds how many AEAD authentication
// failures a Decryptor tolerates in a row before it closes its channel
// outright, resolving the spec's Open Question about repeated
// authentication failure on an established channel (see DESIGN.md).
const MaxConsecutiveAuthFailures = 8

// Decryptor is the peer-facing worker that opens inbound steady-state
// frames for one established secure channel (spec section 4.5). It
// enforces the per-direction strictly-monotonic nonce discipline,
// attaches identity.SecureChannelLocalInfo to every delivered message,
// and prepends the paired Encryptor's address to the message's return
// route so a reply travels back out across the same channel.
type Decryptor struct {
	v                   vault.Vault
	record              *Record
	pairedEncryptorAddr router.Address
	consecutiveFailures int64
	onClose             func(reason error)
}

// NewDecryptor constructs a Decryptor bound to an established channel
// record. pairedEncryptorAddr is this channel's own Encryptor address
// (resolved against original_source/ockam_identity/tests/channel.rs,
// which asserts the return route's next hop is the peer's channel
// encryptor address rather than the decryptor's own — see DESIGN.md).
// onClose, if non-nil, is invoked once when the channel transitions to
// Closed, letting the owning Identity emit the unsolicited
// channel-close notification of spec section 7.
func NewDecryptor(v vault.Vault, record *Record, pairedEncryptorAddr router.Address, onClose func(reason error)) *Decryptor {
	return &Decryptor{v: v, record: record, pairedEncryptorAddr: pairedEncryptorAddr, onClose: onClose}
}

// Open decrypts one inbound wire frame, enforcing replay and
// circuit-breaking policy, and returns the tunneled onward route,
// return route and payload it carried. It is the synchronous API
// surface of spec section 4.6.
func (d *Decryptor) Open(frame []byte) (onward, ret router.Route, payload []byte, err error) {
	if d.record.State() != StateEstablished {
		return nil, nil, nil, fmt.Errorf("channel: decryptor %s: %w", d.record.DecryptorAddress, errkind.ErrChannelClosed)
	}
	counter, ciphertext, err := decodeFrame(frame)
	if err != nil {
		return nil, nil, nil, err
	}
	if !d.record.RecvKeys.AcceptRecvCounter(counter) {
		return nil, nil, nil, fmt.Errorf("channel: decryptor %s: frame counter %d: %w", d.record.DecryptorAddress, counter, errkind.ErrReplayedOrOutOfOrder)
	}
	plaintext, err := d.v.AEADOpen(d.record.RecvKeys.Key, frameNonce(counter), counterAAD(counter), ciphertext)
	if err != nil {
		d.recordFailure(err)
		return nil, nil, nil, fmt.Errorf("channel: opening frame: %w", err)
	}
	atomic.StoreInt64(&d.consecutiveFailures, 0)
	onward, ret, payload, err = decodeRoutedPayload(plaintext)
	if err != nil {
		return nil, nil, nil, err
	}
	return onward, ret, payload, nil
}

// recordFailure tracks a consecutive AEAD authentication failure and
// closes the channel once MaxConsecutiveAuthFailures is reached.
func (d *Decryptor) recordFailure(cause error) {
	n := atomic.AddInt64(&d.consecutiveFailures, 1)
	if n < MaxConsecutiveAuthFailures {
		return
	}
	if d.record.State() == StateClosed {
		return
	}
	d.record.SetState(StateClosed)
	if d.onClose != nil {
		d.onClose(fmt.Errorf("channel: %d consecutive authentication failures: %w", n, errkind.ErrAuthenticationFailed))
	}
}

// HandleMessage implements router.Worker. msg.Payload is the raw wire
// frame received from the channel's transport route; on success the
// decrypted message is redispatched locally with its return route
// extended through this channel's paired Encryptor.
func (d *Decryptor) HandleMessage(ctx *router.Context, msg *router.Message) error {
	onward, ret, payload, err := d.Open(msg.Payload)
	if err != nil {
		return err
	}
	inner := (&router.Message{
		Onward:  onward,
		Return:  ret.Prepend(d.pairedEncryptorAddr),
		Payload: payload,
	}).WithLocalInfo(identity.SecureChannelLocalInfo{TheirIdentifier: d.record.TheirIdentifier})
	return ctx.SendMessage(inner)
}

var _ router.Worker = (*Decryptor)(nil)
