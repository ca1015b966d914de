package channel

import (
	"fmt"

	"github.com/ockam-go/securechannel/pkg/errkind"
	"github.com/ockam-go/securechannel/pkg/router"
	"github.com/ockam-go/securechannel/pkg/vault"
)

// Encryptor is the peer-facing worker that seals outbound application
// traffic for one established secure channel (spec section 4.4). A
// local worker sends a message to the Encryptor's address; the
// Encryptor wraps the message's onward route, return route and
// payload into a steady-state AEAD frame and forwards it to the peer's
// Decryptor over transportRoute.
type Encryptor struct {
	v             vault.Vault
	record        *Record
	transportRoute router.Route
	onAuthFailure func()
}

// NewEncryptor constructs an Encryptor bound to an established channel
// record. transportRoute is the physical route to the peer's
// Decryptor. onAuthFailure, if non-nil, is invoked whenever a seal
// fails for a reason other than key exhaustion (vault errors), giving
// the owning channel a circuit-breaking hook symmetric with the
// Decryptor's.
func NewEncryptor(v vault.Vault, record *Record, transportRoute router.Route, onAuthFailure func()) *Encryptor {
	return &Encryptor{v: v, record: record, transportRoute: transportRoute, onAuthFailure: onAuthFailure}
}

// Seal encrypts a tunneled message for the wire: onward is the route
// beyond the channel, ret is the return route accumulated so far, and
// payload is the application body. It is the synchronous API surface
// of spec section 4.6; HandleMessage (the routed-worker surface of
// section 4.4) is a thin wrapper over it.
func (e *Encryptor) Seal(onward, ret router.Route, payload []byte) ([]byte, error) {
	if e.record.State() != StateEstablished {
		return nil, fmt.Errorf("channel: encryptor %s: %w", e.record.EncryptorAddress, errkind.ErrChannelClosed)
	}
	counter, ok := e.record.SendKeys.NextSendCounter()
	if !ok {
		e.record.SetState(StateClosing)
		return nil, fmt.Errorf("channel: encryptor %s: %w", e.record.EncryptorAddress, errkind.ErrKeyExhausted)
	}
	plaintext := encodeRoutedPayload(onward, ret, payload)
	ciphertext, err := e.v.AEADSeal(e.record.SendKeys.Key, frameNonce(counter), counterAAD(counter), plaintext)
	if err != nil {
		if e.onAuthFailure != nil {
			e.onAuthFailure()
		}
		return nil, fmt.Errorf("channel: sealing frame: %w", err)
	}
	return encodeFrame(counter, ciphertext), nil
}

// HandleMessage implements router.Worker. The inbound message's own
// Onward/Return describe the tunneled destination and reply path; the
// Encryptor seals them into a frame and forwards it over
// transportRoute to the peer Decryptor.
func (e *Encryptor) HandleMessage(ctx *router.Context, msg *router.Message) error {
	frame, err := e.Seal(msg.Onward, msg.Return, msg.Payload)
	if err != nil {
		return err
	}
	return ctx.SendMessage(&router.Message{
		Onward:  e.transportRoute,
		Payload: frame,
	})
}

var _ router.Worker = (*Encryptor)(nil)
