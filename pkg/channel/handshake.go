package channel

import (
	"fmt"

	"github.com/ockam-go/securechannel/pkg/errkind"
	"github.com/ockam-go/securechannel/pkg/identity"
	"github.com/ockam-go/securechannel/pkg/vault"
)

// identityKeys is the long-term material one side of a handshake
// authenticates with: a signing key handle plus its public bytes and
// derived Identifier.
type identityKeys struct {
	signingHandle vault.Handle
	staticPublic  []byte
	identifier    identity.Identifier
}

// handshakeResult is what a completed handshake (either role) hands
// back to its caller: the peer's verified identifier and the two
// directional transport keys, oriented send/recv from this side's
// point of view.
type handshakeResult struct {
	theirIdentifier identity.Identifier
	sendKey         vault.Handle
	recvKey         vault.Handle
}

// buildMessage1 generates this side's ephemeral agreement key pair and
// returns the wire bytes for handshake message 1, along with the
// ephemeral handle (retained for use once message 2 arrives).
func buildMessage1(v vault.Vault) (wire []byte, ephemeral vault.Handle, err error) {
	ephemeral, err = v.GenerateAgreementKey()
	if err != nil {
		return nil, vault.Handle{}, err
	}
	ephPub, err := v.PublicKey(ephemeral)
	if err != nil {
		return nil, vault.Handle{}, err
	}
	env := envelope{version: protocolVersion, msgType: msgType1, ephPublic: ephPub}
	return env.encode(), ephemeral, nil
}

// respondToMessage1 is the responder's reaction to an incoming message
// 1: it generates its own ephemeral key, computes the ee shared
// secret, signs the transcript with its static identity, and returns
// the wire bytes for message 2 plus everything needed to process
// message 3 later.
type responderPending struct {
	ephemeral      vault.Handle
	sharedSecret   vault.Handle
	msg1Bytes      []byte
	msg2Bytes      []byte
	msg3Key        vault.Handle
	transcriptHash [vault.DigestSize]byte // transcript hash 1, reused as transport-key salt
}

func respondToMessage1(v vault.Vault, me identityKeys, msg1Bytes []byte) (wire []byte, pending responderPending, err error) {
	msg1, err := decodeEnvelope(msg1Bytes)
	if err != nil {
		return nil, responderPending{}, err
	}
	if msg1.msgType != msgType1 {
		return nil, responderPending{}, fmt.Errorf("channel: expected handshake message 1, got type %d: %w", msg1.msgType, errkind.ErrHandshakeFailed)
	}

	respEph, err := v.GenerateAgreementKey()
	if err != nil {
		return nil, responderPending{}, err
	}
	respEphPub, err := v.PublicKey(respEph)
	if err != nil {
		return nil, responderPending{}, err
	}
	sharedSecret, err := v.ECDH(respEph, msg1.ephPublic)
	if err != nil {
		return nil, responderPending{}, fmt.Errorf("channel: handshake ee agreement: %w", err)
	}

	th1 := transcriptHash1(v, msg1Bytes)

	sig, err := v.Sign(me.signingHandle, th1[:])
	if err != nil {
		return nil, responderPending{}, err
	}
	msg2Key, err := deriveMsg2Key(v, sharedSecret, th1)
	if err != nil {
		return nil, responderPending{}, err
	}
	msg3Key, err := deriveMsg3Key(v, sharedSecret, th1)
	if err != nil {
		return nil, responderPending{}, err
	}

	env2 := envelope{version: protocolVersion, msgType: msgType2, ephPublic: respEphPub}
	plain := encodeInnerPayload(innerPayload{staticPublic: me.staticPublic, signature: sig})
	sealed, err := v.AEADSeal(msg2Key, frameNonce(0), env2.header(), plain)
	if err != nil {
		return nil, responderPending{}, err
	}
	env2.payload = sealed
	msg2Bytes := env2.encode()

	return msg2Bytes, responderPending{
		ephemeral:      respEph,
		sharedSecret:   sharedSecret,
		msg1Bytes:      msg1Bytes,
		msg2Bytes:      msg2Bytes,
		msg3Key:        msg3Key,
		transcriptHash: th1,
	}, nil
}

// finishResponder processes the initiator's message 3: it decrypts and
// verifies the initiator's identity, invokes policy, and — only on
// acceptance — derives the final transport keys.
func finishResponder(v vault.Vault, me identityKeys, policy identity.TrustPolicy, pending responderPending, msg3Bytes []byte) (handshakeResult, error) {
	msg3, err := decodeEnvelope(msg3Bytes)
	if err != nil {
		return handshakeResult{}, err
	}
	if msg3.msgType != msgType3 {
		return handshakeResult{}, fmt.Errorf("channel: expected handshake message 3, got type %d: %w", msg3.msgType, errkind.ErrHandshakeFailed)
	}

	plain, err := v.AEADOpen(pending.msg3Key, frameNonce(0), msg3.header(), msg3.payload)
	if err != nil {
		return handshakeResult{}, fmt.Errorf("channel: opening handshake message 3: %w", err)
	}
	inner, err := decodeInnerPayload(plain)
	if err != nil {
		return handshakeResult{}, err
	}

	th2 := transcriptHash2(v, pending.msg1Bytes, pending.msg2Bytes)
	if !v.Verify(inner.staticPublic, th2[:], inner.signature) {
		return handshakeResult{}, fmt.Errorf("channel: initiator transcript signature invalid: %w", errkind.ErrAuthenticationFailed)
	}

	theirIdentifier := identity.DeriveIdentifier(v, inner.staticPublic)
	if !policy.IsTrusted(me.identifier, theirIdentifier) {
		return handshakeResult{}, fmt.Errorf("channel: responder trust policy rejected %s: %w", theirIdentifier, errkind.ErrTrustRejected)
	}

	itor, rtoi, err := deriveTransportKeys(v, pending.sharedSecret, pending.transcriptHash)
	if err != nil {
		return handshakeResult{}, err
	}
	return handshakeResult{theirIdentifier: theirIdentifier, sendKey: rtoi, recvKey: itor}, nil
}

// finishInitiator processes the responder's message 2 on the
// initiator side: verifies the responder's identity and trust policy,
// then builds message 3 and derives the final transport keys (which
// are available to the initiator immediately, since the initiator
// supplies the last signature and needs no further round trip).
type initiatorOutcome struct {
	msg3Bytes []byte
	result    handshakeResult
}

func finishInitiator(v vault.Vault, me identityKeys, policy identity.TrustPolicy, ephemeral vault.Handle, msg1Bytes, msg2Bytes []byte) (initiatorOutcome, error) {
	msg2, err := decodeEnvelope(msg2Bytes)
	if err != nil {
		return initiatorOutcome{}, err
	}
	if msg2.msgType != msgType2 {
		return initiatorOutcome{}, fmt.Errorf("channel: expected handshake message 2, got type %d: %w", msg2.msgType, errkind.ErrHandshakeFailed)
	}

	sharedSecret, err := v.ECDH(ephemeral, msg2.ephPublic)
	if err != nil {
		return initiatorOutcome{}, fmt.Errorf("channel: handshake ee agreement: %w", err)
	}

	th1 := transcriptHash1(v, msg1Bytes)
	msg2Key, err := deriveMsg2Key(v, sharedSecret, th1)
	if err != nil {
		return initiatorOutcome{}, err
	}
	plain, err := v.AEADOpen(msg2Key, frameNonce(0), msg2.header(), msg2.payload)
	if err != nil {
		return initiatorOutcome{}, fmt.Errorf("channel: opening handshake message 2: %w", err)
	}
	inner, err := decodeInnerPayload(plain)
	if err != nil {
		return initiatorOutcome{}, err
	}
	if !v.Verify(inner.staticPublic, th1[:], inner.signature) {
		return initiatorOutcome{}, fmt.Errorf("channel: responder transcript signature invalid: %w", errkind.ErrAuthenticationFailed)
	}

	theirIdentifier := identity.DeriveIdentifier(v, inner.staticPublic)
	if !policy.IsTrusted(me.identifier, theirIdentifier) {
		return initiatorOutcome{}, fmt.Errorf("channel: initiator trust policy rejected %s: %w", theirIdentifier, errkind.ErrTrustRejected)
	}

	th2 := transcriptHash2(v, msg1Bytes, msg2Bytes)
	sig, err := v.Sign(me.signingHandle, th2[:])
	if err != nil {
		return initiatorOutcome{}, err
	}
	msg3Key, err := deriveMsg3Key(v, sharedSecret, th1)
	if err != nil {
		return initiatorOutcome{}, err
	}
	// Message 3 echoes the initiator's own ephemeral public key (already
	// known to the responder from message 1) rather than contributing a
	// fresh one — see DESIGN.md's handshake entry.
	initEphPub, err := v.PublicKey(ephemeral)
	if err != nil {
		return initiatorOutcome{}, err
	}
	env3 := envelope{version: protocolVersion, msgType: msgType3, ephPublic: initEphPub}
	plain3 := encodeInnerPayload(innerPayload{staticPublic: me.staticPublic, signature: sig})
	sealed3, err := v.AEADSeal(msg3Key, frameNonce(0), env3.header(), plain3)
	if err != nil {
		return initiatorOutcome{}, err
	}
	env3.payload = sealed3

	itor, rtoi, err := deriveTransportKeys(v, sharedSecret, th1)
	if err != nil {
		return initiatorOutcome{}, err
	}
	return initiatorOutcome{
		msg3Bytes: env3.encode(),
		result:    handshakeResult{theirIdentifier: theirIdentifier, sendKey: itor, recvKey: rtoi},
	}, nil
}
