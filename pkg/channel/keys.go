package channel

import (
	"github.com/ockam-go/securechannel/pkg/vault"
)

// Key-schedule HKDF info labels. Each label derives an independent key
// from the same ephemeral-ephemeral shared secret and transcript-hash
// salt, so a passive observer who somehow recovered one derived key
// (e.g. a replayed frame key) gains nothing about the others.
var (
	infoMsg2Key   = []byte("securechannel-xx/msg2-key")
	infoMsg3Key   = []byte("securechannel-xx/msg3-key")
	infoTransport = []byte("securechannel-xx/transport-keys")
)

// transcriptHash1 is SHA-256 over message 1's raw wire bytes — the
// transcript the responder signs over in message 2.
func transcriptHash1(v vault.Vault, msg1Bytes []byte) [vault.DigestSize]byte {
	return v.Hash(msg1Bytes)
}

// transcriptHash2 is SHA-256 over messages 1 and 2's concatenated raw
// wire bytes — the transcript the initiator signs over in message 3.
func transcriptHash2(v vault.Vault, msg1Bytes, msg2Bytes []byte) [vault.DigestSize]byte {
	buf := make([]byte, 0, len(msg1Bytes)+len(msg2Bytes))
	buf = append(buf, msg1Bytes...)
	buf = append(buf, msg2Bytes...)
	return v.Hash(buf)
}

// deriveMsg2Key derives the AEAD key sealing message 2's identity
// payload: HKDF over the ee shared secret, salted by transcript hash
// 1.
func deriveMsg2Key(v vault.Vault, sharedSecret vault.Handle, th1 [vault.DigestSize]byte) (vault.Handle, error) {
	keys, err := v.HKDF(sharedSecret, th1[:], infoMsg2Key, 1)
	if err != nil {
		return vault.Handle{}, err
	}
	return keys[0], nil
}

// deriveMsg3Key derives the AEAD key sealing message 3's identity
// payload, independent of deriveMsg2Key by HKDF info label alone.
func deriveMsg3Key(v vault.Vault, sharedSecret vault.Handle, th1 [vault.DigestSize]byte) (vault.Handle, error) {
	keys, err := v.HKDF(sharedSecret, th1[:], infoMsg3Key, 1)
	if err != nil {
		return vault.Handle{}, err
	}
	return keys[0], nil
}

// deriveTransportKeys derives the two directional steady-state AEAD
// keys. Both sides compute this identically from the shared secret and
// transcript hash 1; index 0 is always the initiator-to-responder key
// and index 1 the responder-to-initiator key, so each side picks the
// send/recv role out of the same pair by its own Role.
func deriveTransportKeys(v vault.Vault, sharedSecret vault.Handle, th1 [vault.DigestSize]byte) (initiatorToResponder, responderToInitiator vault.Handle, err error) {
	keys, err := v.HKDF(sharedSecret, th1[:], infoTransport, 2)
	if err != nil {
		return vault.Handle{}, vault.Handle{}, err
	}
	return keys[0], keys[1], nil
}
