package channel

import (
	"encoding/binary"
	"fmt"

	"github.com/ockam-go/securechannel/pkg/errkind"
	"github.com/ockam-go/securechannel/pkg/router"
)

// protocolVersion is the single wire version this implementation
// speaks; a peer advertising any other value is rejected outright
// rather than negotiated with (spec section 6 names no negotiation
// procedure).
const protocolVersion uint16 = 1

// Handshake message types, spec section 6.
const (
	msgType1 uint8 = 1
	msgType2 uint8 = 2
	msgType3 uint8 = 3
)

// envelope is the common header every handshake message shares:
// version, message type, and the sender's ephemeral agreement public
// key, followed by a length-prefixed payload (empty for message 1,
// AEAD-sealed for messages 2 and 3).
type envelope struct {
	version   uint16
	msgType   uint8
	ephPublic []byte // 32 bytes, X25519
	payload   []byte
}

// header returns the fixed-size prefix (everything but the payload),
// which doubles as the AEAD associated data binding each sealed
// payload to its own version/type/ephemeral-key header.
func (e envelope) header() []byte {
	buf := make([]byte, 2+1+len(e.ephPublic))
	binary.BigEndian.PutUint16(buf[0:2], e.version)
	buf[2] = e.msgType
	copy(buf[3:], e.ephPublic)
	return buf
}

// encode serializes the envelope to wire bytes.
func (e envelope) encode() []byte {
	hdr := e.header()
	buf := make([]byte, len(hdr)+2+len(e.payload))
	copy(buf, hdr)
	binary.BigEndian.PutUint16(buf[len(hdr):], uint16(len(e.payload)))
	copy(buf[len(hdr)+2:], e.payload)
	return buf
}

// decodeEnvelope parses wire bytes into an envelope, validating the
// version and the fixed ephemeral-key length.
func decodeEnvelope(b []byte) (envelope, error) {
	const ephLen = 32
	if len(b) < 2+1+ephLen+2 {
		return envelope{}, fmt.Errorf("channel: truncated handshake envelope: %w", errkind.ErrHandshakeFailed)
	}
	ver := binary.BigEndian.Uint16(b[0:2])
	if ver != protocolVersion {
		return envelope{}, fmt.Errorf("channel: unsupported protocol version %d: %w", ver, errkind.ErrHandshakeFailed)
	}
	typ := b[2]
	eph := append([]byte(nil), b[3:3+ephLen]...)
	rest := b[3+ephLen:]
	plen := binary.BigEndian.Uint16(rest[0:2])
	if len(rest[2:]) < int(plen) {
		return envelope{}, fmt.Errorf("channel: truncated handshake payload: %w", errkind.ErrHandshakeFailed)
	}
	payload := append([]byte(nil), rest[2:2+int(plen)]...)
	return envelope{version: ver, msgType: typ, ephPublic: eph, payload: payload}, nil
}

// innerPayload is the plaintext carried inside messages 2 and 3: the
// sender's static (signing) public key plus its signature over the
// transcript hash accumulated up to that point.
type innerPayload struct {
	staticPublic []byte // 32 bytes, Ed25519
	signature    []byte // 64 bytes, Ed25519
}

func encodeInnerPayload(p innerPayload) []byte {
	buf := make([]byte, len(p.staticPublic)+len(p.signature))
	copy(buf, p.staticPublic)
	copy(buf[len(p.staticPublic):], p.signature)
	return buf
}

func decodeInnerPayload(b []byte) (innerPayload, error) {
	const staticLen = 32
	const sigLen = 64
	if len(b) != staticLen+sigLen {
		return innerPayload{}, fmt.Errorf("channel: malformed handshake identity payload: %w", errkind.ErrHandshakeFailed)
	}
	return innerPayload{
		staticPublic: append([]byte(nil), b[:staticLen]...),
		signature:    append([]byte(nil), b[staticLen:]...),
	}, nil
}

// frameHeaderSize is the 8-byte big-endian nonce counter prefixed to
// every steady-state ciphertext frame (spec section 6, "steady-state
// frame").
const frameHeaderSize = 8

// encodeFrame builds a steady-state wire frame: the nonce counter
// followed by the AEAD ciphertext (which already includes its
// authentication tag).
func encodeFrame(counter uint64, ciphertext []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(ciphertext))
	binary.BigEndian.PutUint64(buf[:frameHeaderSize], counter)
	copy(buf[frameHeaderSize:], ciphertext)
	return buf
}

// decodeFrame splits a steady-state wire frame back into its nonce
// counter and ciphertext.
func decodeFrame(b []byte) (counter uint64, ciphertext []byte, err error) {
	if len(b) < frameHeaderSize {
		return 0, nil, fmt.Errorf("channel: truncated frame: %w", errkind.ErrReplayedOrOutOfOrder)
	}
	counter = binary.BigEndian.Uint64(b[:frameHeaderSize])
	ciphertext = b[frameHeaderSize:]
	return counter, ciphertext, nil
}

// frameNonce expands a 64-bit counter into the 12-byte nonce the vault's
// AEAD expects, per spec section 6 ("the nonce is the 8-byte counter
// zero-extended to the cipher's nonce size").
func frameNonce(counter uint64) []byte {
	nonce := make([]byte, 12)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// counterAAD returns the 8-byte big-endian counter bytes used as the
// steady-state frame's AEAD associated data (spec section 6,
// "steady-state frame": "AAD is the nonce counter bytes"), binding
// each ciphertext to its own counter so one cannot be replayed under
// another's position in the wire frame.
func counterAAD(counter uint64) []byte {
	aad := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(aad, counter)
	return aad
}

// encodeRoute serializes a route as a count-prefixed list of
// length-prefixed address strings.
func encodeRoute(buf []byte, r router.Route) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r)))
	for _, hop := range r {
		s := hop.String()
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func decodeRoute(b []byte) (router.Route, []byte, error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("channel: truncated route: %w", errkind.ErrHandshakeFailed)
	}
	count := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	route := make(router.Route, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("channel: truncated route hop: %w", errkind.ErrHandshakeFailed)
		}
		n := binary.BigEndian.Uint16(b[:2])
		b = b[2:]
		if len(b) < int(n) {
			return nil, nil, fmt.Errorf("channel: truncated route hop address: %w", errkind.ErrHandshakeFailed)
		}
		route = append(route, router.Address(b[:n]))
		b = b[n:]
	}
	return route, b, nil
}

// encodeRoutedPayload canonically encodes a tunneled message's onward
// route, return route and payload into the plaintext that travels
// inside a steady-state AEAD frame (spec section 6).
func encodeRoutedPayload(onward, ret router.Route, payload []byte) []byte {
	buf := make([]byte, 0, 64+len(payload))
	buf = encodeRoute(buf, onward)
	buf = encodeRoute(buf, ret)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// decodeRoutedPayload reverses encodeRoutedPayload.
func decodeRoutedPayload(b []byte) (onward, ret router.Route, payload []byte, err error) {
	onward, b, err = decodeRoute(b)
	if err != nil {
		return nil, nil, nil, err
	}
	ret, b, err = decodeRoute(b)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(b) < 4 {
		return nil, nil, nil, fmt.Errorf("channel: truncated payload length: %w", errkind.ErrHandshakeFailed)
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if len(b) < int(n) {
		return nil, nil, nil, fmt.Errorf("channel: truncated payload: %w", errkind.ErrHandshakeFailed)
	}
	return onward, ret, append([]byte(nil), b[:n]...), nil
}
