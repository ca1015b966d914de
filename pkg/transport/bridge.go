// Package transport carries router.Router traffic across a byte
// stream so two Router instances can stand in for two separate OS
// processes: Pipe is an in-memory carrier for the loopback demo, a
// real net.Conn (TCP or otherwise) serves the two-process demo, and
// Link bridges either one into a Router's mailbox dispatch. spec.md's
// Non-goals scope out a general-purpose transport layer; this package
// is deliberately just enough carrier for cmd/demo to exercise the
// channel handshake and steady-state frames across a real byte
// stream, not a reusable multi-peer transport.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/ockam-go/securechannel/pkg/router"
)

// Link bridges one local router.Router to a peer router.Router over a
// byte-stream carrier (the loopback Pipe or a real TCP connection),
// letting two separate Router instances — each simulating its own OS
// process — exchange handshake and steady-state channel frames
// verbatim (spec section 2, "Demo transport").
//
// A Link is spawned at a local gateway address on each side of the
// carrier. A message routed to that address (its own address already
// popped by local dispatch) has its remaining Onward route, Return
// route and Payload serialized and written across the carrier
// unmodified — those addresses are only meaningful to the peer's
// router. The reader goroutine on the *receiving* side does the
// opposite: it prepends its own gateway address to the decoded Return
// route before redispatching locally, so that whichever local worker
// ends up replying finds a route whose first hop is this same Link —
// sending a reply back out across the carrier — with the remaining
// hops being the original sender's own addresses, ready to be
// resolved once the reply arrives back on that side.
type Link struct {
	ctx  *router.Context
	conn io.ReadWriteCloser

	mu     sync.Mutex
	closed bool
}

// NewLink spawns a gateway worker at addr on rtr and starts forwarding
// frames to and from conn. Call Close to tear down both directions.
func NewLink(rtr *router.Router, addr router.Address, conn io.ReadWriteCloser) *Link {
	l := &Link{conn: conn}
	l.ctx = rtr.Spawn(addr, l, router.AllowAll{}, router.AllowAll{})
	go l.readLoop()
	return l
}

// Address returns the gateway address this Link was spawned at.
func (l *Link) Address() router.Address { return l.ctx.Address() }

// HandleMessage implements router.Worker: it serializes msg onto the
// wire carrier exactly as addressed locally — those addresses are
// only resolved by the peer's own router once it arrives there.
func (l *Link) HandleMessage(ctx *router.Context, msg *router.Message) error {
	frame := encodeLinkFrame(msg.Onward, msg.Return, msg.Payload)
	return WriteFrame(l.conn, frame)
}

// readLoop decodes frames arriving from the peer side of the carrier
// and redispatches them into the local router, prepending this Link's
// own address to the Return route so a future reply routes back out
// across the same carrier.
func (l *Link) readLoop() {
	for {
		raw, err := ReadFrame(l.conn)
		if err != nil {
			return
		}
		onward, ret, payload, err := decodeLinkFrame(raw)
		if err != nil {
			continue
		}
		l.ctx.SendMessage(&router.Message{Onward: onward, Return: ret.Prepend(l.ctx.Address()), Payload: payload})
	}
}

// Close stops the Link's gateway address and closes the underlying
// carrier, unblocking the read loop.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.ctx.Stop()
	return l.conn.Close()
}

func encodeRouteOn(buf []byte, r router.Route) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r)))
	for _, hop := range r {
		s := hop.String()
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func decodeRouteFrom(b []byte) (router.Route, []byte, error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("transport: truncated route")
	}
	count := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	route := make(router.Route, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("transport: truncated route hop")
		}
		n := binary.BigEndian.Uint16(b[:2])
		b = b[2:]
		if len(b) < int(n) {
			return nil, nil, fmt.Errorf("transport: truncated route hop address")
		}
		route = append(route, router.Address(b[:n]))
		b = b[n:]
	}
	return route, b, nil
}

// encodeLinkFrame serializes a routed message's onward route, return
// route and payload for transit across a Link's carrier. Grounded on
// the same route/payload layout pkg/channel uses for tunneled
// messages inside a steady-state AEAD frame; this package keeps its
// own copy since the two codecs serialize unrelated trust boundaries
// (channel frames are encrypted payload, Link frames are the carrier
// itself) and pkg/channel's codec is unexported.
func encodeLinkFrame(onward, ret router.Route, payload []byte) []byte {
	buf := make([]byte, 0, 64+len(payload))
	buf = encodeRouteOn(buf, onward)
	buf = encodeRouteOn(buf, ret)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return buf
}

func decodeLinkFrame(b []byte) (onward, ret router.Route, payload []byte, err error) {
	onward, b, err = decodeRouteFrom(b)
	if err != nil {
		return nil, nil, nil, err
	}
	ret, b, err = decodeRouteFrom(b)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(b) < 4 {
		return nil, nil, nil, fmt.Errorf("transport: truncated payload length")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if len(b) < int(n) {
		return nil, nil, nil, fmt.Errorf("transport: truncated payload")
	}
	return onward, ret, append([]byte(nil), b[:n]...), nil
}

var _ router.Worker = (*Link)(nil)
