package transport

import (
	"testing"
	"time"

	"github.com/ockam-go/securechannel/pkg/router"
)

// echoBack replies to every message with its own payload, sent back
// along the message's own Return route.
type echoBack struct{}

func (echoBack) HandleMessage(ctx *router.Context, msg *router.Message) error {
	return ctx.Send(msg.Return, msg.Payload)
}

var _ router.Worker = echoBack{}

// TestLinkOverPipeRoundTrip establishes two Router instances bridged
// by a Link on each end of a Pipe (exactly the arrangement cmd/demo's
// loopback mode uses) and confirms a message sent from one router
// reaches a worker on the other and its reply routes all the way back.
func TestLinkOverPipeRoundTrip(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	aliceRtr := router.New(router.Config{})
	bobRtr := router.New(router.Config{})

	const gateway router.Address = "gateway"
	aliceLink := NewLink(aliceRtr, gateway, pipe.Conn0())
	defer aliceLink.Close()
	bobLink := NewLink(bobRtr, gateway, pipe.Conn1())
	defer bobLink.Close()

	const echoAddr router.Address = "echo"
	bobRtr.Spawn(echoAddr, echoBack{}, router.AllowAll{}, router.AllowAll{})

	caller := aliceRtr.NewDetached(router.NewAddress("caller"), router.AllowAll{}, router.AllowAll{})
	if err := caller.Send(router.NewRoute(gateway, echoAddr), []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}

	reply, err := caller.ReceiveTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("awaiting reply: %v", err)
	}
	if string(reply.Payload) != "ping" {
		t.Errorf("reply payload = %q, want %q", reply.Payload, "ping")
	}
}

// TestFrameRoundTrip confirms WriteFrame/ReadFrame recover the
// original bytes across an in-memory pipe connection.
func TestFrameRoundTrip(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()

	data := []byte("steady-state frame bytes")
	done := make(chan error, 1)
	go func() {
		done <- WriteFrame(pipe.Conn0(), data)
	}()

	got, err := ReadFrame(pipe.Conn1())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
}
