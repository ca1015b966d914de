// demo establishes one secure channel between two identities and
// sends a single application message over it, printing the verified
// peer identifier the receiving side saw.
//
// Usage:
//
//	demo [options]
//
// Options:
//
//	-mode    loopback (default, single process, in-memory carrier) or
//	         tcp (two process roles over a real TCP connection)
//	-role    listener or initiator (only used in -mode tcp)
//	-addr    address to listen on (-role listener) or dial (-role initiator)
//
// Example:
//
//	demo -mode loopback
//	demo -mode tcp -role listener -addr :7800
//	demo -mode tcp -role initiator -addr 127.0.0.1:7800
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/ockam-go/securechannel/pkg/channel"
	"github.com/ockam-go/securechannel/pkg/identity"
	"github.com/ockam-go/securechannel/pkg/router"
	"github.com/ockam-go/securechannel/pkg/transport"
	"github.com/ockam-go/securechannel/pkg/vault"
)

const (
	gatewayAddr  router.Address = "gateway"
	listenerAddr router.Address = "listener"

	// tcpEchoAddr is fixed rather than randomly allocated because the
	// two-process demo has no side channel to exchange a generated
	// address across; the loopback demo shares addresses directly in
	// code instead.
	tcpEchoAddr router.Address = "echo"
)

func main() {
	mode := flag.String("mode", "loopback", "loopback or tcp")
	role := flag.String("role", "listener", "listener or initiator (mode=tcp only)")
	addr := flag.String("addr", ":7800", "listen address (role=listener) or dial address (role=initiator)")
	flag.Parse()

	switch *mode {
	case "loopback":
		runLoopback()
	case "tcp":
		switch *role {
		case "listener":
			runTCPListener(*addr)
		case "initiator":
			runTCPInitiator(*addr)
		default:
			log.Fatalf("unknown -role %q", *role)
		}
	default:
		log.Fatalf("unknown -mode %q", *mode)
	}
}

// runLoopback establishes both identities in one process, bridged
// over an in-memory Pipe, and performs a single message round trip.
func runLoopback() {
	pipe := transport.NewPipe()
	defer pipe.Close()

	aliceRtr := router.New(router.Config{})
	bobRtr := router.New(router.Config{})

	transport.NewLink(aliceRtr, gatewayAddr, pipe.Conn0())
	transport.NewLink(bobRtr, gatewayAddr, pipe.Conn1())

	alice, err := channel.Create(vault.New(), aliceRtr, channel.Config{})
	if err != nil {
		log.Fatalf("alice: %v", err)
	}
	bob, err := channel.Create(vault.New(), bobRtr, channel.Config{})
	if err != nil {
		log.Fatalf("bob: %v", err)
	}

	bob.CreateSecureChannelListener(listenerAddr, identity.TrustEveryonePolicy{})

	echoAddr := router.NewAddress("echo")
	bobRtr.Spawn(echoAddr, echoWorker{}, router.AllowAll{}, router.AllowAll{})

	aliceEnc, err := alice.CreateSecureChannel(router.NewRoute(gatewayAddr, listenerAddr), identity.TrustEveryonePolicy{}, 5*time.Second)
	if err != nil {
		log.Fatalf("establishing channel: %v", err)
	}
	fmt.Printf("alice (%s) established a channel to bob (%s)\n", alice.Identifier(), bob.Identifier())

	caller := aliceRtr.NewDetached(router.NewAddress("caller"), router.AllowAll{}, router.AllowAll{})
	if err := caller.Send(router.NewRoute(aliceEnc, echoAddr), []byte("hello over the wire")); err != nil {
		log.Fatalf("send: %v", err)
	}
	reply, err := caller.ReceiveTimeout(5 * time.Second)
	if err != nil {
		log.Fatalf("awaiting echo: %v", err)
	}
	fmt.Printf("echo reply: %q\n", reply.Payload)
}

// runTCPListener runs the responder side of a two-process demo,
// accepting exactly one connection.
func runTCPListener(addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	fmt.Printf("listening on %s\n", ln.Addr())

	conn, err := ln.Accept()
	if err != nil {
		log.Fatalf("accept: %v", err)
	}

	rtr := router.New(router.Config{})
	transport.NewLink(rtr, gatewayAddr, conn)

	bob, err := channel.Create(vault.New(), rtr, channel.Config{})
	if err != nil {
		log.Fatalf("bob: %v", err)
	}
	bob.CreateSecureChannelListener(listenerAddr, identity.TrustEveryonePolicy{})
	fmt.Printf("bob identifier: %s\n", bob.Identifier())

	rtr.Spawn(tcpEchoAddr, echoWorker{}, router.AllowAll{}, router.AllowAll{})
	fmt.Printf("echo worker ready at %s; waiting for a channel\n", tcpEchoAddr)

	select {}
}

// runTCPInitiator dials a listener started with -role listener,
// establishes a secure channel and sends one message.
func runTCPInitiator(addr string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}

	rtr := router.New(router.Config{})
	transport.NewLink(rtr, gatewayAddr, conn)

	alice, err := channel.Create(vault.New(), rtr, channel.Config{})
	if err != nil {
		log.Fatalf("alice: %v", err)
	}

	aliceEnc, err := alice.CreateSecureChannel(router.NewRoute(gatewayAddr, listenerAddr), identity.TrustEveryonePolicy{}, 10*time.Second)
	if err != nil {
		log.Fatalf("establishing channel: %v", err)
	}
	fmt.Printf("alice identifier: %s\nchannel established, encryptor at %s\n", alice.Identifier(), aliceEnc)

	caller := rtr.NewDetached(router.NewAddress("caller"), router.AllowAll{}, router.AllowAll{})
	if err := caller.Send(router.NewRoute(aliceEnc, tcpEchoAddr), []byte("hello over tcp")); err != nil {
		log.Fatalf("send: %v", err)
	}
	reply, err := caller.ReceiveTimeout(10 * time.Second)
	if err != nil {
		log.Fatalf("awaiting echo: %v", err)
	}
	fmt.Printf("echo reply: %q\n", reply.Payload)
}

// echoWorker replies to every message with its own payload, sent back
// along the message's own Return route (which traverses back through
// the originating Decryptor/Encryptor pair and, for -mode tcp, the
// Link bridging the two processes).
type echoWorker struct{}

func (echoWorker) HandleMessage(ctx *router.Context, msg *router.Message) error {
	if info, ok := router.LocalInfoOf[identity.SecureChannelLocalInfo](msg); ok {
		fmt.Printf("echo: delivered over a channel verified as %s\n", info.TheirIdentifier)
	}
	return ctx.Send(msg.Return, msg.Payload)
}

var _ router.Worker = echoWorker{}
