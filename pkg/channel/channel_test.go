package channel

import (
	"fmt"
	"testing"
	"time"

	"github.com/ockam-go/securechannel/pkg/access"
	"github.com/ockam-go/securechannel/pkg/errkind"
	"github.com/ockam-go/securechannel/pkg/identity"
	"github.com/ockam-go/securechannel/pkg/router"
	"github.com/ockam-go/securechannel/pkg/vault"
)

// newPair establishes one secure channel between a fresh "alice"
// (initiator) and "bob" (responder) identity sharing a single router,
// matching the in-process two-router-substitute harness described by
// the ambient test-tooling section: no mocking framework, just the
// real router wired loopback.
func newPair(t *testing.T) (rtr *router.Router, alice, bob *Identity, aliceEnc router.Address) {
	t.Helper()
	rtr = router.New(router.Config{})

	v := vault.New()
	var err error
	alice, err = Create(v, rtr, Config{})
	if err != nil {
		t.Fatalf("creating alice: %v", err)
	}
	bob, err = Create(v, rtr, Config{})
	if err != nil {
		t.Fatalf("creating bob: %v", err)
	}

	listenAddr := router.NewAddress("bob-listener")
	bob.CreateSecureChannelListener(listenAddr, identity.TrustEveryonePolicy{})

	aliceEnc, err = alice.CreateSecureChannel(router.NewRoute(listenAddr), identity.TrustEveryonePolicy{}, 5*time.Second)
	if err != nil {
		t.Fatalf("alice establishing channel: %v", err)
	}
	return rtr, alice, bob, aliceEnc
}

func TestHandshakeEstablishesSymmetricRecords(t *testing.T) {
	_, alice, bob, aliceEnc := newPair(t)

	aliceRec, ok := alice.SecureChannelRegistry().ByEncryptorAddress(aliceEnc)
	if !ok {
		t.Fatalf("alice has no record for its own encryptor")
	}
	if aliceRec.TheirIdentifier != bob.Identifier() {
		t.Fatalf("alice's record names %s as peer, want %s", aliceRec.TheirIdentifier, bob.Identifier())
	}

	if bob.SecureChannelRegistry().Len() != 1 {
		t.Fatalf("bob registry size = %d, want 1", bob.SecureChannelRegistry().Len())
	}
	bobRecs := bob.SecureChannelRegistry().Snapshot()
	bobRec := bobRecs[0]
	if bobRec.TheirIdentifier != alice.Identifier() {
		t.Fatalf("bob's record names %s as peer, want %s", bobRec.TheirIdentifier, alice.Identifier())
	}
	if aliceRec.State() != StateEstablished || bobRec.State() != StateEstablished {
		t.Fatalf("expected both records established, got alice=%s bob=%s", aliceRec.State(), bobRec.State())
	}
}

// echoWorker replies to every message it receives with the same
// payload, capturing the identity.SecureChannelLocalInfo attached to
// the inbound message so the test can assert on it.
type echoWorker struct {
	gotLocalInfo chan identity.SecureChannelLocalInfo
}

func (e *echoWorker) HandleMessage(ctx *router.Context, msg *router.Message) error {
	info, ok := router.LocalInfoOf[identity.SecureChannelLocalInfo](msg)
	if ok {
		e.gotLocalInfo <- info
	}
	return ctx.Send(msg.Return, msg.Payload)
}

func TestMessageRoundTripCarriesVerifiedLocalInfo(t *testing.T) {
	rtr, alice, _, aliceEnc := newPair(t)

	echo := &echoWorker{gotLocalInfo: make(chan identity.SecureChannelLocalInfo, 1)}
	echoAddr := router.NewAddress("echo")
	rtr.Spawn(echoAddr, echo, router.AllowAll{}, router.AllowAll{})

	callerAddr := router.NewAddress("caller")
	caller := rtr.NewDetached(callerAddr, router.AllowAll{}, router.AllowAll{})

	// Tunnel through alice's channel to bob's echo worker: onward is
	// [aliceEncryptor, echoAddr], so the Encryptor consumes its own hop
	// at dispatch time and seals {echoAddr} as the tunneled destination.
	if err := caller.Send(router.NewRoute(aliceEnc, echoAddr), []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case info := <-echo.gotLocalInfo:
		if info.TheirIdentifier != alice.Identifier() {
			t.Fatalf("echo saw peer identifier %s, want %s", info.TheirIdentifier, alice.Identifier())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo worker to observe local info")
	}

	reply, err := caller.ReceiveTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("awaiting echo reply: %v", err)
	}
	if string(reply.Payload) != "hello" {
		t.Fatalf("reply payload = %q, want %q", reply.Payload, "hello")
	}
}

func TestReplayedCounterIsRejected(t *testing.T) {
	d := &DirectionalKeys{RecvHighWater: -1}

	if !d.AcceptRecvCounter(0) {
		t.Fatalf("first frame (counter 0) should be accepted")
	}
	if !d.AcceptRecvCounter(1) {
		t.Fatalf("next frame (counter 1) should be accepted")
	}
	if d.AcceptRecvCounter(1) {
		t.Fatalf("repeated counter 1 should be rejected as a replay")
	}
	if d.AcceptRecvCounter(0) {
		t.Fatalf("out-of-order counter 0 should be rejected after counter 1 was accepted")
	}
	if !d.AcceptRecvCounter(5) {
		t.Fatalf("a later counter (gap allowed, no reordering within a reliable transport) should be accepted")
	}
}

func TestChannelRejectsReplayedFrame(t *testing.T) {
	rtr, _, bob, aliceEnc := newPair(t)

	echo := &echoWorker{gotLocalInfo: make(chan identity.SecureChannelLocalInfo, 4)}
	echoAddr := router.NewAddress("echo")
	rtr.Spawn(echoAddr, echo, router.AllowAll{}, router.AllowAll{})

	callerAddr := router.NewAddress("caller")
	caller := rtr.NewDetached(callerAddr, router.AllowAll{}, router.AllowAll{})

	if err := caller.Send(router.NewRoute(aliceEnc, echoAddr), []byte("once")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := caller.ReceiveTimeout(2 * time.Second); err != nil {
		t.Fatalf("first round trip failed: %v", err)
	}

	// Bob's Decryptor already accepted counter 0 in the round trip
	// above. Present it a frame claiming counter 0 again (its ciphertext
	// is never opened) directly through a Decryptor bound to bob's
	// record, to confirm the repeated counter is rejected rather than
	// silently re-delivered.
	bobRec := bob.SecureChannelRegistry().Snapshot()[0]
	dec := NewDecryptor(bob.v, bobRec, bobRec.EncryptorAddress, nil)
	staleFrame := encodeFrame(0, []byte("not-a-real-ciphertext-but-counter-0-is-already-consumed"))
	if _, _, _, err := dec.Open(staleFrame); err == nil {
		t.Fatalf("expected replay of counter 0 to be rejected")
	}
}

// buildTunnelChain creates depth+1 identities sharing rtr and chains
// depth secure channels between consecutive identities (identities[0]
// initiates the first, each identities[i] listens for and accepts
// the next). It returns the route of encryptor addresses a caller
// tunnels through to reach the last identity, and the second-to-last
// identity — the peer whose identifier the deepest Decryptor attaches
// as LocalInfo.
func buildTunnelChain(t *testing.T, rtr *router.Router, depth int) (route router.Route, finalPeer *Identity) {
	t.Helper()
	if depth < 1 {
		t.Fatalf("buildTunnelChain: depth must be >= 1, got %d", depth)
	}

	v := vault.New()
	identities := make([]*Identity, depth+1)
	for i := range identities {
		id, err := Create(v, rtr, Config{})
		if err != nil {
			t.Fatalf("creating chain identity %d: %v", i, err)
		}
		identities[i] = id
	}

	route = make(router.Route, 0, depth)
	for i := 1; i <= depth; i++ {
		listenAddr := router.NewAddress(fmt.Sprintf("chain-listener-%d", i))
		identities[i].CreateSecureChannelListener(listenAddr, identity.TrustEveryonePolicy{})
		encAddr, err := identities[i-1].CreateSecureChannel(router.NewRoute(listenAddr), identity.TrustEveryonePolicy{}, 5*time.Second)
		if err != nil {
			t.Fatalf("establishing chain channel %d: %v", i, err)
		}
		route = append(route, encAddr)
	}
	return route, identities[depth-1]
}

// TestNestedChannelTunneling routes a message through a chain of
// nested secure channels of varying depth, reaching an echo worker
// only after every hop's Decryptor has unwrapped its own layer — the
// claim that channel addresses tunnel like any other address, with no
// special-case code for nesting, independent of how many channels are
// stacked. Depths 1-16 cover the documented range; 6 stands in for the
// scenario's random depth in [4,8].
func TestNestedChannelTunneling(t *testing.T) {
	for _, depth := range []int{1, 2, 3, 4, 6, 8, 12, 16} {
		t.Run(fmt.Sprintf("depth=%d", depth), func(t *testing.T) {
			rtr := router.New(router.Config{})
			route, finalPeer := buildTunnelChain(t, rtr, depth)

			echo := &echoWorker{gotLocalInfo: make(chan identity.SecureChannelLocalInfo, 1)}
			echoAddr := router.NewAddress("echo")
			rtr.Spawn(echoAddr, echo, router.AllowAll{}, router.AllowAll{})

			callerAddr := router.NewAddress("caller")
			caller := rtr.NewDetached(callerAddr, router.AllowAll{}, router.AllowAll{})

			fullRoute := append(router.Route{}, route...)
			fullRoute = append(fullRoute, echoAddr)
			if err := caller.Send(fullRoute, []byte("tunneled")); err != nil {
				t.Fatalf("send: %v", err)
			}

			// LocalInfo never crosses the wire: each Decryptor attaches it
			// only to the message it redispatches locally, so the echo
			// worker sees the one the deepest Decryptor attached, naming
			// the second-to-last identity as the immediately-authenticated
			// peer — every identity upstream of it is invisible to the
			// final hop, by design.
			var got identity.SecureChannelLocalInfo
			select {
			case got = <-echo.gotLocalInfo:
			case <-time.After(2 * time.Second):
				t.Fatalf("depth %d: timed out waiting for local info", depth)
			}
			if got.TheirIdentifier != finalPeer.Identifier() {
				t.Fatalf("depth %d: echo's local info names %s, want %s", depth, got.TheirIdentifier, finalPeer.Identifier())
			}

			reply, err := caller.ReceiveTimeout(2 * time.Second)
			if err != nil {
				t.Fatalf("depth %d: awaiting tunneled reply: %v", depth, err)
			}
			if string(reply.Payload) != "tunneled" {
				t.Fatalf("depth %d: reply payload = %q, want %q", depth, reply.Payload, "tunneled")
			}
		})
	}
}

// TestEncryptorDecryptorAPIRoundTrip exercises the administrative API
// addresses directly (spec section 4.6): sealing a tunneled message at
// alice's encryptor_api_address and opening the resulting frame at
// bob's decryptor_api_address recovers the original onward route,
// return route and payload — decrypt(peer_encrypt(x)) == x — without
// the frame ever traversing a transport route.
func TestEncryptorDecryptorAPIRoundTrip(t *testing.T) {
	rtr, alice, bob, aliceEnc := newPair(t)

	aliceRec, ok := alice.SecureChannelRegistry().ByEncryptorAddress(aliceEnc)
	if !ok {
		t.Fatalf("alice has no record for its own encryptor")
	}
	if aliceRec.EncryptorAPIAddress == "" || aliceRec.DecryptorAPIAddress == "" {
		t.Fatalf("alice's record exposes no API addresses")
	}
	bobRec := bob.SecureChannelRegistry().Snapshot()[0]
	if bobRec.EncryptorAPIAddress == "" || bobRec.DecryptorAPIAddress == "" {
		t.Fatalf("bob's record exposes no API addresses")
	}

	callerAddr := router.NewAddress("api-caller")
	caller := rtr.NewDetached(callerAddr, router.AllowAll{}, router.AllowAll{})

	destAddr := router.NewAddress("destination")
	replyAddr := router.NewAddress("reply-to")
	encReq := encodeRoutedPayload(router.NewRoute(destAddr), router.NewRoute(replyAddr), []byte("administrative"))
	if err := caller.Send(router.NewRoute(aliceRec.EncryptorAPIAddress), encReq); err != nil {
		t.Fatalf("send to encryptor API: %v", err)
	}
	sealedMsg, err := caller.ReceiveTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("awaiting sealed frame: %v", err)
	}

	if err := caller.Send(router.NewRoute(bobRec.DecryptorAPIAddress), sealedMsg.Payload); err != nil {
		t.Fatalf("send to decryptor API: %v", err)
	}
	openedMsg, err := caller.ReceiveTimeout(2 * time.Second)
	if err != nil {
		t.Fatalf("awaiting opened response: %v", err)
	}
	onward, ret, payload, err := decodeRoutedPayload(openedMsg.Payload)
	if err != nil {
		t.Fatalf("decoding decryptor API response: %v", err)
	}
	if len(onward) != 1 || onward[0] != destAddr {
		t.Fatalf("recovered onward = %v, want [%s]", onward, destAddr)
	}
	if len(ret) != 1 || ret[0] != replyAddr {
		t.Fatalf("recovered return = %v, want [%s]", ret, replyAddr)
	}
	if string(payload) != "administrative" {
		t.Fatalf("recovered payload = %q, want %q", payload, "administrative")
	}
}

// TestCreateSecureChannelListenerUnderSessionRejectsUnknownSpawner
// confirms errkind.ErrSessionInconsistency surfaces synchronously from
// construction, rather than later during message delivery, when asked
// to tie a new listener's session to a spawner address that was never
// registered (spec section 7).
func TestCreateSecureChannelListenerUnderSessionRejectsUnknownSpawner(t *testing.T) {
	rtr := router.New(router.Config{})
	sessions := access.NewSessions()
	id, err := Create(vault.New(), rtr, Config{Sessions: sessions})
	if err != nil {
		t.Fatalf("creating identity: %v", err)
	}

	_, err = id.CreateSecureChannelListenerUnderSession(router.NewAddress("orphan-listener"), identity.TrustEveryonePolicy{}, router.NewAddress("never-registered"))
	if !errkind.Is(err, errkind.ErrSessionInconsistency) {
		t.Fatalf("err = %v, want ErrSessionInconsistency", err)
	}
}

// recordingWorker records every message it successfully receives, for
// access-control assertions that need to tell "delivered" from
// "silently dropped" apart.
type recordingWorker struct {
	received chan *router.Message
}

func (r *recordingWorker) HandleMessage(_ *router.Context, msg *router.Message) error {
	r.received <- msg
	return nil
}

// TestAccessControlScenarios covers spec section 4.8's three cases: a
// message arriving over a channel from the expected peer is admitted;
// one arriving over a channel from a different, unexpected peer is
// dropped; and one that never crossed any secure channel at all (no
// SecureChannelLocalInfo present) is dropped.
func TestAccessControlScenarios(t *testing.T) {
	rtr, alice, bob, aliceEnc := newPair(t)

	v := vault.New()
	mallory, err := Create(v, rtr, Config{})
	if err != nil {
		t.Fatalf("creating mallory: %v", err)
	}
	malloryListenAddr := router.NewAddress("mallory-listener")
	mallory.CreateSecureChannelListener(malloryListenAddr, identity.TrustEveryonePolicy{})
	malloryCallerEnc, err := bob.CreateSecureChannel(router.NewRoute(malloryListenAddr), identity.TrustEveryonePolicy{}, 5*time.Second)
	if err != nil {
		t.Fatalf("bob establishing channel to mallory: %v", err)
	}

	guarded := &recordingWorker{received: make(chan *router.Message, 4)}
	guardedAddr := router.NewAddress("guarded")
	ac := access.NewIdentityAccessControl(alice.Identifier())
	rtr.Spawn(guardedAddr, guarded, ac, router.AllowAll{})

	// Case 1: known participant (alice) reaches the guarded worker
	// through her established channel to bob.
	callerAddr := router.NewAddress("caller")
	caller := rtr.NewDetached(callerAddr, router.AllowAll{}, router.AllowAll{})
	if err := caller.Send(router.NewRoute(aliceEnc, guardedAddr), []byte("from-alice")); err != nil {
		t.Fatalf("send via alice's channel: %v", err)
	}
	select {
	case msg := <-guarded.received:
		if string(msg.Payload) != "from-alice" {
			t.Fatalf("payload = %q, want %q", msg.Payload, "from-alice")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected alice's message to be admitted")
	}

	// Case 2: a message arriving over a different, legitimately
	// established channel — mallory's decryptor verifies the sender as
	// bob, not alice — is dropped, since the guarded worker only admits
	// alice.
	if err := caller.Send(router.NewRoute(malloryCallerEnc, guardedAddr), []byte("from-bob-via-mallory")); err != nil {
		t.Fatalf("send via bob's channel to mallory: %v", err)
	}
	select {
	case msg := <-guarded.received:
		t.Fatalf("unexpected-peer message should have been dropped, got %q", msg.Payload)
	case <-time.After(300 * time.Millisecond):
	}

	// Case 3: a message that never crossed any secure channel (direct
	// send, no LocalInfo at all) is dropped.
	if err := caller.Send(router.NewRoute(guardedAddr), []byte("direct")); err != nil {
		t.Fatalf("direct send: %v", err)
	}
	select {
	case msg := <-guarded.received:
		t.Fatalf("direct message should have been dropped, got %q", msg.Payload)
	case <-time.After(300 * time.Millisecond):
	}
}
