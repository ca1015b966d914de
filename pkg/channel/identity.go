package channel

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ockam-go/securechannel/pkg/access"
	"github.com/ockam-go/securechannel/pkg/errkind"
	"github.com/ockam-go/securechannel/pkg/identity"
	"github.com/ockam-go/securechannel/pkg/router"
	"github.com/ockam-go/securechannel/pkg/vault"
)

// Identity is the orchestrator of spec section 4.2: it owns one
// static signing identity, the channel registry every handshake it
// completes is recorded in, and the two entry points
// (CreateSecureChannelListener, CreateSecureChannel) that drive
// handshakes to completion. It is grounded on the teacher's
// pkg/securechannel handshake managers, generalized from Matter's
// per-fabric NOC identity to the spec's single signed static key.
type Identity struct {
	v      vault.Vault
	rtr    *router.Router
	signer identityKeys

	registry *Registry
	observer StatusObserver
	sessions *access.Sessions
}

// Config configures Identity.Create.
type Config struct {
	// MaxChannels bounds the channel registry's resident size. Zero
	// selects DefaultMaxEntries.
	MaxChannels int
	// Observer, if non-nil, receives unsolicited channel-close
	// notifications (spec section 7 / DESIGN.md supplemented feature).
	Observer StatusObserver
	// Sessions, if non-nil, is the process-wide session registry (spec
	// section 4.8) every listener, handshake and channel address this
	// identity creates registers into, so a SessionOutgoingAccessControl
	// elsewhere in the process can gate delivery on lineage to one of
	// this identity's channels.
	Sessions *access.Sessions
}

// Create generates a fresh signing key pair and returns an Identity
// bound to it.
func Create(v vault.Vault, rtr *router.Router, cfg Config) (*Identity, error) {
	signingHandle, err := v.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	pub, err := v.PublicKey(signingHandle)
	if err != nil {
		return nil, err
	}
	id := identity.DeriveIdentifier(v, pub)
	return &Identity{
		v:        v,
		rtr:      rtr,
		signer:   identityKeys{signingHandle: signingHandle, staticPublic: pub, identifier: id},
		registry: NewRegistry(cfg.MaxChannels),
		observer: cfg.Observer,
		sessions: cfg.Sessions,
	}, nil
}

// Identifier returns this identity's public, verifiable identifier.
func (id *Identity) Identifier() identity.Identifier { return id.signer.identifier }

// SecureChannelRegistry returns the registry of every channel this
// identity has established.
func (id *Identity) SecureChannelRegistry() *Registry { return id.registry }

// CreateSecureChannelListener spawns a Listener at listenAddr that
// accepts inbound handshakes and authenticates the initiator against
// policy (spec section 4.3). If Config.Sessions is set, the listener's
// own address is registered as a fresh, top-level session.
func (id *Identity) CreateSecureChannelListener(listenAddr router.Address, policy identity.TrustPolicy) *router.Context {
	ctx, _ := id.createListener(listenAddr, policy, "")
	return ctx
}

// CreateSecureChannelListenerUnderSession behaves like
// CreateSecureChannelListener, but ties the new listener's own session
// tag to spawnerAddr rather than starting a fresh top-level lineage —
// for a listener spawned dynamically by another session-tracked
// worker. Requires Config.Sessions to be set and spawnerAddr to
// already be a registered session; otherwise it fails synchronously
// with errkind.ErrSessionInconsistency and spawns nothing (spec
// section 7: "SessionInconsistency surfaces synchronously at
// construction").
func (id *Identity) CreateSecureChannelListenerUnderSession(listenAddr router.Address, policy identity.TrustPolicy, spawnerAddr router.Address) (*router.Context, error) {
	return id.createListener(listenAddr, policy, spawnerAddr)
}

func (id *Identity) createListener(listenAddr router.Address, policy identity.TrustPolicy, spawnerAddr router.Address) (*router.Context, error) {
	if spawnerAddr != "" && id.sessions == nil {
		return nil, fmt.Errorf("channel: listener %s: spawner session given but no Sessions configured: %w", listenAddr, errkind.ErrSessionInconsistency)
	}
	l := NewListener(id, policy)
	ctx := id.rtr.Spawn(listenAddr, l, router.AllowAll{}, router.AllowAll{})
	if id.sessions != nil {
		if spawnerAddr != "" {
			if _, err := id.sessions.RegisterSpawnedStrict(listenAddr, spawnerAddr); err != nil {
				id.rtr.Stop(listenAddr)
				return nil, err
			}
		} else {
			id.sessions.Register(listenAddr, access.NewSessionId())
		}
	}
	return ctx, nil
}

// CreateSecureChannel initiates a handshake to peerRoute (the route to
// the peer's listener address), authenticating the responder against
// policy. It retries on errkind.ErrPeerUnreachable using an exponential
// backoff (grounded on the teacher's dial-retry convention), up to
// maxElapsed, and returns the address of the local Encryptor once the
// channel is Established (spec section 4.2).
func (id *Identity) CreateSecureChannel(peerRoute router.Route, policy identity.TrustPolicy, maxElapsed time.Duration) (router.Address, error) {
	var result router.Address
	op := func() error {
		addr, err := id.runInitiator(peerRoute, policy)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = addr
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	if err := backoff.Retry(op, b); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return "", perm.Err
		}
		return "", err
	}
	return result, nil
}

func isRetryable(err error) bool {
	return err != nil && (errkind.Is(err, errkind.ErrPeerUnreachable) || errkind.Is(err, errkind.ErrTimeout))
}

// runInitiator drives one attempt of the initiator side of the
// handshake over the router, using a fresh ephemeral address that —
// on success — becomes this channel's permanent Decryptor address, so
// the responder's already-learned reply route keeps working for the
// lifetime of the channel rather than only for the handshake.
func (id *Identity) runInitiator(peerRoute router.Route, policy identity.TrustPolicy) (router.Address, error) {
	initAddr := router.NewAddress("initiator")
	ctx := id.rtr.NewDetached(initAddr, router.AllowAll{}, router.AllowAll{})
	if id.sessions != nil {
		id.sessions.Register(initAddr, access.NewSessionId())
	}

	msg1Bytes, ephemeral, err := buildMessage1(id.v)
	if err != nil {
		id.rtr.Stop(initAddr)
		return "", err
	}
	if err := ctx.Send(peerRoute, msg1Bytes); err != nil {
		id.rtr.Stop(initAddr)
		return "", err
	}
	reply, err := ctx.ReceiveTimeout(HandshakeTimeout)
	if err != nil {
		id.rtr.Stop(initAddr)
		return "", fmt.Errorf("channel: awaiting handshake message 2: %w", err)
	}
	responderReturnRoute := reply.Return

	outcome, err := finishInitiator(id.v, id.signer, policy, ephemeral, msg1Bytes, reply.Payload)
	if err != nil {
		id.rtr.Stop(initAddr)
		return "", err
	}
	if err := ctx.Send(responderReturnRoute, outcome.msg3Bytes); err != nil {
		id.rtr.Stop(initAddr)
		return "", err
	}

	return id.install(ctx, RoleInitiator, outcome.result, responderReturnRoute)
}

// runResponder drives the responder side of a handshake accepted by a
// Listener, over its own ephemeral detached context, which — on
// success — becomes this channel's permanent Decryptor address.
func (id *Identity) runResponder(ctx *router.Context, policy identity.TrustPolicy, initiatorReturnRoute router.Route, msg1Bytes []byte) {
	msg2Bytes, pending, err := respondToMessage1(id.v, id.signer, msg1Bytes)
	if err != nil {
		id.rtr.Stop(ctx.Address())
		return
	}
	if err := ctx.Send(initiatorReturnRoute, msg2Bytes); err != nil {
		id.rtr.Stop(ctx.Address())
		return
	}
	reply, err := ctx.ReceiveTimeout(HandshakeTimeout)
	if err != nil {
		id.rtr.Stop(ctx.Address())
		return
	}

	result, err := finishResponder(id.v, id.signer, policy, pending, reply.Payload)
	if err != nil {
		id.rtr.Stop(ctx.Address())
		return
	}

	id.install(ctx, RoleResponder, result, initiatorReturnRoute)
}

// install spawns the channel's Encryptor at a fresh local address and
// starts the Decryptor directly on decCtx — the same context used
// during the handshake, so its address keeps meaning "the Decryptor
// for this channel" to the peer without either side needing to
// exchange a second, post-handshake address. It records the channel
// and returns the local Encryptor address.
func (id *Identity) install(decCtx *router.Context, role Role, result handshakeResult, transportRoute router.Route) (router.Address, error) {
	encAddr := router.NewAddress("encryptor")
	encAPIAddr := router.NewAddress("encryptor-api")
	decAPIAddr := router.NewAddress("decryptor-api")

	rec := &Record{
		EncryptorAddress:    encAddr,
		DecryptorAddress:    decCtx.Address(),
		EncryptorAPIAddress: encAPIAddr,
		DecryptorAPIAddress: decAPIAddr,
		Role:                role,
		MyIdentifier:        id.signer.identifier,
		TheirIdentifier:     result.theirIdentifier,
		SendKeys:            &DirectionalKeys{Key: result.sendKey, RecvHighWater: -1},
		RecvKeys:            &DirectionalKeys{Key: result.recvKey, RecvHighWater: -1},
	}
	rec.SetState(StateEstablished)

	if !id.registry.Insert(rec) {
		id.rtr.Stop(decCtx.Address())
		return "", fmt.Errorf("channel: registry for %s: %w", id.signer.identifier, errkind.ErrSessionTableFull)
	}

	onClose := func(reason error) {
		id.registry.Remove(rec)
		id.rtr.Stop(rec.EncryptorAddress)
		id.rtr.Stop(rec.DecryptorAddress)
		id.rtr.Stop(rec.EncryptorAPIAddress)
		id.rtr.Stop(rec.DecryptorAPIAddress)
		if id.sessions != nil {
			id.sessions.Unregister(rec.EncryptorAddress)
			id.sessions.Unregister(rec.DecryptorAddress)
			id.sessions.Unregister(rec.EncryptorAPIAddress)
			id.sessions.Unregister(rec.DecryptorAPIAddress)
		}
		if id.observer != nil {
			id.observer.OnChannelClosed(rec, reason)
		}
	}

	if id.sessions != nil {
		spawner := decCtx.Address()
		id.sessions.RegisterSpawnedStrict(encAddr, spawner)
		id.sessions.RegisterSpawnedStrict(encAPIAddr, spawner)
		id.sessions.RegisterSpawnedStrict(decAPIAddr, spawner)
	}

	enc := NewEncryptor(id.v, rec, transportRoute, func() {})
	dec := NewDecryptor(id.v, rec, encAddr, onClose)

	id.rtr.Spawn(encAddr, enc, router.AllowAll{}, router.AllowAll{})
	id.rtr.Spawn(encAPIAddr, encryptorAPIWorker{enc: enc}, router.AllowAll{}, router.AllowAll{})
	id.rtr.Spawn(decAPIAddr, decryptorAPIWorker{dec: dec}, router.AllowAll{}, router.AllowAll{})
	go runWorkerLoop(decCtx, dec)

	return encAddr, nil
}

// runWorkerLoop drives w's handler over an already-live context,
// mirroring Router.Spawn's loop for a context that was created via
// NewDetached (so its address can be chosen and used before the
// worker that will own it is known — here, reused from the handshake
// that established the channel).
func runWorkerLoop(ctx *router.Context, w router.Worker) {
	for {
		msg, err := ctx.Receive()
		if err != nil {
			return
		}
		w.HandleMessage(ctx, msg)
	}
}
