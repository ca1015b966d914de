package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/ockam-go/securechannel/pkg/errkind"
	"github.com/pion/logging"
)

// Router is a single process's message-passing runtime: a registry of
// mailboxes plus the goroutines driving each worker's handler loop. In
// tests, two identities typically share one Router (the routing
// substrate is what models the network); pkg/transport bridges two
// separate Router instances over a real byte-stream carrier.
type Router struct {
	logger logging.LeveledLogger

	mu        sync.RWMutex
	mailboxes map[Address]*mailbox

	wg sync.WaitGroup
}

// Config configures a Router.
type Config struct {
	// Logger receives the errors worker handlers return, logged at
	// debug level. Defaults to the "router" logger of pion's default
	// logger factory.
	Logger logging.LeveledLogger
}

// New creates a Router ready to spawn workers.
func New(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefaultLoggerFactory().NewLogger("router")
	}
	return &Router{
		logger:    cfg.Logger,
		mailboxes: make(map[Address]*mailbox),
	}
}

// Spawn registers addr, starts a goroutine running w's handler loop
// over its mailbox, and returns a Context bound to addr.
func (r *Router) Spawn(addr Address, w Worker, incoming, outgoing AccessControl) *Context {
	mb := newMailbox(addr, incoming, outgoing)
	r.mu.Lock()
	r.mailboxes[addr] = mb
	r.mu.Unlock()

	ctx := &Context{router: r, addr: addr, mb: mb}
	r.wg.Add(1)
	go r.run(ctx, w)
	return ctx
}

// NewDetached registers addr without a handler loop; the caller reads
// via Context.Receive/ReceiveTimeout directly. Used by test harnesses
// and by synchronous API request/response callers.
func (r *Router) NewDetached(addr Address, incoming, outgoing AccessControl) *Context {
	mb := newMailbox(addr, incoming, outgoing)
	r.mu.Lock()
	r.mailboxes[addr] = mb
	r.mu.Unlock()
	return &Context{router: r, addr: addr, mb: mb}
}

func (r *Router) run(ctx *Context, w Worker) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.mb.closed:
			return
		case msg, ok := <-ctx.mb.ch:
			if !ok {
				return
			}
			if err := w.HandleMessage(ctx, msg); err != nil {
				r.logger.Debugf("worker %s: %v", ctx.addr, err)
			}
		}
	}
}

// dispatch routes msg to its next hop's mailbox.
func (r *Router) dispatch(msg *Message) error {
	addr, rest := msg.Onward.Step()
	if addr == "" {
		return fmt.Errorf("router: empty onward route: %w", errkind.ErrPeerUnreachable)
	}
	msg.Onward = rest

	r.mu.RLock()
	mb, ok := r.mailboxes[addr]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("router: no worker at %q: %w", addr, errkind.ErrPeerUnreachable)
	}
	if !mb.incoming.IsAuthorized(msg) {
		// Denied by the recipient's incoming predicate: dropped silently.
		return nil
	}
	if !mb.deliver(msg) {
		return fmt.Errorf("router: delivery to %q dropped, mailbox closed or full: %w", addr, errkind.ErrPeerUnreachable)
	}
	return nil
}

// Stop deallocates addr: its mailbox is closed and removed, causing
// any blocked Receive to return and the worker's run loop to exit
// after draining its current handler.
func (r *Router) Stop(addr Address) {
	r.mu.Lock()
	mb, ok := r.mailboxes[addr]
	if ok {
		delete(r.mailboxes, addr)
	}
	r.mu.Unlock()
	if ok {
		mb.stop()
	}
}

// Has reports whether addr currently has a live mailbox.
func (r *Router) Has(addr Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mailboxes[addr]
	return ok
}

// SendAndReceive sends payload to route from a fresh, ephemeral
// address and blocks for the response routed back to it, implementing
// the API request/response pattern used by the Encryptor/Decryptor
// administrative endpoints.
func (r *Router) SendAndReceive(route Route, payload []byte, timeout time.Duration) ([]byte, error) {
	tmp := r.NewDetached(NewAddress("reply"), AllowAll{}, AllowAll{})
	defer r.Stop(tmp.Address())

	if err := tmp.Send(route, payload); err != nil {
		return nil, err
	}
	msg, err := tmp.ReceiveTimeout(timeout)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// Shutdown stops every currently registered address and waits for all
// worker run loops to exit. Models the spec's "stop request propagates
// by closing worker mailboxes" cancellation semantics.
func (r *Router) Shutdown() {
	r.mu.Lock()
	addrs := make([]Address, 0, len(r.mailboxes))
	for a := range r.mailboxes {
		addrs = append(addrs, a)
	}
	r.mu.Unlock()

	for _, a := range addrs {
		r.Stop(a)
	}
	r.wg.Wait()
}
