package router

import (
	"fmt"
	"time"

	"github.com/ockam-go/securechannel/pkg/errkind"
)

// Context is the handle a worker (or a detached caller, e.g. a test
// harness or an API client) uses to send and receive routed messages.
// Every Send is a suspension point: it enqueues onto a mailbox and
// returns without waiting for the recipient to process it. Receive is
// also a suspension point: it blocks until a message arrives or the
// context's mailbox is stopped.
type Context struct {
	router *Router
	addr   Address
	mb     *mailbox
}

// Address returns this context's own local address.
func (c *Context) Address() Address { return c.addr }

// Send delivers payload to route, tagging the return route with this
// context's own address — mirroring the convention that a sender
// includes its own address as the final hop when it expects a reply.
func (c *Context) Send(route Route, payload []byte) error {
	return c.SendMessage(&Message{
		Onward:  route,
		Return:  Route{c.addr},
		Payload: payload,
	})
}

// SendMessage sends a fully constructed message, honoring this
// context's outgoing access control predicate. A denied send is
// dropped silently, matching spec section 4.8's delivery policy.
func (c *Context) SendMessage(msg *Message) error {
	if !c.mb.outgoing.IsAuthorized(msg) {
		return nil
	}
	return c.router.dispatch(msg)
}

// Receive blocks until a message arrives on this context's mailbox.
func (c *Context) Receive() (*Message, error) {
	select {
	case msg, ok := <-c.mb.ch:
		if !ok {
			return nil, fmt.Errorf("router: mailbox %q closed", c.addr)
		}
		return msg, nil
	case <-c.mb.closed:
		return nil, fmt.Errorf("router: mailbox %q closed", c.addr)
	}
}

// ReceiveTimeout blocks until a message arrives, the mailbox is
// stopped, or d elapses (returning errkind.ErrTimeout).
func (c *Context) ReceiveTimeout(d time.Duration) (*Message, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case msg, ok := <-c.mb.ch:
		if !ok {
			return nil, fmt.Errorf("router: mailbox %q closed", c.addr)
		}
		return msg, nil
	case <-c.mb.closed:
		return nil, fmt.Errorf("router: mailbox %q closed", c.addr)
	case <-timer.C:
		return nil, fmt.Errorf("router: receive on %q: %w", c.addr, errkind.ErrTimeout)
	}
}

// Router returns the owning router, for workers that need to spawn
// further workers (e.g. a Listener spawning a Responder).
func (c *Context) Router() *Router { return c.router }

// Stop deallocates this context's own address.
func (c *Context) Stop() {
	c.router.Stop(c.addr)
}
