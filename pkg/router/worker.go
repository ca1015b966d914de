package router

// Worker is anything that can handle an inbound routed message. A
// worker's HandleMessage is invoked serially with respect to itself —
// the scheduler never runs two deliveries to the same address
// concurrently — but distinct workers run concurrently with each
// other.
type Worker interface {
	HandleMessage(ctx *Context, msg *Message) error
}

// WorkerFunc adapts a plain function to the Worker interface, the way
// http.HandlerFunc adapts a function to http.Handler.
type WorkerFunc func(ctx *Context, msg *Message) error

// HandleMessage calls f.
func (f WorkerFunc) HandleMessage(ctx *Context, msg *Message) error { return f(ctx, msg) }
