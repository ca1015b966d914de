package channel

// StatusObserver receives unsolicited lifecycle notifications about
// channels this Identity owns — supplemented feature: the distilled
// spec describes channel closure but not how an owner learns about it
// absent a failed send; grounded on the teacher's
// pkg/securechannel/unsolicited.go pattern of pushing session-closed
// events to a listener rather than making callers poll.
type StatusObserver interface {
	// OnChannelClosed is called once, when the Decryptor's
	// authentication-failure circuit breaker moves a channel to Closed.
	// Key exhaustion moves a channel to Closing without calling it, and
	// there is no explicit close operation that calls it.
	OnChannelClosed(rec *Record, reason error)
}

// StatusObserverFunc adapts a plain function to StatusObserver.
type StatusObserverFunc func(rec *Record, reason error)

// OnChannelClosed implements StatusObserver.
func (f StatusObserverFunc) OnChannelClosed(rec *Record, reason error) { f(rec, reason) }

var _ StatusObserver = StatusObserverFunc(nil)
