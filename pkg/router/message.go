package router

// Message is the unit of communication between workers. Onward is the
// remaining forward route (consumed head-first as the message hops);
// Return is the route accumulated so far, used to reply. Payload is
// the application- or protocol-level body. Local carries markers
// attached by trusted intermediaries (e.g. a Decryptor attaching the
// verified peer identifier) that downstream workers and access
// control predicates can inspect but that never travel on the wire.
type Message struct {
	Onward  Route
	Return  Route
	Payload []byte
	Local   []any
}

// NewMessage builds a Message addressed by onward, with an empty
// return route and no local info.
func NewMessage(onward Route, payload []byte) *Message {
	return &Message{
		Onward:  onward,
		Return:  nil,
		Payload: payload,
	}
}

// WithLocalInfo returns a shallow copy of the message with info
// appended to its local info list.
func (m *Message) WithLocalInfo(info any) *Message {
	out := *m
	out.Local = append(append([]any{}, m.Local...), info)
	return &out
}

// LocalInfoOf returns the first local info value of type T attached to
// the message, and whether one was found.
func LocalInfoOf[T any](m *Message) (T, bool) {
	var zero T
	for _, v := range m.Local {
		if t, ok := v.(T); ok {
			return t, true
		}
	}
	return zero, false
}

// Step consumes the next onward hop, pushing addr onto the return
// route as the message advances one step forward.
func (m *Message) Step(addr Address) (next Address, rest *Message) {
	var hop Address
	hop, m.Onward = m.Onward.Step()
	m.Return = m.Return.Prepend(addr)
	return hop, m
}
