package router

// Route is an ordered sequence of hop addresses, consumed head-first
// as a message traverses workers. The return route is built by
// prepending each hop's local address as the message travels forward.
type Route []Address

// NewRoute builds a Route from a sequence of addresses.
func NewRoute(addrs ...Address) Route {
	r := make(Route, len(addrs))
	copy(r, addrs)
	return r
}

// Next returns the first hop of the route, or "" if empty.
func (r Route) Next() Address {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

// Step removes and returns the first hop, and the remaining route.
func (r Route) Step() (Address, Route) {
	if len(r) == 0 {
		return "", nil
	}
	return r[0], r[1:]
}

// Prepend returns a new route with addr inserted at the front.
func (r Route) Prepend(addr Address) Route {
	out := make(Route, 0, len(r)+1)
	out = append(out, addr)
	out = append(out, r...)
	return out
}

// Clone returns a shallow copy of the route.
func (r Route) Clone() Route {
	out := make(Route, len(r))
	copy(out, r)
	return out
}
