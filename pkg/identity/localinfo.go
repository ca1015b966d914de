package identity

// SecureChannelLocalInfo is attached by a Decryptor to every message
// it delivers, letting downstream workers and access-control
// predicates discover which identity authenticated the channel the
// message arrived over (spec section 6, "LocalInfo").
type SecureChannelLocalInfo struct {
	TheirIdentifier Identifier
}
