package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/ockam-go/securechannel/pkg/vault"
)

// Identifier is a stable fingerprint of an identity's root public key
// (spec section 3). Equality is byte equality.
type Identifier string

// identifierPrefix mirrors the teacher's convention of tagging
// identifiers with a human-recognizable prefix (Matter uses "NodeID",
// Ockam's own identifiers are prefixed "P"); ours are prefixed "I".
const identifierPrefix = "I"

// DeriveIdentifier computes the Identifier for a root public key by
// hashing it and hex-encoding the digest, prefixed for readability.
func DeriveIdentifier(v vault.Vault, rootPublicKey []byte) Identifier {
	digest := v.Hash(rootPublicKey)
	return Identifier(identifierPrefix + hex.EncodeToString(digest[:]))
}

// String implements fmt.Stringer.
func (id Identifier) String() string { return string(id) }

// Equal reports byte equality between two identifiers.
func (id Identifier) Equal(other Identifier) bool { return id == other }

// ParseIdentifier validates that s has the expected shape for an
// Identifier (prefix plus hex digest) without verifying it against any
// key — used when an identifier is supplied out of band, e.g. to
// TrustIdentifier.
func ParseIdentifier(s string) (Identifier, error) {
	if len(s) < len(identifierPrefix)+1 || s[:len(identifierPrefix)] != identifierPrefix {
		return "", fmt.Errorf("identity: malformed identifier %q", s)
	}
	if _, err := hex.DecodeString(s[len(identifierPrefix):]); err != nil {
		return "", fmt.Errorf("identity: malformed identifier %q: %w", s, err)
	}
	return Identifier(s), nil
}
