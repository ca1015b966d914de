// Package vault is the capability boundary for every cryptographic
// primitive the secure channel subsystem uses: key generation,
// signing, key agreement, key derivation, authenticated encryption
// and hashing. Callers only ever hold opaque Handle values; no raw
// key bytes escape the vault. This mirrors the teacher's pkg/crypto
// Chapter-3-style primitive catalogue, adapted from Matter's P-256 /
// AES-CCM stack to the Noise-XX-shaped primitives this subsystem
// needs: X25519 for key agreement, Ed25519 for signatures,
// ChaCha20-Poly1305 for AEAD, HKDF-SHA256 for the key schedule.
package vault

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ockam-go/securechannel/pkg/errkind"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeyPurpose distinguishes the algebra a key handle participates in,
// so the vault can reject a handle used for the wrong operation.
type KeyPurpose int

const (
	// PurposeSigning keys are Ed25519 and used with Sign/Verify.
	PurposeSigning KeyPurpose = iota
	// PurposeAgreement keys are X25519 and used with ECDH.
	PurposeAgreement
	// PurposeAEAD keys are 32-byte ChaCha20-Poly1305 keys, produced
	// only by HKDF.
	PurposeAEAD
)

const (
	// X25519KeySize is the size, in bytes, of an X25519 scalar or
	// public key.
	X25519KeySize = 32
	// AEADKeySize is the ChaCha20-Poly1305 key size in bytes.
	AEADKeySize = chacha20poly1305.KeySize
	// AEADNonceSize is the ChaCha20-Poly1305 nonce size in bytes. The
	// wire format (spec section 6) carries an 8-byte counter; it is
	// left-padded with zeroes to this size before use as a nonce.
	AEADNonceSize = chacha20poly1305.NonceSize
	// AEADTagSize is the authentication tag appended to every
	// ciphertext.
	AEADTagSize = 16
	// DigestSize is the SHA-256 output size in bytes.
	DigestSize = sha256.Size
)

// Vault is the capability interface the rest of the subsystem programs
// against. SoftwareVault is the only implementation provided; the
// interface exists so a hardware-backed vault (which may suspend, per
// spec section 5) can be substituted without changing callers.
type Vault interface {
	// GenerateSigningKey creates a fresh Ed25519 key pair and returns a
	// handle to it.
	GenerateSigningKey() (Handle, error)
	// GenerateAgreementKey creates a fresh X25519 key pair and returns
	// a handle to it.
	GenerateAgreementKey() (Handle, error)

	// PublicKey returns the public key bytes for a signing or
	// agreement handle.
	PublicKey(h Handle) ([]byte, error)

	// Sign produces a signature over message using the signing key
	// behind h.
	Sign(h Handle, message []byte) ([]byte, error)
	// Verify checks a signature over message against a bare public key
	// (verification never needs a handle: the peer's public key is not
	// secret).
	Verify(pubKey, message, sig []byte) bool

	// ECDH performs X25519 agreement between the agreement key behind
	// h and peerPublicKey, returning a handle to the shared secret.
	ECDH(h Handle, peerPublicKey []byte) (Handle, error)

	// HKDF runs HKDF-SHA256 over the input keying material behind ikm,
	// producing n independent AEAD-purpose key handles.
	HKDF(ikm Handle, salt, info []byte, n int) ([]Handle, error)

	// AEADSeal seals plaintext under the AEAD key behind h.
	AEADSeal(h Handle, nonce, aad, plaintext []byte) ([]byte, error)
	// AEADOpen opens ciphertext under the AEAD key behind h. Returns
	// errkind.ErrAuthenticationFailed when the tag does not verify.
	AEADOpen(h Handle, nonce, aad, ciphertext []byte) ([]byte, error)

	// Hash computes a SHA-256 digest.
	Hash(data []byte) [DigestSize]byte

	// Retain increments h's reference count so a second owner (e.g. a
	// ChannelRegistry entry alongside the worker that shares its keys)
	// can hold and later Close it independently.
	Retain(h Handle) error

	// Close releases one reference to h, zeroizing key material when
	// no references remain.
	Close(h Handle) error
}

// Handle is an opaque, non-forgeable reference to key material held
// inside a Vault. The zero Handle is invalid.
type Handle struct {
	id      uint64
	purpose KeyPurpose
}

// IsValid reports whether h refers to live key material.
func (h Handle) IsValid() bool { return h.id != 0 }

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("vault: reading randomness: %w: %v", errkind.ErrVaultError, err)
	}
	return b, nil
}

func x25519Public(scalar []byte) ([]byte, error) {
	pub, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("vault: deriving x25519 public key: %w: %v", errkind.ErrVaultError, err)
	}
	return pub, nil
}

func ed25519GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: generating ed25519 key: %w: %v", errkind.ErrVaultError, err)
	}
	return pub, priv, nil
}

func hkdfExpand(ikm, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("vault: hkdf expand: %w: %v", errkind.ErrVaultError, err)
	}
	return out, nil
}
