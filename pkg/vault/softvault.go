package vault

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/ockam-go/securechannel/pkg/errkind"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// keyEntry holds the raw secret bytes behind a Handle. refs tracks how
// many holders (the vault's own allocator plus any caller that
// Retain()s the handle, e.g. a ChannelRegistry entry and its
// Encryptor/Decryptor worker sharing one directional key) are keeping
// the key alive; it is zeroized once refs drops to zero.
type keyEntry struct {
	purpose KeyPurpose
	priv    []byte
	pub     []byte
	refs    int
}

// SoftwareVault is an in-process Vault backed by Go's standard and
// golang.org/x/crypto primitives. It is the only Vault implementation
// this module ships; a hardware-backed vault would satisfy the same
// interface and could suspend on I/O, per spec section 5.
type SoftwareVault struct {
	mu     sync.Mutex
	keys   map[uint64]*keyEntry
	nextID uint64
}

// New creates an empty SoftwareVault.
func New() *SoftwareVault {
	return &SoftwareVault{keys: make(map[uint64]*keyEntry)}
}

var _ Vault = (*SoftwareVault)(nil)

func (v *SoftwareVault) store(purpose KeyPurpose, priv, pub []byte) Handle {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := v.nextID
	v.keys[id] = &keyEntry{purpose: purpose, priv: priv, pub: pub, refs: 1}
	return Handle{id: id, purpose: purpose}
}

func (v *SoftwareVault) lookup(h Handle) (*keyEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.keys[h.id]
	if !ok {
		return nil, fmt.Errorf("vault: unknown handle: %w", errkind.ErrVaultError)
	}
	return e, nil
}

// GenerateSigningKey implements Vault.
func (v *SoftwareVault) GenerateSigningKey() (Handle, error) {
	pub, priv, err := ed25519GenerateKey()
	if err != nil {
		return Handle{}, err
	}
	return v.store(PurposeSigning, []byte(priv), []byte(pub)), nil
}

// GenerateAgreementKey implements Vault.
func (v *SoftwareVault) GenerateAgreementKey() (Handle, error) {
	scalar, err := randomBytes(X25519KeySize)
	if err != nil {
		return Handle{}, err
	}
	pub, err := x25519Public(scalar)
	if err != nil {
		return Handle{}, err
	}
	return v.store(PurposeAgreement, scalar, pub), nil
}

// PublicKey implements Vault.
func (v *SoftwareVault) PublicKey(h Handle) ([]byte, error) {
	e, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(e.pub))
	copy(out, e.pub)
	return out, nil
}

// Sign implements Vault.
func (v *SoftwareVault) Sign(h Handle, message []byte) ([]byte, error) {
	e, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	if e.purpose != PurposeSigning {
		return nil, fmt.Errorf("vault: handle is not a signing key: %w", errkind.ErrVaultError)
	}
	return ed25519.Sign(ed25519.PrivateKey(e.priv), message), nil
}

// Verify implements Vault. It takes a bare public key since a peer's
// public signing key is never secret and never held behind a handle.
func (v *SoftwareVault) Verify(pubKey, message, sig []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), message, sig)
}

// ECDH implements Vault.
func (v *SoftwareVault) ECDH(h Handle, peerPublicKey []byte) (Handle, error) {
	e, err := v.lookup(h)
	if err != nil {
		return Handle{}, err
	}
	if e.purpose != PurposeAgreement {
		return Handle{}, fmt.Errorf("vault: handle is not an agreement key: %w", errkind.ErrVaultError)
	}
	shared, err := curve25519.X25519(e.priv, peerPublicKey)
	if err != nil {
		return Handle{}, fmt.Errorf("vault: ecdh: %w: %v", errkind.ErrVaultError, err)
	}
	return v.store(PurposeAgreement, shared, nil), nil
}

// HKDF implements Vault.
func (v *SoftwareVault) HKDF(ikm Handle, salt, info []byte, n int) ([]Handle, error) {
	if n <= 0 {
		return nil, fmt.Errorf("vault: hkdf requires n>0: %w", errkind.ErrVaultError)
	}
	e, err := v.lookup(ikm)
	if err != nil {
		return nil, err
	}
	material, err := hkdfExpand(e.priv, salt, info, AEADKeySize*n)
	if err != nil {
		return nil, err
	}
	out := make([]Handle, n)
	for i := 0; i < n; i++ {
		key := make([]byte, AEADKeySize)
		copy(key, material[i*AEADKeySize:(i+1)*AEADKeySize])
		out[i] = v.store(PurposeAEAD, key, nil)
	}
	return out, nil
}

// AEADSeal implements Vault.
func (v *SoftwareVault) AEADSeal(h Handle, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := v.chacha(h)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADOpen implements Vault.
func (v *SoftwareVault) AEADOpen(h Handle, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := v.chacha(h)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("vault: aead open: %w", errkind.ErrAuthenticationFailed)
	}
	return plaintext, nil
}

func (v *SoftwareVault) chacha(h Handle) (cipher.AEAD, error) {
	e, err := v.lookup(h)
	if err != nil {
		return nil, err
	}
	if e.purpose != PurposeAEAD {
		return nil, fmt.Errorf("vault: handle is not an aead key: %w", errkind.ErrVaultError)
	}
	aead, err := chacha20poly1305.New(e.priv)
	if err != nil {
		return nil, fmt.Errorf("vault: constructing aead cipher: %w: %v", errkind.ErrVaultError, err)
	}
	return aead, nil
}

// Hash implements Vault.
func (v *SoftwareVault) Hash(data []byte) [DigestSize]byte {
	return sha256.Sum256(data)
}

// Retain increments h's reference count, for callers that keep a
// handle alive alongside its original allocator (e.g. a
// ChannelRegistry entry and the worker that shares its keys).
func (v *SoftwareVault) Retain(h Handle) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.keys[h.id]
	if !ok {
		return fmt.Errorf("vault: unknown handle: %w", errkind.ErrVaultError)
	}
	e.refs++
	return nil
}

// Close implements Vault: releases one reference to h, zeroizing the
// key material once no references remain.
func (v *SoftwareVault) Close(h Handle) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.keys[h.id]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	zero(e.priv)
	zero(e.pub)
	delete(v.keys, h.id)
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	subtle.ConstantTimeCopy(0, b, b) // no-op touch to discourage dead-store elimination
}
