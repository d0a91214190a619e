// Package cryptoops is the narrow binding over the NaCl authenticated
// encryption primitives that the CURVE handshake and message codec are
// built on: key-pair generation, shared-key precomputation, box/open under
// a precomputed key, the symmetric cookie seal, and constant-time
// comparison. Nothing above this package touches a NaCl function directly.
package cryptoops

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the width of every CURVE public key, secret key, and shared key.
const KeySize = 32

// NonceSize is the width of a fully-formed crypto nonce (label || short_nonce).
const NonceSize = 24

// TagSize is the width of the Poly1305 authentication tag appended by box/secretbox.
const TagSize = 16

var (
	// ErrOpenFailed is returned by Open/SecretOpen on authentication failure.
	// It never distinguishes truncation from a bad tag, by design.
	ErrOpenFailed = errors.New("cryptoops: authenticated decryption failed")
)

// KeyPair is a CURVE X25519 key pair. Both halves are fixed-size arrays so
// that callers can't accidentally pass a slice of the wrong length where a
// key is expected.
type KeyPair struct {
	Public [KeySize]byte
	Secret [KeySize]byte
}

// GenerateKeyPair produces a fresh, uniformly random key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	kp := KeyPair{Public: *pub, Secret: *sec}
	return kp, nil
}

// Wipe zeroes both halves of the key pair. Callers must not use kp after
// calling Wipe.
func (kp *KeyPair) Wipe() {
	wipe(kp.Public[:])
	wipe(kp.Secret[:])
}

// Precompute derives the shared key used for box/open between a remote
// public key and a local secret key. The result is symmetric: precomputing
// with (pkA, skB) yields the same key as (pkB, skA) for the matching pair.
func Precompute(remotePublic, localSecret *[KeySize]byte) *[KeySize]byte {
	var shared [KeySize]byte
	box.Precompute(&shared, remotePublic, localSecret)
	return &shared
}

// Seal authenticates and encrypts plaintext under a precomputed shared key
// and a fully-formed 24-byte nonce, returning ciphertext||tag.
func Seal(shared *[KeySize]byte, nonce *[NonceSize]byte, plaintext []byte) []byte {
	return box.SealAfterPrecomputation(nil, plaintext, nonce, shared)
}

// Open authenticates and decrypts a box sealed with Seal under the same
// shared key and nonce. Returns ErrOpenFailed on any tag mismatch, without
// distinguishing the reason.
func Open(shared *[KeySize]byte, nonce *[NonceSize]byte, ciphertext []byte) ([]byte, error) {
	plaintext, ok := box.OpenAfterPrecomputation(nil, ciphertext, nonce, shared)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// SecretSeal authenticates and encrypts plaintext under a symmetric key
// (used for the server's cookie, which is not a key-pair box but a value
// the server seals only to itself).
func SecretSeal(key *[KeySize]byte, nonce *[NonceSize]byte, plaintext []byte) []byte {
	return secretbox.Seal(nil, plaintext, nonce, key)
}

// SecretOpen is the inverse of SecretSeal.
func SecretOpen(key *[KeySize]byte, nonce *[NonceSize]byte, ciphertext []byte) ([]byte, error) {
	plaintext, ok := secretbox.Open(nil, ciphertext, nonce, key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}

// RandomBytes returns n cryptographically random bytes, panicking if the
// system RNG is unavailable: there is no sane recovery from a broken
// entropy source.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if n == 0 {
		return b
	}
	if _, err := rand.Read(b); err != nil {
		panic("cryptoops: failed to read crypto randomness: " + err.Error())
	}
	return b
}

// ConstantTimeEqual reports whether a and b are equal in time independent of
// their contents, for inputs of equal length. Unequal lengths are reported
// unequal without a length-dependent timing signal beyond the length
// comparison itself.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
