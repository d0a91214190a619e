package cryptoops

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"errors"
)

// idMagic is the domain separator for the short, human-shareable ID derived
// from a permanent public key. It has no cryptographic role beyond domain
// separation — it is not a secret.
const idMagic = "CURVEZMQ_PERMANENT_ID_SHA256_V1"

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DeriveID derives a short, printable identifier from a CURVE permanent
// public key. Two different public keys are vanishingly unlikely to collide;
// the ID is for display/logging and operator tooling (see cmd/vanity-id),
// never for authentication — authentication always goes through the public
// key itself.
func DeriveID(publicKey [KeySize]byte) string {
	h := hmac.New(sha256.New, []byte(idMagic))
	h.Write(publicKey[:])
	sum := h.Sum(nil)
	return idEncoding.EncodeToString(sum[:16])
}

// Credential is the permanent identity a codec is constructed with: a
// long-term CURVE key pair and its derived short ID. It is an owned value — the codec that receives one via
// NewClient/NewServer/SetPermakey takes ownership and wipes the secret half
// on Destroy. Do not share a Credential across codecs.
type Credential struct {
	KeyPair
	id string
}

// NewCredential generates a fresh permanent key pair.
func NewCredential() (Credential, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return Credential{}, err
	}
	return Credential{KeyPair: kp, id: DeriveID(kp.Public)}, nil
}

// NewCredentialFromSecret builds a Credential from an existing 32-byte
// secret key, deriving the matching public key. Used when the permanent
// key is loaded from external storage: persistence is the caller's
// concern, this constructor just takes the raw bytes.
func NewCredentialFromSecret(secret [KeySize]byte) (Credential, error) {
	if secret == ([KeySize]byte{}) {
		return Credential{}, errors.New("cryptoops: zero secret key")
	}
	pub := derivePublic(&secret)
	return Credential{KeyPair: KeyPair{Public: *pub, Secret: secret}, id: DeriveID(*pub)}, nil
}

// ID returns the Credential's derived short identifier.
func (c Credential) ID() string { return c.id }

func derivePublic(secret *[KeySize]byte) *[KeySize]byte {
	// X25519 base-point scalar multiplication; box.GenerateKey does the
	// same thing internally but doesn't expose it for an existing secret,
	// so we recompute the public half the same way curve25519 does.
	return scalarBaseMult(secret)
}
