package cryptoops

import "golang.org/x/crypto/curve25519"

// scalarBaseMult computes the X25519 public key corresponding to secret,
// i.e. secret * basepoint. It panics only if curve25519 rejects the input
// length, which cannot happen given the fixed-size array argument.
func scalarBaseMult(secret *[KeySize]byte) *[KeySize]byte {
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		panic("cryptoops: scalar base mult: " + err.Error())
	}
	var out [KeySize]byte
	copy(out[:], pub)
	return &out
}
