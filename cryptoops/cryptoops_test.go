package cryptoops

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate alice: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate bob: %v", err)
	}

	aliceShared := Precompute(&bob.Public, &alice.Secret)
	bobShared := Precompute(&alice.Public, &bob.Secret)
	if *aliceShared != *bobShared {
		t.Fatal("precomputed shared keys differ between the two sides")
	}

	nonce := BuildNonce(LabelHello, RandomBytes(8))
	plaintext := []byte("the quick brown fox")
	box := Seal(aliceShared, nonce, plaintext)
	if len(box) != len(plaintext)+TagSize {
		t.Fatalf("box length = %d, want %d", len(box), len(plaintext)+TagSize)
	}

	opened, err := Open(bobShared, nonce, box)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedBox(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	shared := Precompute(&bob.Public, &alice.Secret)

	nonce := BuildNonce(LabelReady, RandomBytes(8))
	box := Seal(shared, nonce, []byte("payload"))
	box[3] ^= 0x01

	if _, err := Open(shared, nonce, box); err != ErrOpenFailed {
		t.Fatalf("err = %v, want ErrOpenFailed", err)
	}
}

func TestSecretSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], RandomBytes(KeySize))

	nonce := BuildNonce(LabelCookie, RandomBytes(16))
	plaintext := []byte("cookie contents")
	box := SecretSeal(&key, nonce, plaintext)

	opened, err := SecretOpen(&key, nonce, box)
	if err != nil {
		t.Fatalf("secret open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}

	var wrongKey [KeySize]byte
	copy(wrongKey[:], RandomBytes(KeySize))
	if _, err := SecretOpen(&wrongKey, nonce, box); err != ErrOpenFailed {
		t.Fatalf("err = %v, want ErrOpenFailed", err)
	}
}

func TestBuildNoncePanicsOnLengthMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on label/short-nonce length mismatch")
		}
	}()
	BuildNonce(LabelHello, RandomBytes(16)) // 16+16 != 24
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte{1, 2, 3}
	if !ConstantTimeEqual(a, []byte{1, 2, 3}) {
		t.Fatal("equal slices reported unequal")
	}
	if ConstantTimeEqual(a, []byte{1, 2, 4}) {
		t.Fatal("unequal slices reported equal")
	}
	if ConstantTimeEqual(a, []byte{1, 2}) {
		t.Fatal("slices of different length reported equal")
	}
}

func TestCredentialFromSecretDerivesMatchingPublic(t *testing.T) {
	generated, err := NewCredential()
	if err != nil {
		t.Fatalf("new credential: %v", err)
	}

	rebuilt, err := NewCredentialFromSecret(generated.Secret)
	if err != nil {
		t.Fatalf("from secret: %v", err)
	}
	if rebuilt.Public != generated.Public {
		t.Fatal("rebuilt public key does not match the generated one")
	}
	if rebuilt.ID() != generated.ID() {
		t.Fatalf("rebuilt ID %q != generated ID %q", rebuilt.ID(), generated.ID())
	}

	if _, err := NewCredentialFromSecret([KeySize]byte{}); err == nil {
		t.Fatal("expected zero secret to be rejected")
	}
}

func TestDeriveIDIsStableAndDistinct(t *testing.T) {
	a, _ := GenerateKeyPair()
	b, _ := GenerateKeyPair()

	if DeriveID(a.Public) != DeriveID(a.Public) {
		t.Fatal("DeriveID is not deterministic")
	}
	if DeriveID(a.Public) == DeriveID(b.Public) {
		t.Fatal("two distinct public keys derived the same ID")
	}
}

func TestWipeZeroesKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	kp.Wipe()
	if kp.Public != ([KeySize]byte{}) || kp.Secret != ([KeySize]byte{}) {
		t.Fatal("Wipe left key material behind")
	}
}
