package opensdg

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

func TestBoxOverheadMatchesLibrary(t *testing.T) {
	if boxOverhead != box.Overhead {
		t.Fatalf("boxOverhead constant (%d) drifted from box.Overhead (%d)", boxOverhead, box.Overhead)
	}
}

// Round-trips a box the way handleCOOK/sendVOCH do: sealBox on one side,
// openBox on the other, no precomputation.
func TestSealOpenBoxRoundTrip(t *testing.T) {
	a, err := generateEphemeralKeypair()
	if err != nil {
		t.Fatalf("generateEphemeralKeypair: %v", err)
	}
	b, err := generateEphemeralKeypair()
	if err != nil {
		t.Fatalf("generateEphemeralKeypair: %v", err)
	}

	plaintext := []byte("opensdg handshake test payload")
	nonce := shortTermNonce(nonceClientHello, 42)
	ciphertext := sealBox(plaintext, nonce, &b.Public, &a.Private)

	opened, err := openBox(ciphertext, nonce, &a.Public, &b.Private)
	if err != nil {
		t.Fatalf("openBox: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestOpenBoxRejectsTamperedCiphertext(t *testing.T) {
	a, _ := generateEphemeralKeypair()
	b, _ := generateEphemeralKeypair()
	nonce := shortTermNonce(nonceClientHello, 1)
	ciphertext := sealBox([]byte("hello"), nonce, &b.Public, &a.Private)
	ciphertext[0] ^= 0xff

	if _, err := openBox(ciphertext, nonce, &a.Public, &b.Private); err == nil {
		t.Fatalf("expected decryption failure on tampered ciphertext")
	}
}

// precompute must be symmetric: both sides of a Diffie-Hellman exchange
// derive the same shared key regardless of which keypair is "ours".
func TestPrecomputeSymmetric(t *testing.T) {
	a, _ := generateEphemeralKeypair()
	b, _ := generateEphemeralKeypair()

	sharedA := precompute(b.Public, a.Private)
	sharedB := precompute(a.Public, b.Private)
	if sharedA != sharedB {
		t.Fatalf("precompute not symmetric")
	}
}

func TestSealOpenAfterPrecomputationRoundTrip(t *testing.T) {
	a, _ := generateEphemeralKeypair()
	b, _ := generateEphemeralKeypair()
	shared := precompute(b.Public, a.Private)

	plaintext := []byte{1, 2, 3, 4, 5}
	nonce := shortTermNonce(nonceClientMesg, 7)
	ciphertext := sealAfterPrecomputation(plaintext, nonce, &shared)

	opened, err := openAfterPrecomputation(ciphertext, nonce, &shared)
	if err != nil {
		t.Fatalf("openAfterPrecomputation: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestScalarBaseMultMatchesDerivePublicKey(t *testing.T) {
	k, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	if DerivePublicKey(k) != scalarBaseMult(k) {
		t.Fatalf("DerivePublicKey and scalarBaseMult disagree")
	}
}
