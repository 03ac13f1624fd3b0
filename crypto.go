package opensdg

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// sealAfterPrecomputation seals plaintext under a precomputed shared key and
// the given nonce, appending box.Overhead bytes of Poly1305 authenticator.
// This is the Go translation of crypto_box_afternm: the original C padding
// convention (BOXZEROBYTES of leading zero plaintext, ZEROBYTES of leading
// zero ciphertext) is handled internally by the box package and never
// appears on the wire or in this code.
func sealAfterPrecomputation(plaintext []byte, nonce [24]byte, shared *[32]byte) []byte {
	return box.SealAfterPrecomputation(nil, plaintext, &nonce, shared)
}

// openAfterPrecomputation opens a box sealed by sealAfterPrecomputation.
// Returns ErrDecryption if authentication fails.
func openAfterPrecomputation(ciphertext []byte, nonce [24]byte, shared *[32]byte) ([]byte, error) {
	plaintext, ok := box.OpenAfterPrecomputation(nil, ciphertext, &nonce, shared)
	if !ok {
		return nil, newError(ErrDecryption, "box authentication failed")
	}
	return plaintext, nil
}

// precompute derives a shared secret from one side's private key and the
// other side's public key. handleCOOK calls it once per handshake for the
// client-ephemeral×server-ephemeral session key, which is cached in
// Connection.beforenm and used for VOCH, REDY and every MESG; the cookie
// and inner vouch boxes use sealBox/openBox without precomputation.
func precompute(theirPublic, ourPrivate Key) [32]byte {
	var shared [32]byte
	box.Precompute(&shared, (*[32]byte)(&theirPublic), (*[32]byte)(&ourPrivate))
	return shared
}

// sealBox seals plaintext from scratch (no precomputed key), used only for
// the one-off inner vouch box nested inside VOCH.
func sealBox(plaintext []byte, nonce [24]byte, peerPublic, ourPrivate *Key) []byte {
	return box.Seal(nil, plaintext, &nonce, (*[32]byte)(peerPublic), (*[32]byte)(ourPrivate))
}

func openBox(ciphertext []byte, nonce [24]byte, peerPublic, ourPrivate *Key) ([]byte, error) {
	plaintext, ok := box.Open(nil, ciphertext, &nonce, (*[32]byte)(peerPublic), (*[32]byte)(ourPrivate))
	if !ok {
		return nil, newError(ErrDecryption, "box authentication failed")
	}
	return plaintext, nil
}

// generateEphemeralKeypair mints a fresh Curve25519 keypair for one
// handshake attempt. Unlike the long-term Keypair, this is never persisted
// and is zeroed when the connection closes.
func generateEphemeralKeypair() (Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Public: Key(*pub), Private: Key(*priv)}, nil
}

// scalarBaseMult is exposed for tests that need to double-check
// DerivePublicKey against the raw primitive.
func scalarBaseMult(secret Key) Key {
	var pub Key
	curve25519.ScalarBaseMult((*[32]byte)(&pub), (*[32]byte)(&secret))
	return pub
}
