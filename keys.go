package opensdg

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the length in bytes of every Curve25519 key used by this
// package, long-term or ephemeral.
const KeySize = 32

// Key is a 32-byte Curve25519 key, public or private depending on context.
type Key [KeySize]byte

var zeroKey Key

func (k Key) isZero() bool {
	return k == zeroKey
}

// GeneratePrivateKey returns a fresh random private key, suitable for
// passing to Create. Key file persistence is a caller concern; this
// function only fills the bytes.
func GeneratePrivateKey() (Key, error) {
	var k Key
	_, err := io.ReadFull(rand.Reader, k[:])
	return k, err
}

// DerivePublicKey computes the Curve25519 public key corresponding to a
// private key. It is a pure function of secret.
func DerivePublicKey(secret Key) Key {
	var pub Key
	curve25519.ScalarBaseMult((*[32]byte)(&pub), (*[32]byte)(&secret))
	return pub
}

// EncodeHex renders a key as lowercase hex.
func EncodeHex(k Key) string {
	return hex.EncodeToString(k[:])
}

// DecodeHex parses a key previously rendered by EncodeHex. Round-trips:
// DecodeHex(EncodeHex(k)) == k for all k.
func DecodeHex(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(b) != KeySize {
		return k, newError(ErrInvalidParameters, "decoded key was wrong length")
	}
	copy(k[:], b)
	return k, nil
}

// Keypair is the long-term identity a Connection authenticates with. All
// connections created by a process typically share one Keypair.
type Keypair struct {
	Public  Key
	Private Key
}

// NewKeypair derives Public from Private. Use this instead of constructing
// Keypair directly so that Public is never left stale relative to Private.
func NewKeypair(private Key) Keypair {
	return Keypair{Public: DerivePublicKey(private), Private: private}
}
