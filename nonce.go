package opensdg

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
)

// Nonce prefixes, ASCII, byte-exact per the wire format. Short-term
// prefixes are 16 bytes; long-term prefixes are 8 bytes.
var (
	nonceClientHello = []byte("CurveCP-client-H")
	nonceClientVouch = []byte("CurveCP-client-I")
	nonceClientMesg  = []byte("CurveCP-client-M")
	nonceServerReady = []byte("CurveCP-server-R")
	nonceServerMesg  = []byte("CurveCP-server-M")
	nonceCookieLT    = []byte("CurveCPK")
	nonceVouchLT     = []byte("CurveCPV")
)

// nonceCounter is a single connection's outgoing short-term nonce counter
// (spec.md §3's "nonce" field): one 64-bit counter shared by every outgoing
// short-term nonce derivation on the connection, regardless of which of the
// three client-side prefixes is in use. Strictly monotonic, never repeats.
type nonceCounter struct {
	v uint64
}

// next returns the tail to use for the next outgoing short-term nonce and
// advances the counter. Panics on rollover: at one message per nanosecond
// this would take over 500 years, so rollover indicates a bug.
func (c *nonceCounter) next() uint64 {
	tail := atomic.AddUint64(&c.v, 1) - 1
	if tail == ^uint64(0) {
		panic("opensdg: short-term nonce counter rollover")
	}
	return tail
}

// shortTermNonce builds the full 24-byte nonce from a 16-byte prefix and a
// big-endian 64-bit tail, whether that tail was just minted by next() for an
// outgoing packet or read off the wire for an incoming one.
func shortTermNonce(prefix []byte, tail uint64) [24]byte {
	var nonce [24]byte
	copy(nonce[:16], prefix)
	binary.BigEndian.PutUint64(nonce[16:], tail)
	return nonce
}

// longTermNonceEchoed builds a 24-byte nonce from an 8-byte prefix and a
// 16-byte tail read verbatim off the wire (the "CurveCPK" construction：the
// cookie nonce tail is chosen by the server and the client only echoes it
// back into the decrypt call, never transmits its own).
func longTermNonceEchoed(prefix []byte, tail [16]byte) [24]byte {
	var nonce [24]byte
	copy(nonce[:8], prefix)
	copy(nonce[8:], tail[:])
	return nonce
}

// longTermNonceRandom builds a 24-byte nonce from an 8-byte prefix and a
// freshly random 16-byte tail (the "CurveCPV" construction). Returns the
// tail too, since it must be placed on the wire.
func longTermNonceRandom(prefix []byte, rng io.Reader) (nonce [24]byte, tail [16]byte, err error) {
	if rng == nil {
		rng = rand.Reader
	}
	if _, err = io.ReadFull(rng, tail[:]); err != nil {
		return nonce, tail, err
	}
	copy(nonce[:8], prefix)
	copy(nonce[8:], tail[:])
	return nonce, tail, nil
}
