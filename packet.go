package opensdg

import "encoding/binary"

// packetMagic is the fixed 16-bit magic at the start of every framed packet
// body (not to be confused with the protobuf-level ProtocolVersion magic
// carried inside MESG). Its exact numeric value isn't prescribed by the
// protocol description available to this implementation; what matters is
// that it is fixed and checked on every receive (see DESIGN.md).
const packetMagic uint16 = 0x0d21

// Command tags, 4 ASCII bytes each.
var (
	cmdTELL = [4]byte{'T', 'E', 'L', 'L'}
	cmdWELC = [4]byte{'W', 'E', 'L', 'C'}
	cmdHELO = [4]byte{'H', 'E', 'L', 'O'}
	cmdCOOK = [4]byte{'C', 'O', 'O', 'K'}
	cmdVOCH = [4]byte{'V', 'O', 'C', 'H'}
	cmdREDY = [4]byte{'R', 'E', 'D', 'Y'}
	cmdMESG = [4]byte{'M', 'E', 'S', 'G'}
)

const headerSize = 8

// packetHeader is the 8-byte header that begins every CurveCP-style packet
// body: a 16-bit magic, a 16-bit reserved field, and a 4-byte command tag.
type packetHeader struct {
	Magic    uint16
	Reserved uint16
	Command  [4]byte
}

func (h packetHeader) commandString() string {
	return string(h.Command[:])
}

// putHeader writes an 8-byte header into the front of buf.
func putHeader(buf []byte, command [4]byte) {
	binary.BigEndian.PutUint16(buf[0:2], packetMagic)
	binary.BigEndian.PutUint16(buf[2:4], 0)
	copy(buf[4:8], command[:])
}

// parseHeader reads the 8-byte header at the front of buf. buf must be at
// least headerSize bytes; callers check frame length before calling this.
func parseHeader(buf []byte) packetHeader {
	var h packetHeader
	h.Magic = binary.BigEndian.Uint16(buf[0:2])
	h.Reserved = binary.BigEndian.Uint16(buf[2:4])
	copy(h.Command[:], buf[4:8])
	return h
}

// Fixed body sizes for the handshake packets whose length doesn't vary.
const (
	welcBodySize = headerSize + KeySize // 40
	heloCiphertextSize = 80
	heloBodySize       = headerSize + KeySize + 8 + heloCiphertextSize // 128
	cookCiphertextSize = 144
	cookBodySize       = headerSize + 16 + cookCiphertextSize // 168

	// vouchInnerPlaintextSize is the plaintext size of the inner vouch box
	// (client ephemeral public key, sealed to the server's long-term key
	// under the client's long-term key): just the 32-byte key.
	vouchInnerPlaintextSize = KeySize
	vouchInnerCiphertextSize = vouchInnerPlaintextSize + boxOverhead // 48

	// certificateBlockSize is the size of the fixed-schema grid-mode
	// certificate key/value pair appended to the VOCH outer plaintext:
	// 1-byte key type + "certificate"(11) + 1-byte value type + 32 zero bytes.
	certificateBlockSize = 1 + 11 + 1 + 32 // 45

	// vouchOuterPlaintextMinSize is the VOCH outer plaintext without the
	// certificate block: client long-term public key + 16-byte random tail
	// + inner vouch ciphertext.
	vouchOuterPlaintextMinSize = KeySize + 16 + vouchInnerCiphertextSize // 96
)

// Pre-handshake tunnel dispatch frame types (one byte, at offset 2 of the
// frame, in place of the packet_header magic). Grounded on
// original_source/library/tunnel_protocol.c.
const (
	msgForwardHold   byte = 0
	msgForwardRemote byte = 1
	msgForwardReply  byte = 2
	msgForwardError  byte = 3
)

// Grid MESG dataType byte, the discriminator at the front of a MESG
// plaintext's payload once dataSize has been stripped.
const (
	msgProtocolVersion byte = 0
	msgPeerReply       byte = 1
)

// protocolMagic/protocolMajor/protocolMinor are this implementation's
// values for the ProtocolVersion exchanged over MESG at the end of a
// grid-mode handshake, before the session reaches StatusConnected.
const (
	protocolMagic uint64 = 0x05175175
	protocolMajor uint64 = 1
	protocolMinor uint64 = 0
)

// boxOverhead is golang.org/x/crypto/nacl/box's per-message authenticator
// overhead (Poly1305 tag size). Declared here, rather than importing box
// just for the constant, to keep packet size arithmetic self-contained and
// documented alongside the sizes it composes with. Kept equal to
// box.Overhead by crypto_test.go's TestBoxOverheadMatchesLibrary.
const boxOverhead = 16
