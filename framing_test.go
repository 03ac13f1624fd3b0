package opensdg

import (
	"crypto/rand"
	"testing"

	"golang.org/x/sys/unix"
)

// An oversized frame must be rejected by the length-prefix check in
// rxPhaseComplete before any attempt is made to decrypt its body: spec.md §8
// requires buffer_exceeded to fire ahead of crypto_core_error/
// decryption_error when a frame is simultaneously too large and malformed.
func TestFeedReadableRejectsOversizedFrame(t *testing.T) {
	clientFD, serverFD := socketpair(t)
	if err := unix.SetNonblock(clientFD, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	keys := NewKeypair(genKey(t))
	c, err := Create(keys, ModeGrid, headerSize+KeySize, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c.fd = clientFD
	c.setStatus(StatusHandshaking)

	// A declared body size of 1000 exceeds bufferSize-2; the rejection must
	// happen on the strength of the length prefix alone, so no body is even
	// written.
	if err := writeFull(serverFD, []byte{0x03, 0xe8}); err != nil {
		t.Fatalf("writing oversized length prefix: %v", err)
	}
	waitReadable(t, clientFD)

	if err := c.feedReadable(); err == nil {
		t.Fatalf("expected an error for an oversized frame")
	}
	if c.errKind != ErrBufferExceeded {
		t.Fatalf("expected ErrBufferExceeded, got %v", c.errKind)
	}
	if c.Status() != StatusError {
		t.Fatalf("expected StatusError, got %v", c.Status())
	}
}

// A zero-length frame body is rejected outright, independent of buffer size.
func TestFeedReadableRejectsZeroLengthFrame(t *testing.T) {
	clientFD, serverFD := socketpair(t)
	if err := unix.SetNonblock(clientFD, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	keys := NewKeypair(genKey(t))
	c, err := Create(keys, ModeGrid, 1024, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c.fd = clientFD
	c.setStatus(StatusHandshaking)

	if err := writeFull(serverFD, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("writing zero length prefix: %v", err)
	}
	waitReadable(t, clientFD)

	if err := c.feedReadable(); err == nil {
		t.Fatalf("expected an error for a zero-length frame")
	}
	if c.errKind != ErrProtocol {
		t.Fatalf("expected ErrProtocol, got %v", c.errKind)
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

// A COOK whose ciphertext fails Poly1305 authentication must fail the
// connection with ErrDecryption, not panic or silently proceed.
func TestHandleCookRejectsBadMAC(t *testing.T) {
	clientKeys := NewKeypair(genKey(t))
	serverKeys := NewKeypair(genKey(t))
	ephemeral, err := generateEphemeralKeypair()
	if err != nil {
		t.Fatalf("generateEphemeralKeypair: %v", err)
	}

	c := &Connection{mode: ModeGrid, keys: clientKeys, ephemeral: ephemeral, serverPubkey: serverKeys.Public, fd: -1}
	c.status.Store(int32(StatusHandshaking))

	frame := make([]byte, cookBodySize)
	putHeader(frame, cmdCOOK)
	copy(frame[headerSize:], randomBytes(t, cookBodySize-headerSize))

	if err := c.handleCOOK(frame); err == nil {
		t.Fatalf("expected an error for a tampered COOK")
	}
	if c.errKind != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", c.errKind)
	}
	if c.Status() != StatusError {
		t.Fatalf("expected StatusError, got %v", c.Status())
	}
}

// A REDY whose ciphertext fails authentication must fail the connection
// rather than advance to StatusConnected/StatusHandshakingFinalizing.
func TestHandleReadyRejectsBadMAC(t *testing.T) {
	c := &Connection{mode: ModeGrid, fd: -1}
	c.status.Store(int32(StatusHandshaking))
	copy(c.beforenm[:], randomBytes(t, 32))

	frame := make([]byte, headerSize+8+32)
	putHeader(frame, cmdREDY)
	copy(frame[headerSize+8:], randomBytes(t, 32))

	if err := c.handleREDY(frame); err == nil {
		t.Fatalf("expected an error for a tampered REDY")
	}
	if c.errKind != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", c.errKind)
	}
	if c.Status() != StatusError {
		t.Fatalf("expected StatusError, got %v", c.Status())
	}
}

// A MESG whose ciphertext fails authentication must fail the connection
// rather than invoke onMessage with garbage.
func TestHandleMesgRejectsBadMAC(t *testing.T) {
	called := false
	c := &Connection{mode: ModeGrid, fd: -1, beforenmSet: true, onMessage: func(*Connection, byte, []byte) { called = true }}
	c.status.Store(int32(StatusConnected))
	copy(c.beforenm[:], randomBytes(t, 32))

	frame := make([]byte, headerSize+8+32)
	putHeader(frame, cmdMESG)
	copy(frame[headerSize+8:], randomBytes(t, 32))

	if err := c.handleMESG(frame); err == nil {
		t.Fatalf("expected an error for a tampered MESG")
	}
	if c.errKind != ErrDecryption {
		t.Fatalf("expected ErrDecryption, got %v", c.errKind)
	}
	if called {
		t.Fatalf("onMessage must not be called for a frame that failed authentication")
	}
}
