package opensdg

import (
	"encoding/binary"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/hlandau/opensdg/internal/wire"
)

// mockPeerServer plays the grid server's role in scenario S3 of spec.md §8:
// the pre-handshake FORWARD_REMOTE/FORWARD_REPLY tunnel dispatch followed by
// the same WELC..REDY handshake as grid mode, but without the grid-only
// MESG(ProtocolVersion) epilogue (handleREDY moves a peer-mode connection
// straight to StatusConnected). Errors are returned rather than reported via
// testing.T since this runs on its own goroutine.
type mockPeerServer struct {
	fd        int
	keys      Keypair
	clientPub Key
	ephemeral Keypair
	clientEph Key
	beforenm  [32]byte
	cookie    [96]byte
}

func newMockPeerServer(fd int, clientPub Key) (*mockPeerServer, error) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &mockPeerServer{fd: fd, keys: NewKeypair(priv), clientPub: clientPub}, nil
}

func (s *mockPeerServer) runPeerHandshake() error {
	fwdFrame, err := readFrame(s.fd)
	if err != nil {
		return fmt.Errorf("reading FORWARD_REMOTE: %w", err)
	}
	if len(fwdFrame) < 1 || fwdFrame[0] != msgForwardRemote {
		return fmt.Errorf("expected a FORWARD_REMOTE frame, got type byte %v", fwdFrame)
	}
	fwd, err := wire.UnmarshalForwardRemote(fwdFrame[1:])
	if err != nil {
		return fmt.Errorf("unmarshalling FORWARD_REMOTE: %w", err)
	}
	if fwd.Signature != forwardRemoteSignature {
		return fmt.Errorf("unexpected FORWARD_REMOTE signature %q", fwd.Signature)
	}

	reply := wire.ForwardReply{Signature: forwardRemoteSignature}
	if err := writeFrame(s.fd, append([]byte{msgForwardReply}, reply.Marshal()...)); err != nil {
		return fmt.Errorf("writing FORWARD_REPLY: %w", err)
	}

	if _, err := readFrame(s.fd); err != nil {
		return fmt.Errorf("reading TELL: %w", err)
	}

	welc := make([]byte, headerSize+KeySize)
	putHeader(welc, cmdWELC)
	copy(welc[headerSize:], s.keys.Public[:])
	if err := writeFrame(s.fd, welc); err != nil {
		return fmt.Errorf("writing WELC: %w", err)
	}

	helo, err := readFrame(s.fd)
	if err != nil {
		return fmt.Errorf("reading HELO: %w", err)
	}
	off := headerSize
	copy(s.clientEph[:], helo[off:off+KeySize])
	off += KeySize
	tail := binary.BigEndian.Uint64(helo[off : off+8])
	off += 8
	if _, err := openBox(helo[off:], shortTermNonce(nonceClientHello, tail), &s.clientEph, &s.keys.Private); err != nil {
		return fmt.Errorf("opening HELO: %w", err)
	}

	ephemeral, err := generateEphemeralKeypair()
	if err != nil {
		return fmt.Errorf("generating server ephemeral keypair: %w", err)
	}
	s.ephemeral = ephemeral
	for i := range s.cookie {
		s.cookie[i] = byte(0xa0 + i%16)
	}
	cookNonce, cookTail, err := longTermNonceRandom(nonceCookieLT, nil)
	if err != nil {
		return fmt.Errorf("building COOK nonce: %w", err)
	}
	cookPlaintext := append(append([]byte{}, s.ephemeral.Public[:]...), s.cookie[:]...)
	cookCiphertext := sealBox(cookPlaintext, cookNonce, &s.clientPub, &s.keys.Private)

	cook := make([]byte, headerSize+16+len(cookCiphertext))
	putHeader(cook, cmdCOOK)
	off = headerSize
	copy(cook[off:off+16], cookTail[:])
	off += 16
	copy(cook[off:], cookCiphertext)
	if err := writeFrame(s.fd, cook); err != nil {
		return fmt.Errorf("writing COOK: %w", err)
	}

	s.beforenm = precompute(s.clientEph, s.ephemeral.Private)

	voch, err := readFrame(s.fd)
	if err != nil {
		return fmt.Errorf("reading VOCH: %w", err)
	}
	off = headerSize
	vochTail := binary.BigEndian.Uint64(voch[off : off+8])
	off += 8
	echoedCookie := voch[off : off+96]
	off += 96
	for i := range s.cookie {
		if echoedCookie[i] != s.cookie[i] {
			return fmt.Errorf("client echoed the wrong cookie")
		}
	}
	// Peer-mode VOCH carries no certificate block, unlike grid mode.
	if _, err := openAfterPrecomputation(voch[off:], shortTermNonce(nonceClientVouch, vochTail), &s.beforenm); err != nil {
		return fmt.Errorf("opening VOCH: %w", err)
	}

	redyTail := uint64(0)
	redyCiphertext := sealAfterPrecomputation([]byte("license-ok"), shortTermNonce(nonceServerReady, redyTail), &s.beforenm)
	redy := make([]byte, headerSize+8+len(redyCiphertext))
	putHeader(redy, cmdREDY)
	off = headerSize
	binary.BigEndian.PutUint64(redy[off:off+8], redyTail)
	off += 8
	copy(redy[off:], redyCiphertext)
	return writeFrame(s.fd, redy)
}

// TestPeerHandshakeReachesConnected drives scenario S3 (peer-to-peer tunnel
// relayed through the grid): FORWARD_REMOTE/FORWARD_REPLY dispatch followed
// by the CurveCP handshake, reaching StatusConnected without a
// MESG(ProtocolVersion) exchange (that epilogue is grid-mode only).
func TestPeerHandshakeReachesConnected(t *testing.T) {
	clientFD, serverFD := socketpair(t)
	if err := unix.SetNonblock(clientFD, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	clientPriv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	clientKeys := NewKeypair(clientPriv)

	c, err := Create(clientKeys, ModePeer, 65536, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	c.fd = clientFD
	if err := c.SetTunnelID([]byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("SetTunnelID: %v", err)
	}
	c.setStatus(StatusForwarding)

	server, err := newMockPeerServer(serverFD, clientKeys.Public)
	if err != nil {
		t.Fatalf("newMockPeerServer: %v", err)
	}
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.runPeerHandshake() }()

	if err := c.sendForwardRemote(); err != nil {
		t.Fatalf("sendForwardRemote: %v", err)
	}

	// FORWARD_REPLY, WELC, COOK, REDY: four frames arrive before
	// StatusConnected. TELL is sent automatically by handleTunnelFrame once
	// FORWARD_REPLY validates.
	driveClientUntilConnected(t, c, 8)

	if err := <-serverErr; err != nil {
		t.Fatalf("mock server: %v", err)
	}
	if c.Status() != StatusConnected {
		t.Fatalf("expected StatusConnected, got %v (err=%v)", c.Status(), c.Err())
	}
}
