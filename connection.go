package opensdg

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/hlandau/opensdg/internal/sdglog"
)

// Mode selects which handshake variant a Connection runs: a direct grid
// login (with the certificate block and a ProtocolVersion exchange inside
// MESG) or a peer-to-peer tunnel relayed through the grid (which skips the
// certificate block and is preceded by the unauthenticated forwarding
// dispatch in tunnel.go).
type Mode int

const (
	ModeGrid Mode = iota
	ModePeer
)

func (m Mode) String() string {
	if m == ModePeer {
		return "peer"
	}
	return "grid"
}

// Status is a Connection's lifecycle state. Transitions are monotone except
// that any state can move to StatusError, which is absorbing: once entered
// it is left only through Close (back to StatusClosed) or Destroy.
type Status int32

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusForwarding
	StatusHandshaking
	// StatusHandshakingFinalizing is the grid-mode-only gap between REDY and
	// StatusConnected: REDY has been authenticated and the client has sent
	// its own MESG(ProtocolVersion), but the server's matching MESG hasn't
	// been validated yet. Send is not yet permitted in this state; only the
	// handshake engine may write during it.
	StatusHandshakingFinalizing
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusForwarding:
		return "forwarding"
	case StatusHandshaking:
		return "handshaking"
	case StatusHandshakingFinalizing:
		return "handshaking-finalizing"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Endpoint is one host/port pair to try during Connect. Multiple endpoints
// let a caller list a primary and fallback grid server; Connect tries them
// in order and only TCP-level connect failure falls through to the next one
// (the one retry exception carved out by spec.md's no-retry non-goal).
type Endpoint struct {
	Host string
	Port int
}

// MessageHandler receives application payloads once a Connection reaches
// StatusConnected. dataType is the one-byte MESG discriminator that
// precedes the payload; peer-mode MESG frames carry it in the same position
// as grid-mode ones. The slice is only valid for the duration of the call.
type MessageHandler func(c *Connection, dataType byte, payload []byte)

// Connection is one CurveCP-style session to a grid server or, via a
// tunnel, to a peer behind one. The zero value is not usable; construct with
// Create. Safe for concurrent use: Send enqueues work onto the owning
// reactor instead of touching the socket directly, per doc.go's concurrency
// note, and SetTunnelID only updates state under the connection's mutex.
type Connection struct {
	mu sync.Mutex

	mode   Mode
	status atomic.Int32

	keys      Keypair // long-term identity, shared across reconnects
	ephemeral Keypair // per-handshake, zeroed by destroyEphemeral

	serverPubkey Key
	serverCookie [96]byte
	beforenm     [32]byte
	beforenmSet  bool

	outNonce nonceCounter

	tunnelID []byte

	uid      int
	traceID  xid.ID
	onMessage MessageHandler

	errKind ErrorKind
	errCode int

	fd int
	rx reassembler
	tx writer

	endpoints    []Endpoint
	endpointIdx  int
	handshakeAt  time.Time

	reactor *reactor
	metrics *metricSet

	closeOnce sync.Once
}

// reassembler holds the restartable two-phase receive cursor described in
// framing.go: invariant is that left == 0 and bodyLen == 0 together mean no
// packet is currently in flight.
type reassembler struct {
	buf        []byte
	bufferSize int
	received   int
	left       int
	bodyLen    int
}

// writer holds at most one outgoing frame not yet fully flushed to the
// socket, per spec.md's single-packet-in-flight invariant: Send blocks
// further sends (returning wrong_state) until the previous one has drained.
type writer struct {
	pending []byte
	sent    int
}

func (w *writer) busy() bool { return w.pending != nil }

// Create allocates a Connection. keys is the long-term identity; bufferSize
// bounds both the largest frame this connection will accept and the
// largest it will ever be asked to send. onMessage is invoked from the
// reactor goroutine whenever application data arrives on a connected
// session; it must not block.
func Create(keys Keypair, mode Mode, bufferSize int, onMessage MessageHandler) (*Connection, error) {
	if bufferSize < headerSize+KeySize {
		return nil, newError(ErrInvalidParameters, "bufferSize too small")
	}
	c := &Connection{
		mode:      mode,
		keys:      keys,
		onMessage: onMessage,
		traceID:   xid.New(),
		fd:        -1,
	}
	c.rx.buf = make([]byte, bufferSize)
	c.rx.bufferSize = bufferSize
	c.status.Store(int32(StatusClosed))
	c.uid = globalRegistry.add(c)
	sdglog.Debug("opensdg: connection ", c.uid, " created, mode=", mode, " trace=", c.traceID)
	return c, nil
}

// Status returns the Connection's current lifecycle state. Safe to call
// from any goroutine.
func (c *Connection) Status() Status {
	return Status(c.status.Load())
}

// Err returns the reason Status is StatusError, or a zero-Kind Error if it
// isn't.
func (c *Connection) Err() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Error{Kind: c.errKind, Code: c.errCode}
}

// UID returns the registry identifier assigned at Create, stable for the
// life of the Connection. Used for log correlation and registry.find, never
// transmitted on the wire.
func (c *Connection) UID() int { return c.uid }

// setStatus stores the new status, logs the transition and feeds it to the
// attached metrics. It does not check the transition against the ordering
// described on Status.
func (c *Connection) setStatus(s Status) {
	old := Status(c.status.Swap(int32(s)))
	if old != s {
		sdglog.Debug("opensdg: connection ", c.uid, " status ", old, " -> ", s)
	}
	if c.metrics != nil {
		c.metrics.observeStatus(c.mode, old, s)
	}
}

// fail transitions the connection to StatusError, recording kind/code. A
// connection already in StatusError stays there; the first failure wins.
func (c *Connection) fail(kind ErrorKind, msg string) {
	c.mu.Lock()
	alreadyFailed := c.errKind != ErrNone
	if !alreadyFailed {
		c.errKind = kind
	}
	c.mu.Unlock()
	if alreadyFailed {
		return
	}
	sdglog.Error("opensdg: connection ", c.uid, " failed: ", kind.String(), ": ", msg)
	c.setStatus(StatusError)
	if c.metrics != nil {
		c.metrics.observeFailure(c.mode, kind)
	}
}

func (c *Connection) failErrno(code int, msg string) {
	c.mu.Lock()
	first := c.errKind == ErrNone
	if first {
		c.errKind = ErrSocket
		c.errCode = code
	}
	c.mu.Unlock()
	sdglog.Error("opensdg: connection ", c.uid, " socket error ", code, ": ", msg)
	c.setStatus(StatusError)
	if first && c.metrics != nil {
		c.metrics.observeFailure(c.mode, ErrSocket)
	}
}

// Connect begins establishing the connection, trying endpoints in order
// until one accepts a TCP connection. Returns once the attempt has been
// queued; completion (success or failure) is observed via Status. r is the
// reactor that will own this connection's socket I/O once connected.
func (c *Connection) Connect(r *reactor, endpoints []Endpoint) error {
	if len(endpoints) == 0 {
		return newError(ErrInvalidParameters, "no endpoints given")
	}
	if c.Status() != StatusClosed {
		return newError(ErrWrongState, "Connect called on a non-closed connection")
	}
	c.closeOnce = sync.Once{}
	c.reactor = r
	c.endpoints = endpoints
	c.endpointIdx = 0
	c.setStatus(StatusConnecting)
	go c.dialSequence()
	return nil
}

// SetTunnelID marks this connection as a peer tunnel destined for the peer
// identified by tunnelID (opaque bytes assigned by the grid server that
// introduced the peer). Must be called before Connect for ModePeer
// connections; spec.md's mode_peer branch of COOK/REDY depends on it.
func (c *Connection) SetTunnelID(tunnelID []byte) error {
	if c.mode != ModePeer {
		return newError(ErrWrongState, "SetTunnelID is only valid for peer-mode connections")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tunnelID = append([]byte(nil), tunnelID...)
	return nil
}

// Send queues payload for delivery as an application MESG. dataType is the
// one-byte discriminator placed in front of payload, in peer mode as well
// as in grid mode. Returns ErrWrongState unless the
// connection is StatusConnected, and ErrBufferExceeded if the sealed frame
// would not fit in the buffer sized at Create.
func (c *Connection) Send(dataType byte, payload []byte) error {
	if c.Status() != StatusConnected {
		return newError(ErrWrongState, "Send called before handshake completed")
	}
	done := make(chan error, 1)
	c.reactor.enqueue(func() {
		done <- c.sendMesgNow(dataType, payload)
	})
	return <-done
}

// sendMesgNow seals and queues a MESG frame immediately; it must only be
// called from the reactor goroutine, either via Send's enqueued closure or
// directly from within handshake.go while handling a frame (which already
// runs on the reactor goroutine). Unlike Send, it does not gate on
// StatusConnected, since the grid-mode ProtocolVersion announcement in
// handleREDY must go out while status is still handshaking-finalizing.
func (c *Connection) sendMesgNow(dataType byte, payload []byte) error {
	frame, err := c.buildMesg(dataType, payload)
	if err != nil {
		return err
	}
	if len(frame) > c.rx.bufferSize {
		return newError(ErrBufferExceeded, "outgoing MESG exceeds buffer size")
	}
	return c.enqueueWrite(frame)
}

// Close releases the socket and returns the connection to StatusClosed,
// zeroing ephemeral key material. A Connection may be reused afterwards
// with a fresh Connect. Idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.reactor != nil && c.fd >= 0 {
			fd := c.fd
			done := make(chan struct{})
			c.reactor.enqueue(func() {
				c.reactor.unregisterConnection(c)
				closeRawSocket(fd)
				done <- struct{}{}
			})
			<-done
		}
		c.destroyEphemeral()
		c.mu.Lock()
		c.errKind, c.errCode = ErrNone, 0
		c.mu.Unlock()
		c.setStatus(StatusClosed)
	})
}

// Destroy releases all resources associated with the connection, including
// deregistering its uid; the Connection must not be used afterwards.
func (c *Connection) Destroy() {
	c.Close()
	globalRegistry.remove(c.uid)
	sdglog.Debug("opensdg: connection ", c.uid, " destroyed")
}

// destroyEphemeral zeroes the per-handshake secrets so they don't linger in
// memory once a connection is torn down, matching spec.md's destroy
// invariant.
func (c *Connection) destroyEphemeral() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ephemeral = Keypair{}
	c.beforenm = [32]byte{}
	c.beforenmSet = false
	c.serverCookie = [96]byte{}
	c.outNonce = nonceCounter{}
}
