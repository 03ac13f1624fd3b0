package opensdg

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// closeRawSocket closes a raw file descriptor opened by dialRaw, ignoring
// errors: by the time this runs the connection is already tearing down.
func closeRawSocket(fd int) {
	if fd >= 0 {
		_ = unix.Close(fd)
	}
}

// feedReadable is invoked by the reactor when epoll reports fd readable. It
// drains everything currently buffered by the kernel, feeding it through the
// restartable two-phase reassembler (length prefix, then body) and
// dispatching each complete frame to handleFrame. Grounded on
// original_source/library/protocol.c's receive_packet, translated from its
// bytesReceived/bytesLeft cursor into the reassembler struct embedded in
// Connection.
func (c *Connection) feedReadable() error {
	for {
		target := c.rxTarget()
		n, err := unix.Read(c.fd, target)
		if n > 0 {
			c.rx.received += n
			c.rx.left -= n
			if c.rx.left == 0 {
				if ferr := c.rxPhaseComplete(); ferr != nil {
					return ferr
				}
			}
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return nil
			}
			return err
		}
		if n == 0 {
			return errPeerClosed
		}
	}
}

var errPeerClosed = newError(ErrSocket, "peer closed connection")

// rxTarget returns the slice to read into for the reassembler's current
// step, starting a fresh frame (reading its 2-byte length prefix first) if
// no packet is currently in flight. left == 0 && bodyLen == 0 together are
// the "no packet in flight" invariant from spec.md §3.
func (c *Connection) rxTarget() []byte {
	if c.rx.left == 0 && c.rx.bodyLen == 0 {
		c.rx.received = 0
		c.rx.left = 2
	}
	return c.rx.buf[c.rx.received : c.rx.received+c.rx.left]
}

// rxPhaseComplete runs once bytesLeft has reached zero. The first time, that
// means the 2-byte length prefix just finished; the second time, it means a
// full frame body just finished and is ready to dispatch.
func (c *Connection) rxPhaseComplete() error {
	if c.rx.bodyLen == 0 {
		size := int(binary.BigEndian.Uint16(c.rx.buf[0:2]))
		if size < 1 {
			c.fail(ErrProtocol, "zero-length frame")
			return newError(ErrProtocol, "zero-length frame")
		}
		if 2+size > c.rx.bufferSize {
			c.fail(ErrBufferExceeded, "incoming frame exceeds buffer size")
			return newError(ErrBufferExceeded, "incoming frame exceeds buffer size")
		}
		c.rx.bodyLen = size
		c.rx.left = size
		return nil
	}

	frame := c.rx.buf[2 : 2+c.rx.bodyLen]
	c.rx.received, c.rx.left, c.rx.bodyLen = 0, 0, 0
	return c.handleFrame(frame)
}

// enqueueWrite stages a fully-built frame for transmission. Only one frame
// may be in flight at a time (spec.md's single-packet-in-flight invariant);
// a caller that races ahead of the reactor draining the previous one gets
// wrong_state rather than silently queueing a second frame.
func (c *Connection) enqueueWrite(frame []byte) error {
	if c.tx.busy() {
		return newError(ErrWrongState, "a frame is already queued for send")
	}
	c.tx.pending = frame
	c.tx.sent = 0
	if err := c.flushPendingWrite(); err != nil {
		return err
	}
	if c.tx.busy() {
		c.reactor.wantWritable(c)
	}
	return nil
}

// flushPendingWrite writes as much of the pending frame as the socket will
// currently accept. Called both right after enqueueWrite and again whenever
// epoll reports the fd writable.
func (c *Connection) flushPendingWrite() error {
	for c.tx.busy() {
		n, err := unix.Write(c.fd, c.tx.pending[c.tx.sent:])
		if n > 0 {
			c.tx.sent += n
			if c.tx.sent == len(c.tx.pending) {
				c.tx.pending = nil
				c.tx.sent = 0
				if c.reactor != nil {
					c.reactor.doneWritable(c)
				}
				return nil
			}
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return nil
			}
			return err
		}
	}
	return nil
}

// prependLength builds a full on-wire frame (2-byte big-endian length plus
// body) from a body already assembled by the caller.
func prependLength(body []byte) []byte {
	frame := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(body)))
	copy(frame[2:], body)
	return frame
}
