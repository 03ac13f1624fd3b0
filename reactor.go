package opensdg

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hlandau/opensdg/internal/sdglog"
)

// reactor is the single I/O thread described in spec.md §4.7: one goroutine
// multiplexes every connected socket via epoll, translated from the
// original poll/epoll main loop. Connections never touch their own fd from
// another goroutine; they enqueue closures here instead, matching doc.go's
// concurrency note. Grounded in style on
// _examples/other_examples/...doublezero...sender.go's direct
// golang.org/x/sys/unix usage, generalised from one-shot raw sockets to a
// persistent epoll_wait loop.
type reactor struct {
	epfd int

	wakeR int
	wakeW int

	mu      sync.Mutex
	pending []func()

	conns map[int]*Connection // keyed by fd

	stop chan struct{}
}

// NewReactor creates the single I/O thread a process needs to drive any
// number of Connections. Call Run in its own goroutine, then pass the
// returned value to Connection.Connect.
func NewReactor() (*reactor, error) {
	return newReactor()
}

// newReactor creates the epoll instance and wake pipe but does not start
// the loop; call Run in its own goroutine.
func newReactor() (*reactor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, newError(ErrSystem, "epoll_create1: "+err.Error())
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, newError(ErrSystem, "pipe2: "+err.Error())
	}
	r := &reactor{
		epfd:  epfd,
		wakeR: fds[0],
		wakeW: fds[1],
		conns: make(map[int]*Connection),
		stop:  make(chan struct{}),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.wakeR)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, r.wakeR, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(r.wakeR)
		unix.Close(r.wakeW)
		return nil, newError(ErrSystem, "epoll_ctl(wake): "+err.Error())
	}
	return r, nil
}

// enqueue schedules f to run on the reactor goroutine and interrupts any
// in-progress EpollWait so it runs promptly. Safe from any goroutine.
func (r *reactor) enqueue(f func()) {
	r.mu.Lock()
	r.pending = append(r.pending, f)
	r.mu.Unlock()
	var b [1]byte
	_, _ = unix.Write(r.wakeW, b[:])
}

func (r *reactor) drainPending() {
	r.mu.Lock()
	jobs := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, f := range jobs {
		f()
	}
}

// registerConnection begins watching c.fd for readability. Called only from
// the reactor goroutine, typically from a closure enqueued by dialSequence.
func (r *reactor) registerConnection(c *Connection) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(c.fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, c.fd, &ev); err != nil {
		return err
	}
	r.conns[c.fd] = c
	return nil
}

// unregisterConnection stops watching c.fd. Idempotent.
func (r *reactor) unregisterConnection(c *Connection) {
	if c.fd < 0 {
		return
	}
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	delete(r.conns, c.fd)
}

// wantWritable arms EPOLLOUT on c.fd in addition to EPOLLIN, used while a
// partial write is pending.
func (r *reactor) wantWritable(c *Connection) {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT, Fd: int32(c.fd)}
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev)
}

// doneWritable disarms EPOLLOUT once a pending write has fully drained.
func (r *reactor) doneWritable(c *Connection) {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(c.fd)}
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev)
}

// Run drives the reactor until Stop is called. It is meant to be the only
// goroutine that ever reads or writes a connected socket.
func (r *reactor) Run() {
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		n, err := unix.EpollWait(r.epfd, events, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			sdglog.Error("opensdg: epoll_wait: ", err.Error())
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakeR {
				r.drainWake()
				r.drainPending()
				continue
			}
			c, ok := r.conns[fd]
			if !ok {
				continue
			}
			r.serviceConnection(c, events[i].Events)
		}
	}
}

func (r *reactor) drainWake() {
	var b [64]byte
	for {
		n, err := unix.Read(r.wakeR, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (r *reactor) serviceConnection(c *Connection, events uint32) {
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		code, _ := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		c.failErrno(code, "socket error reported by epoll")
		r.unregisterConnection(c)
		return
	}
	if events&unix.EPOLLOUT != 0 {
		if err := c.flushPendingWrite(); err != nil {
			c.fail(ErrSocket, err.Error())
			r.unregisterConnection(c)
			return
		}
	}
	if events&unix.EPOLLIN != 0 {
		if err := c.feedReadable(); err != nil {
			if oerr, ok := err.(*Error); ok {
				c.fail(oerr.Kind, oerr.msg)
			} else {
				c.fail(ErrSocket, err.Error())
			}
			r.unregisterConnection(c)
			return
		}
	}
}

// Stop halts Run after its current iteration.
func (r *reactor) Stop() {
	close(r.stop)
	var b [1]byte
	_, _ = unix.Write(r.wakeW, b[:])
}

// dialSequence runs in its own short-lived goroutine per Connect call,
// trying each endpoint in turn with a plain blocking TCP dial. This keeps
// blocking name resolution and connect() off the reactor goroutine, which
// per spec.md §4.7/§5 must never suspend anywhere except inside the
// multiplexing wait once a connection is established; dialing happens
// before a connection is registered with the reactor at all, so it isn't
// bound by that rule. Once a socket is established its fd is extracted and
// handed to the reactor, which takes over all further I/O.
func (c *Connection) dialSequence() {
	var lastErr error
	for c.endpointIdx < len(c.endpoints) {
		ep := c.endpoints[c.endpointIdx]
		addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			lastErr = err
			c.endpointIdx++
			continue
		}
		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			conn.Close()
			lastErr = fmt.Errorf("non-TCP connection for %s", addr)
			c.endpointIdx++
			continue
		}
		fd, dupErr := extractAndDetachFD(tcpConn)
		if dupErr != nil {
			lastErr = dupErr
			c.endpointIdx++
			continue
		}
		c.onDialed(fd)
		return
	}
	msg := "all endpoints refused connection"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	c.fail(ErrConnectionRefused, msg)
}

// onDialed registers a freshly established socket with the reactor and
// kicks off the handshake by sending the connection's first outbound
// packet (FORWARD_REMOTE for peer mode, TELL for grid mode).
func (c *Connection) onDialed(fd int) {
	c.fd = fd
	_ = unix.SetNonblock(fd, true)
	c.handshakeAt = time.Now()
	c.reactor.enqueue(func() {
		if err := c.reactor.registerConnection(c); err != nil {
			c.fail(ErrSystem, "epoll_ctl(add): "+err.Error())
			return
		}
		if c.mode == ModePeer {
			c.setStatus(StatusForwarding)
			if err := c.sendForwardRemote(); err != nil {
				c.fail(ErrProtocol, err.Error())
			}
			return
		}
		c.setStatus(StatusHandshaking)
		if err := c.sendTELL(); err != nil {
			c.fail(ErrSocket, err.Error())
		}
	})
}

// extractAndDetachFD pulls the raw file descriptor out of a *net.TCPConn and
// detaches it from Go's runtime netpoller (via File, which dups the fd and
// switches the original to blocking mode before the caller closes it), so
// the reactor's own epoll loop becomes the fd's only owner. The dup is
// non-blocking again immediately after extraction.
func extractAndDetachFD(tcpConn *net.TCPConn) (int, error) {
	f, err := tcpConn.File()
	if err != nil {
		return -1, err
	}
	defer f.Close()
	tcpConn.Close()
	fd := int(f.Fd())
	dupFd, err := unix.Dup(fd)
	if err != nil {
		return -1, err
	}
	return dupFd, nil
}
