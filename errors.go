package opensdg

import "fmt"

// ErrorKind classifies why a Connection transitioned to StatusError, or why
// a synchronous API call failed. It is a taxonomy, not a wrapped error type;
// callers switch on it, and consult Error.Code for socket_error's errno.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	// ErrSocket indicates an OS-level I/O error. Error.Code carries the
	// SO_ERROR value when the failure was reported by epoll; other socket
	// failures (a failed read or write, the peer closing the connection)
	// leave it 0.
	ErrSocket
	// ErrCryptoCore indicates a seal or precomputation call returned an
	// error (as opposed to an authentication failure on open).
	ErrCryptoCore
	// ErrDecryption indicates an open call failed: MAC mismatch,
	// truncation, or corruption.
	ErrDecryption
	// ErrProtocol indicates bad magic, a short frame, an unknown forward
	// code, a protobuf decode failure on a required message, a signature
	// mismatch, or a command tag the client does not handle. The order of
	// handshake messages is not checked: a repeated WELC or COOK is
	// processed again like the first one.
	ErrProtocol
	// ErrBufferExceeded indicates an incoming or outgoing frame would
	// overflow the caller-sized buffer.
	ErrBufferExceeded
	// ErrServerError is mapped from MSG_FORWARD_ERROR's generic code.
	ErrServerError
	// ErrPeerTimeout is mapped from MSG_FORWARD_ERROR's "too many
	// concurrent tunnels to this peer" code.
	ErrPeerTimeout
	// ErrWrongState indicates an API call was made in a status that
	// doesn't support it (e.g. Send before Connected).
	ErrWrongState
	// ErrInvalidParameters indicates bad arguments to Create or similar.
	ErrInvalidParameters
	// ErrSystem indicates a failure in an underlying OS facility other
	// than a per-connection socket (e.g. epoll_create1).
	ErrSystem
	// ErrConnectionRefused indicates every listed endpoint refused the
	// TCP-level connection attempt.
	ErrConnectionRefused
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "no_error"
	case ErrSocket:
		return "socket_error"
	case ErrCryptoCore:
		return "crypto_core_error"
	case ErrDecryption:
		return "decryption_error"
	case ErrProtocol:
		return "protocol_error"
	case ErrBufferExceeded:
		return "buffer_exceeded"
	case ErrServerError:
		return "server_error"
	case ErrPeerTimeout:
		return "peer_timeout"
	case ErrWrongState:
		return "wrong_state"
	case ErrInvalidParameters:
		return "invalid_parameters"
	case ErrSystem:
		return "system_error"
	case ErrConnectionRefused:
		return "connection_refused"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// Error is returned by synchronous API calls (Create, Send, SetTunnelID)
// that fail without affecting Connection.Status. Asynchronous failures
// detected by the reactor are instead reported via Connection.Err.
type Error struct {
	Kind ErrorKind
	Code int // OS errno, valid only when Kind == ErrSocket
	msg  string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("opensdg: %s: %s", e.Kind, e.msg)
	}
	return fmt.Sprintf("opensdg: %s", e.Kind)
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}
