package opensdg

import (
	"github.com/hlandau/opensdg/internal/sdglog"
	"github.com/hlandau/opensdg/internal/wire"
)

// Pre-handshake tunnel dispatch, grounded on
// original_source/library/tunnel_protocol.c: a peer-mode connection opens
// with an unauthenticated FORWARD_REMOTE frame asking the grid server to
// relay a handshake to another client, before any CurveCP cryptography is
// in play. These frames carry no packet_header; the one-byte type sits
// where the magic would otherwise be.

// forwardRemoteSignature is the fixed constant a conforming grid server
// echoes back in FORWARD_REPLY, per tunnel_protocol.c's
// strcmp(reply->signature, FORWARD_REMOTE_SIGNATURE): this is a protocol
// constant shared by every client and server, not a per-connection
// correlation token, so it authenticates that the peer actually speaks this
// protocol rather than just echoing whatever the client sent.
const forwardRemoteSignature = "FORWARD_REMOTE_SIGNATURE"

// sendForwardRemote asks the grid server to open a tunnel to the peer
// identified by c.tunnelID. The id is only needed for this one frame, so it
// is released immediately afterward rather than held for the life of the
// connection.
func (c *Connection) sendForwardRemote() error {
	c.mu.Lock()
	tunnelID := append([]byte(nil), c.tunnelID...)
	c.tunnelID = nil
	c.mu.Unlock()

	msg := wire.ForwardRemote{
		Magic:         protocolMagic,
		ProtocolMajor: protocolMajor,
		ProtocolMinor: protocolMinor,
		TunnelID:      tunnelID,
		Signature:     forwardRemoteSignature,
	}
	body := append([]byte{msgForwardRemote}, msg.Marshal()...)
	return c.enqueueWrite(prependLength(body))
}

// handleTunnelFrame dispatches one pre-handshake forwarding frame. frame
// has already had its 2-byte length prefix stripped by the reassembler, so
// frame[0] is the message type and frame[1:] is its protobuf body.
func (c *Connection) handleTunnelFrame(frame []byte) error {
	if len(frame) < 1 {
		c.fail(ErrProtocol, "empty forwarding frame")
		return newError(ErrProtocol, "empty forwarding frame")
	}
	typ, payload := frame[0], frame[1:]

	switch typ {
	case msgForwardHold:
		sdglog.Debug("opensdg: connection ", c.uid, " received FORWARD_HOLD")
		return nil

	case msgForwardReply:
		reply, err := wire.UnmarshalForwardReply(payload)
		if err != nil {
			c.fail(ErrProtocol, err.Error())
			return err
		}
		if reply.Signature != forwardRemoteSignature {
			c.fail(ErrProtocol, "FORWARD_REPLY signature mismatch")
			return newError(ErrProtocol, "FORWARD_REPLY signature mismatch")
		}
		c.setStatus(StatusHandshaking)
		if err := c.sendTELL(); err != nil {
			c.fail(ErrSocket, err.Error())
			return err
		}
		return nil

	case msgForwardError:
		fe, err := wire.UnmarshalForwardError(payload)
		if err != nil {
			c.fail(ErrProtocol, err.Error())
			return err
		}
		switch fe.Code {
		case wire.ForwardServerError:
			c.fail(ErrServerError, "grid server reported forwarding failure")
		case wire.ForwardPeerTimeout:
			c.fail(ErrPeerTimeout, "peer did not respond in time")
		default:
			c.fail(ErrProtocol, "unrecognised forward error code")
		}
		return nil

	default:
		c.fail(ErrProtocol, "unknown forwarding frame type")
		return newError(ErrProtocol, "unknown forwarding frame type")
	}
}
