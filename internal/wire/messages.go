// Package wire hand-encodes the small fixed catalog of protobuf messages
// exchanged by the opensdg protocol, using the low-level varint/tag
// primitives in google.golang.org/protobuf/encoding/protowire rather than
// protoc-generated types: the catalog is four flat messages and never grows,
// so a generated .pb.go would add a build step for no structural benefit.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion is exchanged once over an established MESG channel in
// grid mode, in each direction, to confirm both ends speak a compatible
// version of the protocol.
type ProtocolVersion struct {
	Magic uint64
	Major uint64
	Minor uint64
}

func (m ProtocolVersion) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Magic)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Major)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Minor)
	return b
}

func UnmarshalProtocolVersion(b []byte) (ProtocolVersion, error) {
	var m ProtocolVersion
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad tag")
		}
		b = b[n:]
		v, n := protowire.ConsumeVarint(b)
		if typ != protowire.VarintType || n < 0 {
			return m, fmt.Errorf("wire: bad varint field")
		}
		b = b[n:]
		switch num {
		case 1:
			m.Magic = v
		case 2:
			m.Major = v
		case 3:
			m.Minor = v
		}
	}
	return m, nil
}

// ForwardRemote is the first pre-handshake frame a client sends when
// requesting a tunnel to a peer rather than a direct grid login.
type ForwardRemote struct {
	Magic         uint64
	ProtocolMajor uint64
	ProtocolMinor uint64
	TunnelID      []byte
	Signature     string
}

func (m ForwardRemote) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Magic)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ProtocolMajor)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ProtocolMinor)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, m.TunnelID)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, m.Signature)
	return b
}

func UnmarshalForwardRemote(b []byte) (ForwardRemote, error) {
	var m ForwardRemote
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad tag")
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad varint field")
			}
			b = b[n:]
			switch num {
			case 1:
				m.Magic = v
			case 2:
				m.ProtocolMajor = v
			case 3:
				m.ProtocolMinor = v
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad bytes field")
			}
			b = b[n:]
			switch num {
			case 4:
				m.TunnelID = append([]byte(nil), v...)
			case 5:
				m.Signature = string(v)
			}
		default:
			return m, fmt.Errorf("wire: unsupported wire type %d", typ)
		}
	}
	return m, nil
}

// ForwardReply answers a ForwardRemote once the grid server has located the
// requested peer and is ready to relay the handshake to it.
type ForwardReply struct {
	Signature string
}

func (m ForwardReply) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Signature)
	return b
}

func UnmarshalForwardReply(b []byte) (ForwardReply, error) {
	var m ForwardReply
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad tag")
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return m, fmt.Errorf("wire: unsupported wire type %d", typ)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad bytes field")
		}
		b = b[n:]
		if num == 1 {
			m.Signature = string(v)
		}
	}
	return m, nil
}

// Forward error codes, carried inside ForwardError.Code.
const (
	ForwardServerError = 1
	ForwardPeerTimeout  = 2
)

// ForwardError answers a ForwardRemote when the grid server can't relay the
// tunnel: the peer is offline, overloaded, or some other condition applies.
type ForwardError struct {
	Code uint64
}

func (m ForwardError) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Code)
	return b
}

func UnmarshalForwardError(b []byte) (ForwardError, error) {
	var m ForwardError
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad tag")
		}
		b = b[n:]
		if typ != protowire.VarintType {
			return m, fmt.Errorf("wire: unsupported wire type %d", typ)
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad varint field")
		}
		b = b[n:]
		if num == 1 {
			m.Code = v
		}
	}
	return m, nil
}
