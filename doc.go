// Package opensdg implements a client for the "grid" overlay network used by
// small cloud-connected appliances (thermostats and similar). A process uses
// it to authenticate to a grid server, look up a remote peer by its
// long-term public key, and open an end-to-end encrypted tunnel to that peer
// so application-level protobuf messages can be exchanged. Transport is TCP;
// cryptography is Curve25519/Salsa20/Poly1305 in the CurveCP style.
//
// Wire format
//
// Every on-wire packet is preceded by a 2-byte big-endian length giving the
// size of the body only. Bodies begin with an 8-byte header: a 16-bit magic,
// a 16-bit reserved field, and a 4-byte ASCII command tag.
//
//	frame  := length:u16 body[length]
//	body   := header(8) payload(length-8)
//	header := magic:u16(const) reserved:u16 command:char[4]
//
// Handshake bodies (all multi-byte integers big-endian unless noted):
//
//	WELC := header  serverLongTermPubkey:32
//	HELO := header  clientEphemeralPubkey:32  nonceTail:u64  ciphertext:80
//	COOK := header  nonceTail:u128  ciphertext:144
//	VOCH := header  nonceTail:u64  cookie:96  ciphertext:(>=96, variable)
//	REDY := header  nonceTail:u64  ciphertext:(variable)
//	MESG := header  nonceTail:u64  ciphertext:(variable)
//
// Pre-handshake peer tunnelling frames share the 2-byte length prefix but
// carry a one-byte message type at offset 2 instead of the packet_header
// magic:
//
//	dataFrame := length:u16  type:u8  payload:protobuf
//
// Inside a MESG ciphertext, once opened: dataSize:u16 data:dataSize. For a
// grid MESG, data[0] is a one-byte dataType and data[1:] is the protobuf
// body.
//
// Nonce prefixes (ASCII, byte-exact): "CurveCP-client-H", "CurveCP-client-I",
// "CurveCP-client-M", "CurveCP-server-R", "CurveCP-server-M" (16 bytes);
// "CurveCPK", "CurveCPV" (8 bytes).
//
// Concurrency
//
// One goroutine, the reactor (see Run), owns all socket I/O. Connection
// objects are safe to use from other goroutines: Send enqueues work onto the
// reactor rather than touching the socket directly.
package opensdg
