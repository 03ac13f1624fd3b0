package wire

import "testing"

func TestProtocolVersionRoundTrip(t *testing.T) {
	m := ProtocolVersion{Magic: 0x05175175, Major: 1, Minor: 2}
	got, err := UnmarshalProtocolVersion(m.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestForwardRemoteRoundTrip(t *testing.T) {
	m := ForwardRemote{
		Magic:         0x05175175,
		ProtocolMajor: 1,
		ProtocolMinor: 0,
		TunnelID:      []byte{0xde, 0xad, 0xbe, 0xef},
		Signature:     "FORWARD_REMOTE_SIGNATURE",
	}
	got, err := UnmarshalForwardRemote(m.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Magic != m.Magic || got.ProtocolMajor != m.ProtocolMajor || got.ProtocolMinor != m.ProtocolMinor {
		t.Fatalf("scalar field mismatch: got %+v want %+v", got, m)
	}
	if string(got.TunnelID) != string(m.TunnelID) {
		t.Fatalf("tunnel id mismatch: got %x want %x", got.TunnelID, m.TunnelID)
	}
	if got.Signature != m.Signature {
		t.Fatalf("signature mismatch: got %q want %q", got.Signature, m.Signature)
	}
}

func TestForwardReplyRoundTrip(t *testing.T) {
	m := ForwardReply{Signature: "FORWARD_REMOTE_SIGNATURE"}
	got, err := UnmarshalForwardReply(m.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
	}
}

func TestForwardErrorRoundTrip(t *testing.T) {
	for _, code := range []uint64{ForwardServerError, ForwardPeerTimeout} {
		m := ForwardError{Code: code}
		got, err := UnmarshalForwardError(m.Marshal())
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got != m {
			t.Fatalf("round trip mismatch for code %d: got %+v", code, got)
		}
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalProtocolVersion([]byte{0xff}); err == nil {
		t.Fatalf("expected an error unmarshalling a truncated varint field")
	}
}
