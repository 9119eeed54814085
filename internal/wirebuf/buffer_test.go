package wirebuf

import (
	"bytes"
	"testing"

	"github.com/embarknet/udprelay/internal/envelope"
	"github.com/embarknet/udprelay/internal/netaddr"
)

func TestPrependDirect(t *testing.T) {
	buf := New(64)
	n := copy(buf.Payload(), []byte("xyz"))

	out := buf.PrependDirect(n)
	if !bytes.Equal(out, []byte{0x00, 'x', 'y', 'z'}) {
		t.Errorf("PrependDirect = %v, want [0 x y z]", out)
	}
}

func TestPrependEnvelope(t *testing.T) {
	buf := New(64)
	n := copy(buf.Payload(), []byte("payload"))

	e := envelope.Envelope{
		PacketType:    envelope.Notify,
		Client:        netaddr.MustParse("127.0.0.1:55001"),
		DispatchIndex: 1,
		SlotIndex:     2,
	}
	out := buf.PrependEnvelope(n, e)
	if len(out) != Headroom+n {
		t.Fatalf("len(out) = %d, want %d", len(out), Headroom+n)
	}
	if !bytes.Equal(out[Headroom:], []byte("payload")) {
		t.Errorf("payload region = %q, want %q", out[Headroom:], "payload")
	}

	got, err := envelope.Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != e {
		t.Errorf("Decode(out) = %+v, want %+v", got, e)
	}
}
