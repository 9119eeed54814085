package envelope

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/embarknet/udprelay/internal/netaddr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := Envelope{
		PacketType:    OutboundToClient,
		Client:        netaddr.MustParse("127.0.0.1:55001"),
		DispatchIndex: 3,
		SlotIndex:     512,
	}
	buf := make([]byte, Size)
	Encode(buf, want)

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode(Encode(e)) mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := Decode(make([]byte, Size-1)); err == nil {
		t.Errorf("Decode of short buffer: want error, got nil")
	}
}
