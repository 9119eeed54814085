// Package wirebuf implements the proxy's raw buffer prefixing scheme
// (design note "Raw buffer prefixing", spec §9): every datagram is received
// into a scratch buffer with 11 bytes of headroom, so that prepending a
// direct-return 0x00 byte or a full accelerator envelope never requires a
// copy of the payload itself.
package wirebuf

import "github.com/embarknet/udprelay/internal/envelope"

// Headroom is the fixed space reserved before the payload region, sized for
// the worst case: a full 11-byte accelerator envelope.
const Headroom = envelope.Size

// Buffer is a single reusable receive buffer: Headroom bytes of prefix space
// followed by up to maxPacketSize bytes of payload.
type Buffer struct {
	raw []byte
}

// New allocates a Buffer sized for payloads up to maxPacketSize.
func New(maxPacketSize int) *Buffer {
	return &Buffer{raw: make([]byte, Headroom+maxPacketSize)}
}

// Payload returns the full payload region, for handing to ReadFromUDP.
func (b *Buffer) Payload() []byte {
	return b.raw[Headroom:]
}

// PrependDirect writes a single 0x00 passthrough byte immediately before the
// n-byte payload already sitting in the buffer, and returns the combined
// slice ready to send.
func (b *Buffer) PrependDirect(n int) []byte {
	b.raw[Headroom-1] = 0x00
	return b.raw[Headroom-1 : Headroom+n]
}

// PrependEnvelope encodes e into the buffer's full 11-byte headroom,
// immediately before the n-byte payload, and returns the combined slice
// ready to send to the accelerator's loopback ingress.
func (b *Buffer) PrependEnvelope(n int, e envelope.Envelope) []byte {
	envelope.Encode(b.raw[:Headroom], e)
	return b.raw[:Headroom+n]
}
