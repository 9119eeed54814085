// Package envelope encodes and decodes the 11-byte internal prefix carried
// on every proxy<->accelerator loopback datagram (spec of the proxy/
// accelerator boundary, §6.3): packet type, client address, and the
// (dispatch, slot) pair that owns the client's slot socket.
package envelope

import (
	"encoding/binary"
	"fmt"

	"github.com/embarknet/udprelay/internal/netaddr"
)

// Size is the fixed length of the envelope prefix.
const Size = 11

// OutboundToClient marks a frame the accelerator is handing back to the
// proxy for direct delivery to the client (packet type 0xFE).
const OutboundToClient = 0xFE

// Notify marks the dispatch worker's new-session notification frame, which
// carries no inner payload.
const Notify = 0x00

// Envelope is the decoded form of the 11-byte prefix.
type Envelope struct {
	PacketType    byte
	Client        netaddr.Address
	DispatchIndex uint16
	SlotIndex     uint16
}

// Encode writes the 11-byte envelope for e into dst[0:11]. dst must have at
// least Size bytes.
func Encode(dst []byte, e Envelope) {
	_ = dst[Size-1]
	dst[0] = e.PacketType
	copy(dst[1:5], e.Client.IPv4[:])
	binary.BigEndian.PutUint16(dst[5:7], e.Client.Port)
	binary.BigEndian.PutUint16(dst[7:9], e.DispatchIndex)
	binary.BigEndian.PutUint16(dst[9:11], e.SlotIndex)
}

// Decode reads an Envelope from the first Size bytes of src.
func Decode(src []byte) (Envelope, error) {
	if len(src) < Size {
		return Envelope{}, fmt.Errorf("envelope: frame too short: %d bytes", len(src))
	}
	var e Envelope
	e.PacketType = src[0]
	e.Client = netaddr.Address{
		Kind: netaddr.KindIPv4,
		Port: binary.BigEndian.Uint16(src[5:7]),
		IPv4: [4]byte{src[1], src[2], src[3], src[4]},
	}
	e.DispatchIndex = binary.BigEndian.Uint16(src[7:9])
	e.SlotIndex = binary.BigEndian.Uint16(src[9:11])
	return e, nil
}
