// Package filter implements packet classification and the two-stage packet
// filter (basic + advanced) that authenticates every non-passthrough packet
// crossing the proxy, per spec §4.3. "Chonkle" and "pittle" are the two
// checksums embedded in every typed (non-passthrough) packet; basic_filter
// does a cheap structural pre-check on the chonkle bytes alone, and
// advanced_filter fully recomputes both from the (from, to, length, magic)
// tuple.
package filter

// PacketType identifies an accelerator control/data packet. Only relevant
// for packets whose first byte is non-zero; a first byte of 0x00 always
// means Passthrough and is never classified further.
type PacketType uint8

const (
	Passthrough     PacketType = 0
	Direct          PacketType = 1
	DirectPing      PacketType = 2
	UpgradeResponse PacketType = 5
	RouteRequest    PacketType = 9
	ClientToServer  PacketType = 11
	Ping            PacketType = 13
	ContinueRequest PacketType = 15
	ClientStats     PacketType = 17
	RouteUpdateAck  PacketType = 19

	// ForwardPacketToClient is an internal marker used on the proxy <->
	// accelerator loopback path (§6.3 offset 0 == 0xFE). It never appears on
	// the public wire from a real client.
	ForwardPacketToClient PacketType = 254
)

// wireAllowList enumerates the packet types the basic filter accepts in
// byte 0 of a non-passthrough packet. ForwardPacketToClient is deliberately
// excluded: it is an internal envelope marker, never a client-originated
// wire type.
var wireAllowList = map[PacketType]struct{}{
	Direct:          {},
	DirectPing:      {},
	UpgradeResponse: {},
	RouteRequest:    {},
	ClientToServer:  {},
	Ping:            {},
	ContinueRequest: {},
	ClientStats:     {},
	RouteUpdateAck:  {},
}

// envelopeAllowList is the full enumerated accelerator packet-type set
// (§4.3), including Passthrough: the accelerator bridge's
// packet_receive_callback dispatches on this wider set, since the dispatch
// worker's own new-session notify frame carries type Passthrough (0x00) and
// must still reach the accelerator's upgrade_session path (§4.7c). This is
// deliberately broader than wireAllowList, which gates the public wire and
// never admits a client-originated 0x00 byte (that byte always means
// "passthrough", handled before classification even begins).
var envelopeAllowList = map[PacketType]struct{}{
	Passthrough:     {},
	Direct:          {},
	DirectPing:      {},
	UpgradeResponse: {},
	RouteRequest:    {},
	ClientToServer:  {},
	Ping:            {},
	ContinueRequest: {},
	ClientStats:     {},
	RouteUpdateAck:  {},
}

// IsAcceleratorType reports whether t is one of the recognized accelerator
// envelope types (used by the accelerator bridge's packet_receive_callback
// allow-list, §4.7c).
func IsAcceleratorType(t PacketType) bool {
	_, ok := envelopeAllowList[t]
	return ok
}

// IsPassthrough reports whether data's first byte marks it as an opaque
// passthrough payload (§3 invariant: passthrough packets are identified
// exclusively by a first byte of 0x00).
func IsPassthrough(data []byte) bool {
	return len(data) > 0 && data[0] == 0x00
}
