// Package accelerator implements the bridge between the proxy's dispatch
// and slot planes and the external acceleration runtime (§4.7, §6.5): a
// single worker that drives the runtime's update loop and answers its four
// callbacks.
package accelerator

import "github.com/embarknet/udprelay/internal/netaddr"

// PacketReceiveFunc is invoked by the runtime for each datagram arriving on
// its own bind socket. from is an in/out parameter: the callback may
// rewrite it so the runtime's own session logic sees the unwrapped client
// address rather than the proxy's loopback peer. begin/end delimit the
// still-unprocessed region of buf; the callback advances begin (or zeroes
// the range) to tell the runtime how much of buf remains for its own
// protocol (§4.7a-d).
type PacketReceiveFunc func(from *netaddr.Address, buf []byte, begin, end *int)

// SendPacketToAddressFunc is invoked by the runtime when it wants to emit a
// packet to a client over the public wire (§4.7, send_packet_to_address).
type SendPacketToAddressFunc func(to netaddr.Address, buf []byte, length int)

// PayloadReceiveFunc is invoked once the runtime has decapsulated an
// accelerated client->server payload (§4.7, payload_receive).
type PayloadReceiveFunc func(client netaddr.Address, payload []byte, length int)

// RouteUpdateFunc is invoked when the runtime changes a client's return-path
// mode (§4.7, route_update).
type RouteUpdateFunc func(client netaddr.Address, accelerated bool)

// Callbacks bundles the four integration-surface callbacks the bridge
// registers with the runtime through SetCallbacks.
type Callbacks struct {
	PacketReceive       PacketReceiveFunc
	SendPacketToAddress SendPacketToAddressFunc
	PayloadReceive      PayloadReceiveFunc
	RouteUpdate         RouteUpdateFunc
}

// Runtime is the accelerator integration contract (§6.5): the operations
// the bridge consumes from the external acceleration library. It is
// implemented here as a Go interface rather than cgo bindings so the
// bridge's own logic can be exercised against StubRuntime without the
// proprietary SDK (see DESIGN.md).
type Runtime interface {
	Init() error
	Term()

	CreateServer(publicAddress, bindAddress netaddr.Address, datacenter string, privateKey [32]byte) error
	DestroyServer()

	SetCallbacks(cb Callbacks)

	// Update pumps the runtime once: draining its bind socket and invoking
	// registered callbacks synchronously. Called at ~60 Hz by Bridge.Run.
	Update()
	Flush()
	Ready() bool

	// UpgradeSession promotes a newly-observed client to an accelerated
	// session candidate, returning a runtime-assigned session identifier.
	UpgradeSession(address netaddr.Address, userID uint64) (sessionID uint64, err error)

	SendPacket(to netaddr.Address, data []byte) error

	// Magic is the runtime's current protocol magic, used to authenticate
	// packets the bridge rewrites on the accelerator's behalf (§4.7,
	// send_packet_to_address_callback).
	Magic() [8]byte

	// BindAddress is the runtime's internal UDP socket address (§6.5:
	// "access to the server's internal UDP socket"), the target the proxy's
	// dispatch and slot workers tunnel frames to.
	BindAddress() netaddr.Address
}
