// Package slot implements the per-client outbound UDP socket and its
// worker (§4.5): one long-lived slot per configured
// (dispatch, slot-index) pair, reading upstream server replies and routing
// them back to the client either directly or through the accelerator.
package slot

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/embarknet/udprelay/internal/accelconn"
	"github.com/embarknet/udprelay/internal/envelope"
	"github.com/embarknet/udprelay/internal/ingress"
	"github.com/embarknet/udprelay/internal/netaddr"
	"github.com/embarknet/udprelay/internal/wirebuf"
)

// readTimeout bounds each blocking recv so the worker notices shutdown
// (socket close) or a quit flag promptly without a dedicated wake channel.
const readTimeout = 200 * time.Millisecond

// neverTouched is the initial value of lastPacketReceiveTime, chosen so a
// brand-new slot looks idle since the beginning of time and is immediately
// eligible for new-client allocation rather than waiting out one timeout
// window after startup.
const neverTouched = -1e18

// Slot is one client's outbound socket to the upstream server, plus the
// three fields the dispatch worker, the slot worker, and the accelerator
// bridge all touch concurrently (§5: "each slot struct has an embedded
// mutex protecting allocated, accelerated, and client_address").
type Slot struct {
	mu            sync.Mutex
	allocated     bool
	accelerated   bool
	clientAddress netaddr.Address

	// lastPacketReceiveTime is written only by the dispatch worker and read
	// only by the dispatch worker; no lock guards it (§5).
	lastPacketReceiveTime float64

	conn          *net.UDPConn
	dispatchIndex int
	index         int

	// serverAddress is the only address this slot's socket trusts as a
	// reply source; datagrams from anywhere else are dropped before being
	// relayed to the client or tunneled to the accelerator (matching the
	// original's slot_thread_function proxy_address_equal check against
	// config.server_address; see DESIGN.md).
	serverAddress netaddr.Address

	buf *wirebuf.Buffer

	// packetsOut and bytesOut count server->client traffic this slot has
	// forwarded, direct or accelerated alike (§12 item 5). Read by the
	// supervisor's periodic stats log.
	packetsOut atomic.Uint64
	bytesOut   atomic.Uint64
}

// Stats returns the slot's lifetime forwarded packet and byte counts.
func (s *Slot) Stats() (packets, bytes uint64) {
	return s.packetsOut.Load(), s.bytesOut.Load()
}

// New builds a Slot bound to conn, identified by (dispatchIndex, index)
// within the accelerator envelope scheme. Only datagrams arriving from
// serverAddress are ever forwarded onward.
func New(conn *net.UDPConn, dispatchIndex, index, maxPacketSize int, serverAddress netaddr.Address) *Slot {
	return &Slot{
		conn:                  conn,
		dispatchIndex:         dispatchIndex,
		index:                 index,
		serverAddress:         serverAddress,
		buf:                   wirebuf.New(maxPacketSize),
		lastPacketReceiveTime: neverTouched,
	}
}

// Conn returns the slot's outbound socket, used by the dispatch worker to
// forward client->server traffic and by the accelerator bridge's
// payload_receive_callback.
func (s *Slot) Conn() *net.UDPConn {
	return s.conn
}

// DispatchIndex and Index identify this slot within the envelope scheme.
func (s *Slot) DispatchIndex() int { return s.dispatchIndex }
func (s *Slot) Index() int         { return s.index }

// Snapshot returns allocated, accelerated, and client_address under the
// slot mutex, per §4.5 step 1.
func (s *Slot) Snapshot() (allocated, accelerated bool, client netaddr.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated, s.accelerated, s.clientAddress
}

// Allocate claims the slot for a newly-seen client, resetting accelerated
// to false (§4.6 step 2c): new sessions always start direct and are
// upgraded later by the accelerator's route_update.
func (s *Slot) Allocate(client netaddr.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocated = true
	s.accelerated = false
	s.clientAddress = client
}

// SetAccelerated flips the slot's return-path mode, called by the
// accelerator bridge's route_update_callback (§4.7).
func (s *Slot) SetAccelerated(accelerated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accelerated = accelerated
}

// Touch records the dispatch worker's observation of a packet from this
// slot's client, at monotonic time now.
func (s *Slot) Touch(now float64) {
	s.lastPacketReceiveTime = now
}

// IdleSeconds returns how long it has been since Touch, read only by the
// dispatch worker that owns this slot (§5).
func (s *Slot) IdleSeconds(now float64) float64 {
	return now - s.lastPacketReceiveTime
}

// Run is the slot worker loop (§4.5): read server replies and forward them
// to the client, directly through ingress or tunneled through the
// accelerator depending on the slot's current mode. It returns when the
// socket is closed by the supervisor during shutdown.
func (s *Slot) Run(ctx context.Context, ig *ingress.Group, accel *accelconn.Conn, ready func() bool, log *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, from, err := s.conn.ReadFromUDP(s.buf.Payload())
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		if !netaddr.FromUDPAddr(from).Equal(s.serverAddress) {
			log.Debugw("slot: dropping datagram from unexpected sender", "dispatch", s.dispatchIndex, "slot", s.index, "from", from)
			continue
		}

		allocated, accelerated, client := s.Snapshot()
		if !allocated {
			continue
		}

		if !accelerated || !ready() {
			frame := s.buf.PrependDirect(n)
			if err := ig.Send(client, frame); err != nil {
				log.Debugw("slot: direct return send failed", "dispatch", s.dispatchIndex, "slot", s.index, "error", err)
				continue
			}
			s.packetsOut.Add(1)
			s.bytesOut.Add(uint64(n))
			continue
		}

		env := envelope.Envelope{
			PacketType:    envelope.OutboundToClient,
			Client:        client,
			DispatchIndex: uint16(s.dispatchIndex),
			SlotIndex:     uint16(s.index),
		}
		frame := s.buf.PrependEnvelope(n, env)
		if err := accel.Send(frame); err != nil {
			log.Debugw("slot: accelerated tunnel send failed", "dispatch", s.dispatchIndex, "slot", s.index, "error", err)
			continue
		}
		s.packetsOut.Add(1)
		s.bytesOut.Add(uint64(n))
	}
}
