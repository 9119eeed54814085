// Package dispatch implements the dispatch worker (§4.6): one per
// SO_REUSEPORT ingress socket, owning an exclusive session table and
// routing each inbound datagram to either the upstream server (passthrough)
// or the accelerator bridge (everything else).
package dispatch

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/embarknet/udprelay/internal/accelconn"
	"github.com/embarknet/udprelay/internal/config"
	"github.com/embarknet/udprelay/internal/envelope"
	"github.com/embarknet/udprelay/internal/filter"
	"github.com/embarknet/udprelay/internal/netaddr"
	"github.com/embarknet/udprelay/internal/session"
	"github.com/embarknet/udprelay/internal/slot"
	"github.com/embarknet/udprelay/internal/wirebuf"
)

// readTimeout bounds each blocking recv, the same way the slot worker's does.
const readTimeout = 200 * time.Millisecond

// Worker is one dispatch worker: its own ingress socket, its own session
// table, and the slots it is responsible for allocating.
type Worker struct {
	index int
	conn  *net.UDPConn
	slots []*slot.Slot
	table *session.Table
	cfg   *config.Config
	accel *accelconn.Conn
	log   *zap.SugaredLogger

	lastSwap float64

	// packetsIn and bytesIn count every datagram this worker has received on
	// its ingress socket, passthrough and non-passthrough alike, including
	// ones later dropped by the filter or for lack of a slot (§12 item 5).
	packetsIn atomic.Uint64
	bytesIn   atomic.Uint64
}

// Stats returns the worker's lifetime inbound packet and byte counts.
func (w *Worker) Stats() (packets, bytes uint64) {
	return w.packetsIn.Load(), w.bytesIn.Load()
}

// New builds a dispatch worker. slots must be this worker's own
// NumSlotsPerThread slots, in slot-index order.
func New(index int, conn *net.UDPConn, slots []*slot.Slot, cfg *config.Config, accel *accelconn.Conn, log *zap.SugaredLogger) *Worker {
	return &Worker{
		index: index,
		conn:  conn,
		slots: slots,
		table: session.New(session.DefaultCapacity),
		cfg:   cfg,
		accel: accel,
		log:   log,
	}
}

// Run is the dispatch worker loop (§4.6). It returns when the ingress
// socket is closed by the supervisor during shutdown.
func (w *Worker) Run(ctx context.Context) {
	buf := wirebuf.New(w.cfg.MaxPacketSize)
	w.lastSwap = netaddr.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := w.conn.ReadFromUDP(buf.Payload())
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		now := netaddr.Now()
		if now-w.lastSwap >= w.cfg.SlotTimeoutSeconds/2 {
			w.table.Swap()
			w.lastSwap = now
		}

		from := netaddr.FromUDPAddr(addr)
		data := buf.Payload()[:n]

		w.packetsIn.Add(1)
		w.bytesIn.Add(uint64(n))

		if filter.IsPassthrough(data) {
			w.handlePassthrough(data, from, now)
		} else {
			w.handleNonPassthrough(buf, n, data, from)
		}
	}
}

// handlePassthrough implements §4.6 step 2: forward to an already-allocated
// slot, or allocate a free one and notify the accelerator of the new
// session.
func (w *Worker) handlePassthrough(data []byte, from netaddr.Address, now float64) {
	if idx := w.table.Get(from); idx >= 0 {
		s := w.slots[idx]
		if allocated, _, _ := s.Snapshot(); allocated {
			w.forwardToServer(s, data[1:])
			s.Touch(now)
			return
		}
	}

	for i, s := range w.slots {
		if s.IdleSeconds(now) < w.cfg.SlotTimeoutSeconds {
			continue
		}

		s.Allocate(from)
		w.table.Insert(from, i)
		s.Touch(now)
		w.forwardToServer(s, data[1:])
		w.notifyNewSession(from, i)
		return
	}

	w.log.Debugw("dispatch: no free slot for new client", "dispatch", w.index, "client", from)
}

// handleNonPassthrough implements §4.6 step 3: basic-filter, require an
// already-known session, and tunnel the whole typed packet to the
// accelerator with its envelope prefix.
func (w *Worker) handleNonPassthrough(buf *wirebuf.Buffer, n int, data []byte, from netaddr.Address) {
	if !filter.BasicFilter(data) {
		return
	}

	idx := w.table.Get(from)
	if idx < 0 {
		return
	}
	if allocated, _, _ := w.slots[idx].Snapshot(); !allocated {
		return
	}

	env := envelope.Envelope{
		PacketType:    data[0],
		Client:        from,
		DispatchIndex: uint16(w.index),
		SlotIndex:     uint16(idx),
	}
	frame := buf.PrependEnvelope(n, env)
	if err := w.accel.Send(frame); err != nil {
		w.log.Debugw("dispatch: tunnel to accelerator failed", "dispatch", w.index, "client", from, "error", err)
	}
}

func (w *Worker) forwardToServer(s *slot.Slot, payload []byte) {
	if _, err := s.Conn().WriteToUDP(payload, w.cfg.ServerAddress.ToUDPAddr()); err != nil {
		w.log.Debugw("dispatch: forward to server failed", "dispatch", w.index, "slot", s.Index(), "error", err)
	}
}

func (w *Worker) notifyNewSession(client netaddr.Address, slotIndex int) {
	var frame [envelope.Size]byte
	envelope.Encode(frame[:], envelope.Envelope{
		PacketType:    envelope.Notify,
		Client:        client,
		DispatchIndex: uint16(w.index),
		SlotIndex:     uint16(slotIndex),
	})
	if err := w.accel.Send(frame[:]); err != nil {
		w.log.Debugw("dispatch: new-session notify failed", "dispatch", w.index, "client", client, "error", err)
	}
}
