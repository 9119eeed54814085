package accelerator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/embarknet/udprelay/internal/config"
	"github.com/embarknet/udprelay/internal/envelope"
	"github.com/embarknet/udprelay/internal/filter"
	"github.com/embarknet/udprelay/internal/fnvhash"
	"github.com/embarknet/udprelay/internal/ingress"
	"github.com/embarknet/udprelay/internal/netaddr"
	"github.com/embarknet/udprelay/internal/session"
	"github.com/embarknet/udprelay/internal/slot"
)

// updateInterval drives the runtime's pump loop at ~60 Hz (§4.7).
const updateInterval = time.Second / 60

// Bridge hosts the accelerator runtime and owns its own session table
// exclusively (§5): no other goroutine ever touches it.
type Bridge struct {
	runtime Runtime
	table   *session.Table
	ingress *ingress.Group

	// allSlots is every slot across every dispatch worker, flattened in
	// dispatchIndex*numSlotsPerThread+slotIndex order, matching how the
	// accelerator-side session table's values are computed.
	allSlots          []*slot.Slot
	numSlotsPerThread int

	cfg *config.Config
	log *zap.SugaredLogger

	lastSwap float64
}

// New builds a Bridge around runtime and registers its callbacks.
// allSlots must be flattened in dispatchIndex*cfg.NumSlotsPerThread+slotIndex
// order.
func New(runtime Runtime, ig *ingress.Group, allSlots []*slot.Slot, cfg *config.Config, log *zap.SugaredLogger) *Bridge {
	b := &Bridge{
		runtime:           runtime,
		table:             session.New(session.DefaultCapacity),
		ingress:           ig,
		allSlots:          allSlots,
		numSlotsPerThread: cfg.NumSlotsPerThread,
		cfg:               cfg,
		log:               log,
	}
	runtime.SetCallbacks(Callbacks{
		PacketReceive:       b.packetReceive,
		SendPacketToAddress: b.sendPacketToAddress,
		PayloadReceive:      b.payloadReceive,
		RouteUpdate:         b.routeUpdate,
	})
	return b
}

func (b *Bridge) globalSlotIndex(dispatchIndex, slotIndex uint16) int {
	return int(dispatchIndex)*b.numSlotsPerThread + int(slotIndex)
}

func (b *Bridge) slotAt(globalIndex int) (*slot.Slot, bool) {
	if globalIndex < 0 || globalIndex >= len(b.allSlots) {
		return nil, false
	}
	return b.allSlots[globalIndex], true
}

// packetReceive implements §4.7's packet_receive_callback.
func (b *Bridge) packetReceive(from *netaddr.Address, buf []byte, begin, end *int) {
	now := netaddr.Now()
	if now-b.lastSwap >= b.cfg.SlotTimeoutSeconds {
		b.table.Swap()
		b.lastSwap = now
	}

	// A frame no longer than the envelope carries no inner packet and is
	// dropped (§4.7a), except the dispatch worker's envelope-only notify
	// frame, which must still reach the upgrade path below.
	length := *end - *begin
	if length < envelope.Size || (length == envelope.Size && buf[*begin] != envelope.Notify) {
		*begin = *end
		return
	}

	env, err := envelope.Decode(buf[*begin:])
	if err != nil {
		*begin = *end
		return
	}

	switch {
	case env.PacketType == envelope.OutboundToClient:
		payload := buf[*begin+envelope.Size : *end]
		if err := b.ingress.Send(env.Client, payload); err != nil {
			b.log.Debugw("accelerator: forward to client failed", "client", env.Client, "error", err)
		}
		*begin, *end = 0, 0

	case filter.IsAcceleratorType(filter.PacketType(env.PacketType)):
		*from = env.Client
		globalIndex := b.globalSlotIndex(env.DispatchIndex, env.SlotIndex)
		if b.table.Update(env.Client, globalIndex) {
			userID := fnvhash.Sum64([]byte(env.Client.String()))
			if _, err := b.runtime.UpgradeSession(env.Client, userID); err != nil {
				b.log.Debugw("accelerator: upgrade_session failed", "client", env.Client, "error", err)
			}
		}
		*begin += envelope.Size

	default:
		// Unrecognized envelope type: leave begin/end untouched (§4.7d).
	}
}

// sendPacketToAddress implements §4.7's send_packet_to_address_callback:
// non-passthrough packets get their chonkle/pittle recomputed as if the
// proxy itself produced them, then go out through the hashed ingress
// socket.
func (b *Bridge) sendPacketToAddress(to netaddr.Address, buf []byte, length int) {
	data := buf[:length]
	if len(data) > 0 && data[0] != 0 {
		filter.WriteChecksums(data, b.cfg.ProxyAddress, to, b.runtime.Magic())
	}
	if err := b.ingress.Send(to, data); err != nil {
		b.log.Debugw("accelerator: send_packet_to_address failed", "to", to, "error", err)
	}
}

// payloadReceive implements §4.7's payload_receive_callback.
func (b *Bridge) payloadReceive(client netaddr.Address, payload []byte, length int) {
	s, ok := b.slotAt(b.table.Get(client))
	if !ok {
		return
	}
	if _, err := s.Conn().WriteToUDP(payload[:length], b.cfg.ServerAddress.ToUDPAddr()); err != nil {
		b.log.Debugw("accelerator: forward decapsulated payload to server failed", "client", client, "error", err)
	}
}

// routeUpdate implements §4.7's route_update_callback.
func (b *Bridge) routeUpdate(client netaddr.Address, accelerated bool) {
	s, ok := b.slotAt(b.table.Get(client))
	if !ok {
		return
	}
	s.SetAccelerated(accelerated)
}

// Run drives the runtime's update loop at ~60 Hz until ctx is canceled
// (§4.7's "main loop repeatedly invokes the accelerator's update
// entry-point"). While the runtime reports itself not ready, the pump backs
// off exponentially instead of busy-polling at the full update rate.
func (b *Bridge) Run(ctx context.Context) {
	b.lastSwap = netaddr.Now()

	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	notReadyBackoff := backoff.NewExponentialBackOff()
	notReadyBackoff.MaxInterval = time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.runtime.Ready() {
				wait := notReadyBackoff.NextBackOff()
				b.log.Debugw("accelerator: runtime not ready, backing off", "wait", wait)
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
			notReadyBackoff.Reset()
			b.runtime.Update()
		}
	}
}
