// Package supervisor builds and runs the full proxy topology: the ingress
// socket group, every dispatch worker, every slot, and the accelerator
// bridge, then tears them down in order on shutdown (§5).
package supervisor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/embarknet/udprelay/internal/accelconn"
	"github.com/embarknet/udprelay/internal/accelerator"
	"github.com/embarknet/udprelay/internal/config"
	"github.com/embarknet/udprelay/internal/dispatch"
	"github.com/embarknet/udprelay/internal/ingress"
	"github.com/embarknet/udprelay/internal/slot"
	"github.com/embarknet/udprelay/internal/socketutil"
	"github.com/embarknet/udprelay/internal/xcmd"
)

// Supervisor owns every socket and goroutine the proxy runs, and is
// responsible for both bringing them up in dependency order (ingress sockets
// and slots, then the accelerator runtime and bridge, then dispatch workers,
// which need the others to exist first) and tearing them down afterward.
type Supervisor struct {
	cfg *config.Config
	log *zap.SugaredLogger

	ingressConns []*net.UDPConn
	ingress      *ingress.Group

	allSlots []*slot.Slot

	runtime     accelerator.Runtime
	accelTunnel *accelconn.Conn
	bridge      *accelerator.Bridge

	dispatchWorkers []*dispatch.Worker
}

// New builds every socket and component of the proxy, but starts nothing.
// Callers must call Run to begin serving traffic.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Supervisor, error) {
	s := &Supervisor{cfg: cfg, log: log}

	if err := s.openIngressSockets(); err != nil {
		return nil, err
	}
	if err := s.openSlots(); err != nil {
		return nil, err
	}
	if err := s.startAcceleratorRuntime(); err != nil {
		return nil, err
	}

	s.bridge = accelerator.New(s.runtime, s.ingress, s.allSlots, cfg, log.Named("accelerator"))

	tunnel, err := accelconn.Dial(s.runtime.BindAddress())
	if err != nil {
		return nil, fmt.Errorf("supervisor: failed to dial accelerator loopback: %w", err)
	}
	s.accelTunnel = tunnel

	s.dispatchWorkers = make([]*dispatch.Worker, cfg.NumThreads)
	for d := 0; d < cfg.NumThreads; d++ {
		workerSlots := s.allSlots[d*cfg.NumSlotsPerThread : (d+1)*cfg.NumSlotsPerThread]
		s.dispatchWorkers[d] = dispatch.New(d, s.ingressConns[d], workerSlots, cfg, s.accelTunnel, log.Named("dispatch").With("dispatch", d))
	}

	return s, nil
}

func (s *Supervisor) openIngressSockets() error {
	s.ingressConns = make([]*net.UDPConn, s.cfg.NumThreads)
	for i := 0; i < s.cfg.NumThreads; i++ {
		conn, err := socketutil.ListenUDPReusePort(s.cfg.ProxyBindAddressRaw)
		if err != nil {
			return fmt.Errorf("supervisor: failed to open ingress socket %d: %w", i, err)
		}
		socketutil.SetBufferSizes(conn, s.cfg.SocketSendBufferSize, s.cfg.SocketReceiveBufferSize)
		s.ingressConns[i] = conn
	}
	s.ingress = ingress.NewGroup(s.ingressConns)
	return nil
}

// openSlots binds every slot socket to the same host as the proxy's public
// bind address, only varying the port (matching the original's
// slot_thread_function, which copies config.bind_address and overwrites
// just the port): the slot's outbound socket must share the host the proxy
// itself is reachable on, or it cannot route to a non-loopback
// server_address.
func (s *Supervisor) openSlots() error {
	bindHost, _, err := net.SplitHostPort(s.cfg.ProxyBindAddressRaw)
	if err != nil {
		return fmt.Errorf("supervisor: failed to parse proxy bind address %q: %w", s.cfg.ProxyBindAddressRaw, err)
	}

	s.allSlots = make([]*slot.Slot, 0, s.cfg.NumThreads*s.cfg.NumSlotsPerThread)
	for d := 0; d < s.cfg.NumThreads; d++ {
		for i := 0; i < s.cfg.NumSlotsPerThread; i++ {
			addr := net.JoinHostPort(bindHost, strconv.Itoa(s.cfg.SlotPort(d, i)))
			conn, err := socketutil.ListenUDP(addr)
			if err != nil {
				return fmt.Errorf("supervisor: failed to open slot socket (dispatch %d, slot %d): %w", d, i, err)
			}
			socketutil.SetBufferSizes(conn, s.cfg.SocketSendBufferSize, s.cfg.SocketReceiveBufferSize)
			s.allSlots = append(s.allSlots, slot.New(conn, d, i, s.cfg.MaxPacketSize, s.cfg.ServerAddress))
		}
	}
	return nil
}

func (s *Supervisor) startAcceleratorRuntime() error {
	runtime := accelerator.NewStubRuntime(s.cfg.MaxPacketSize)
	if err := runtime.Init(); err != nil {
		return fmt.Errorf("supervisor: accelerator init failed: %w", err)
	}

	var privateKey [32]byte
	if err := runtime.CreateServer(s.cfg.ProxyAddress, s.cfg.AcceleratorBindAddress, "default", privateKey); err != nil {
		return fmt.Errorf("supervisor: accelerator create_server failed: %w", err)
	}

	s.runtime = runtime
	return nil
}

// Run starts every worker and blocks until ctx is canceled or a SIGINT/
// SIGTERM arrives, then closes every socket and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)

	for _, w := range s.dispatchWorkers {
		w := w
		wg.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}

	for _, sl := range s.allSlots {
		sl := sl
		wg.Go(func() error {
			sl.Run(ctx, s.ingress, s.accelTunnel, s.runtime.Ready, s.log.Named("slot"))
			return nil
		})
	}

	wg.Go(func() error {
		s.bridge.Run(ctx)
		return nil
	})

	wg.Go(func() error {
		s.logStats(ctx)
		return nil
	})

	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		s.log.Infow("caught signal, shutting down", "error", err)
		return err
	})

	err := wg.Wait()
	s.Close()
	return err
}

// statsInterval controls how often logStats reports traffic counters
// (§12 item 5).
const statsInterval = 30 * time.Second

// logStats periodically reports, at Info level and until ctx is canceled,
// the lifetime packet and byte counts summed over all slots (outbound) and
// over all dispatch workers (inbound).
func (s *Supervisor) logStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var outPackets, outBytes uint64
			for _, sl := range s.allSlots {
				packets, bytes := sl.Stats()
				outPackets += packets
				outBytes += bytes
			}
			var inPackets, inBytes uint64
			for _, w := range s.dispatchWorkers {
				packets, bytes := w.Stats()
				inPackets += packets
				inBytes += bytes
			}
			s.log.Infow("traffic stats", "packetsIn", inPackets, "bytesIn", inBytes, "packetsOut", outPackets, "bytesOut", outBytes)
		}
	}
}

// Close flushes the accelerator runtime, then releases every socket the
// supervisor opened (§12 item 4: flush ordered before socket close, so any
// accelerated traffic already queued inside the runtime gets a chance to
// drain rather than being dropped mid-flight). Safe to call after Run
// returns; idempotent otherwise is not guaranteed, matching the teacher's
// single-shot Close convention.
func (s *Supervisor) Close() {
	if s.runtime != nil {
		s.runtime.Flush()
	}

	for _, conn := range s.ingressConns {
		_ = conn.Close()
	}
	for _, sl := range s.allSlots {
		_ = sl.Conn().Close()
	}
	if s.accelTunnel != nil {
		_ = s.accelTunnel.Close()
	}
	if s.runtime != nil {
		s.runtime.Term()
	}
}
