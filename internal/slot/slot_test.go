package slot

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/embarknet/udprelay/internal/accelconn"
	"github.com/embarknet/udprelay/internal/envelope"
	"github.com/embarknet/udprelay/internal/ingress"
	"github.com/embarknet/udprelay/internal/netaddr"
)

func TestSnapshotReflectsAllocateAndSetAccelerated(t *testing.T) {
	s := New(nil, 0, 0, 1500, netaddr.None)

	if allocated, _, _ := s.Snapshot(); allocated {
		t.Fatalf("new slot should not be allocated")
	}

	client := netaddr.MustParse("127.0.0.1:55001")
	s.Allocate(client)

	allocated, accelerated, got := s.Snapshot()
	if !allocated || accelerated || !got.Equal(client) {
		t.Errorf("after Allocate: allocated=%v accelerated=%v client=%s, want true false %s", allocated, accelerated, got, client)
	}

	s.SetAccelerated(true)
	if _, accelerated, _ := s.Snapshot(); !accelerated {
		t.Errorf("after SetAccelerated(true): accelerated = false, want true")
	}
}

func TestIdleSecondsTracksTouch(t *testing.T) {
	s := New(nil, 0, 0, 1500, netaddr.None)
	s.Touch(100)
	if got := s.IdleSeconds(130); got != 30 {
		t.Errorf("IdleSeconds(130) after Touch(100) = %v, want 30", got)
	}
}

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return conn
}

func TestRunDirectReturnGoesThroughIngress(t *testing.T) {
	serverSideOfSlot := listenLoopback(t)
	defer serverSideOfSlot.Close()

	ingressConn := listenLoopback(t)
	defer ingressConn.Close()
	ig := ingress.NewGroup([]*net.UDPConn{ingressConn})

	clientConn := listenLoopback(t)
	defer clientConn.Close()
	clientAddr := netaddr.FromUDPAddr(clientConn.LocalAddr().(*net.UDPAddr))

	upstream := listenLoopback(t)
	defer upstream.Close()
	serverAddress := netaddr.FromUDPAddr(upstream.LocalAddr().(*net.UDPAddr))

	s := New(serverSideOfSlot, 0, 0, 1500, serverAddress)
	s.Allocate(clientAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zap.NewNop().Sugar()

	go s.Run(ctx, ig, nil, func() bool { return true }, log)

	if _, err := upstream.WriteToUDP([]byte("xyz"), serverSideOfSlot.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := clientConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("client did not receive forwarded reply: %v", err)
	}
	if got := string(buf[:n]); got != "\x00xyz" {
		t.Errorf("client received %q, want %q", got, "\x00xyz")
	}
}

func TestRunAcceleratedTunnelsToAccelerator(t *testing.T) {
	serverSideOfSlot := listenLoopback(t)
	defer serverSideOfSlot.Close()

	accelListener := listenLoopback(t)
	defer accelListener.Close()
	accelBind := netaddr.FromUDPAddr(accelListener.LocalAddr().(*net.UDPAddr))
	accelTunnel, err := accelconn.Dial(accelBind)
	if err != nil {
		t.Fatalf("accelconn.Dial: %v", err)
	}
	defer accelTunnel.Close()

	upstream := listenLoopback(t)
	defer upstream.Close()
	serverAddress := netaddr.FromUDPAddr(upstream.LocalAddr().(*net.UDPAddr))

	clientAddr := netaddr.MustParse("127.0.0.1:55002")
	s := New(serverSideOfSlot, 2, 9, 1500, serverAddress)
	s.Allocate(clientAddr)
	s.SetAccelerated(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zap.NewNop().Sugar()

	go s.Run(ctx, nil, accelTunnel, func() bool { return true }, log)

	if _, err := upstream.WriteToUDP([]byte("reply"), serverSideOfSlot.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = accelListener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := accelListener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("accelerator did not receive tunneled frame: %v", err)
	}

	env, err := envelope.Decode(buf[:n])
	if err != nil {
		t.Fatalf("envelope.Decode: %v", err)
	}
	if env.PacketType != envelope.OutboundToClient || env.DispatchIndex != 2 || env.SlotIndex != 9 || !env.Client.Equal(clientAddr) {
		t.Errorf("envelope = %+v, want type=0xFE dispatch=2 slot=9 client=%s", env, clientAddr)
	}
	if got := string(buf[envelope.Size:n]); got != "reply" {
		t.Errorf("payload = %q, want %q", got, "reply")
	}

	if packets, bytes := s.Stats(); packets != 1 || bytes != uint64(len("reply")) {
		t.Errorf("Stats() = (%d, %d), want (1, %d)", packets, bytes, len("reply"))
	}
}

// TestRunDropsReplyFromUnexpectedSender covers the slot worker's sender check: a
// datagram arriving on a slot's socket from anywhere but the configured
// server address must never reach the client, even though the socket is
// otherwise open to any sender.
func TestRunDropsReplyFromUnexpectedSender(t *testing.T) {
	serverSideOfSlot := listenLoopback(t)
	defer serverSideOfSlot.Close()

	ingressConn := listenLoopback(t)
	defer ingressConn.Close()
	ig := ingress.NewGroup([]*net.UDPConn{ingressConn})

	clientConn := listenLoopback(t)
	defer clientConn.Close()
	clientAddr := netaddr.FromUDPAddr(clientConn.LocalAddr().(*net.UDPAddr))

	upstream := listenLoopback(t)
	defer upstream.Close()
	serverAddress := netaddr.FromUDPAddr(upstream.LocalAddr().(*net.UDPAddr))

	impostor := listenLoopback(t)
	defer impostor.Close()

	s := New(serverSideOfSlot, 0, 0, 1500, serverAddress)
	s.Allocate(clientAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zap.NewNop().Sugar()

	go s.Run(ctx, ig, nil, func() bool { return true }, log)

	if _, err := impostor.WriteToUDP([]byte("spoofed"), serverSideOfSlot.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 64)
	if _, _, err := clientConn.ReadFromUDP(buf); err == nil {
		t.Fatalf("client received a reply forwarded from an unexpected sender")
	}

	if _, err := upstream.WriteToUDP([]byte("xyz"), serverSideOfSlot.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := clientConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("client did not receive forwarded reply from the real server: %v", err)
	}
	if got := string(buf[:n]); got != "\x00xyz" {
		t.Errorf("client received %q, want %q", got, "\x00xyz")
	}
}

// TestRunFallsBackToDirectWhenNotReady covers §12 item 3: an accelerated
// slot must still return traffic directly while the accelerator runtime
// reports itself not ready.
func TestRunFallsBackToDirectWhenNotReady(t *testing.T) {
	serverSideOfSlot := listenLoopback(t)
	defer serverSideOfSlot.Close()

	ingressConn := listenLoopback(t)
	defer ingressConn.Close()
	ig := ingress.NewGroup([]*net.UDPConn{ingressConn})

	clientConn := listenLoopback(t)
	defer clientConn.Close()
	clientAddr := netaddr.FromUDPAddr(clientConn.LocalAddr().(*net.UDPAddr))

	upstream := listenLoopback(t)
	defer upstream.Close()
	serverAddress := netaddr.FromUDPAddr(upstream.LocalAddr().(*net.UDPAddr))

	s := New(serverSideOfSlot, 0, 0, 1500, serverAddress)
	s.Allocate(clientAddr)
	s.SetAccelerated(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := zap.NewNop().Sugar()

	go s.Run(ctx, ig, nil, func() bool { return false }, log)

	if _, err := upstream.WriteToUDP([]byte("xyz"), serverSideOfSlot.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := clientConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("client did not receive direct fallback reply: %v", err)
	}
	if got := string(buf[:n]); got != "\x00xyz" {
		t.Errorf("client received %q, want %q", got, "\x00xyz")
	}
}
