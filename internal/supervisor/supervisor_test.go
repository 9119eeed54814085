package supervisor

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/embarknet/udprelay/internal/config"
	"github.com/embarknet/udprelay/internal/netaddr"
)

// freePort grabs an ephemeral UDP port by opening and immediately closing a
// socket on it, the same trick the teacher's integration tests use to find
// an available port without a race-prone retry loop.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestDirectPassthroughRoundTrip(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP server: %v", err)
	}
	defer server.Close()
	serverAddr := server.LocalAddr().(*net.UDPAddr)

	proxyPort := freePort(t)
	slotBasePort := freePort(t)

	cfg := &config.Config{
		NumThreads:             1,
		NumSlotsPerThread:      4,
		SlotBasePort:           slotBasePort,
		MaxPacketSize:          1500,
		SlotTimeoutSeconds:     60,
		ProxyBindAddressRaw:    net.JoinHostPort("127.0.0.1", strconv.Itoa(proxyPort)),
		AcceleratorBindAddress: netaddr.MustParse("127.0.0.1:0"),
		ServerAddress:          netaddr.FromUDPAddr(serverAddr),
		ProxyAddress:           netaddr.MustParse(net.JoinHostPort("127.0.0.1", strconv.Itoa(proxyPort))),
	}

	log := zap.NewNop().Sugar()
	sup, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sup.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP client: %v", err)
	}
	defer client.Close()

	proxyAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(proxyPort)))
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}

	if _, err := client.WriteToUDP([]byte{0x00, 'a', 'b', 'c'}, proxyAddr); err != nil {
		t.Fatalf("client write: %v", err)
	}

	_ = server.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 64)
	n, from, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("server did not receive client payload: %v", err)
	}
	if string(buf[:n]) != "abc" {
		t.Errorf("server payload = %q, want %q", buf[:n], "abc")
	}

	if _, err := server.WriteToUDP([]byte("xyz"), from); err != nil {
		t.Fatalf("server reply: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, _, err = client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("client did not receive proxied reply: %v", err)
	}
	if string(buf[:n]) != "\x00xyz" {
		t.Errorf("client payload = %q, want %q", buf[:n], "\x00xyz")
	}
}
