// Package testharness implements the proxy's MODE=test self-check (§6.4):
// it stands up a full Supervisor against loopback sockets, drives it with a
// fake client and a fake upstream server, and exercises the black-box
// end-to-end scenarios from §8 that are observable purely over the UDP
// wire. Scenarios that require accelerator-side state (session upgrade,
// route update) are covered instead by internal/accelerator's package
// tests, which have access to the bridge's internals.
package testharness

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/embarknet/udprelay/internal/config"
	"github.com/embarknet/udprelay/internal/filter"
	"github.com/embarknet/udprelay/internal/netaddr"
	"github.com/embarknet/udprelay/internal/supervisor"
)

const ioTimeout = 3 * time.Second

// Run builds a fresh proxy topology on loopback sockets and runs every
// scenario in sequence, returning the first failure (if any) with enough
// context to diagnose it. It never uses the process's configured addresses
// -- it builds its own throwaway Config so MODE=test can be run safely
// alongside, or instead of, a real deployment.
func Run(log *zap.SugaredLogger) error {
	env, err := newEnvironment(log)
	if err != nil {
		return fmt.Errorf("testharness: setup failed: %w", err)
	}
	defer env.Close()

	scenarios := []struct {
		name string
		run  func(*environment) error
	}{
		{"direct passthrough round trip", scenarioDirectRoundTrip},
		{"new-client slot allocation", scenarioDistinctSlotAllocation},
		{"filter drop", scenarioFilterDrop},
	}

	for _, sc := range scenarios {
		if err := sc.run(env); err != nil {
			return fmt.Errorf("testharness: scenario %q failed: %w", sc.name, err)
		}
		log.Infow("testharness: scenario passed", "scenario", sc.name)
	}

	return nil
}

type environment struct {
	log       *zap.SugaredLogger
	server    *net.UDPConn
	proxyAddr *net.UDPAddr
	sup       *supervisor.Supervisor
	cancel    context.CancelFunc
	done      chan struct{}
}

func freePort() (int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return 0, err
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()
	return port, nil
}

func newEnvironment(log *zap.SugaredLogger) (*environment, error) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("listen fake server: %w", err)
	}

	proxyPort, err := freePort()
	if err != nil {
		server.Close()
		return nil, err
	}
	slotBasePort, err := freePort()
	if err != nil {
		server.Close()
		return nil, err
	}
	proxyHostPort := net.JoinHostPort("127.0.0.1", strconv.Itoa(proxyPort))

	cfg := &config.Config{
		NumThreads:             1,
		NumSlotsPerThread:      4,
		SlotBasePort:           slotBasePort,
		MaxPacketSize:          1500,
		SlotTimeoutSeconds:     60,
		ProxyBindAddressRaw:    proxyHostPort,
		AcceleratorBindAddress: netaddr.MustParse("127.0.0.1:0"),
		ServerAddress:          netaddr.FromUDPAddr(server.LocalAddr().(*net.UDPAddr)),
		ProxyAddress:           netaddr.MustParse(proxyHostPort),
	}

	sup, err := supervisor.New(cfg, log.Named("testharness"))
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("build supervisor: %w", err)
	}

	proxyAddr, err := net.ResolveUDPAddr("udp4", proxyHostPort)
	if err != nil {
		server.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sup.Run(ctx)
		close(done)
	}()

	return &environment{log: log, server: server, proxyAddr: proxyAddr, sup: sup, cancel: cancel, done: done}, nil
}

func (e *environment) Close() {
	e.cancel()
	<-e.done
	_ = e.server.Close()
}

func (e *environment) newClient() (*net.UDPConn, error) {
	return net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
}

func (e *environment) send(client *net.UDPConn, data []byte) error {
	_, err := client.WriteToUDP(data, e.proxyAddr)
	return err
}

func (e *environment) recvFromServer() ([]byte, *net.UDPAddr, error) {
	_ = e.server.SetReadDeadline(time.Now().Add(ioTimeout))
	buf := make([]byte, 2048)
	n, from, err := e.server.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], from, nil
}

func (e *environment) recvFromClient(client *net.UDPConn) ([]byte, error) {
	_ = client.SetReadDeadline(time.Now().Add(ioTimeout))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// scenarioDirectRoundTrip is §8 scenario 1.
func scenarioDirectRoundTrip(e *environment) error {
	client, err := e.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := e.send(client, []byte{0x00, 'a', 'b', 'c'}); err != nil {
		return fmt.Errorf("client send: %w", err)
	}

	payload, from, err := e.recvFromServer()
	if err != nil {
		return fmt.Errorf("server did not receive payload: %w", err)
	}
	if string(payload) != "abc" {
		return fmt.Errorf("server payload = %q, want %q", payload, "abc")
	}

	if _, err := e.server.WriteToUDP([]byte("xyz"), from); err != nil {
		return fmt.Errorf("server reply: %w", err)
	}

	reply, err := e.recvFromClient(client)
	if err != nil {
		return fmt.Errorf("client did not receive reply: %w", err)
	}
	if string(reply) != "\x00xyz" {
		return fmt.Errorf("client reply = %q, want %q", reply, "\x00xyz")
	}
	return nil
}

// scenarioDistinctSlotAllocation is §8 scenario 2: two new clients must be
// forwarded to the server from two distinct slot source ports.
func scenarioDistinctSlotAllocation(e *environment) error {
	clientA, err := e.newClient()
	if err != nil {
		return err
	}
	defer clientA.Close()
	clientB, err := e.newClient()
	if err != nil {
		return err
	}
	defer clientB.Close()

	if err := e.send(clientA, []byte{0x00, '1'}); err != nil {
		return err
	}
	_, fromA, err := e.recvFromServer()
	if err != nil {
		return fmt.Errorf("server did not receive client A's payload: %w", err)
	}

	if err := e.send(clientB, []byte{0x00, '2'}); err != nil {
		return err
	}
	_, fromB, err := e.recvFromServer()
	if err != nil {
		return fmt.Errorf("server did not receive client B's payload: %w", err)
	}

	if fromA.Port == fromB.Port {
		return fmt.Errorf("both clients forwarded from the same slot port %d, want distinct ports", fromA.Port)
	}
	return nil
}

// scenarioFilterDrop is §8 scenario 4: a non-passthrough packet with a
// zeroed chonkle must be dropped with no visible side effect.
func scenarioFilterDrop(e *environment) error {
	client, err := e.newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	data := make([]byte, 20)
	data[0] = byte(filter.Direct) // chonkle at data[1:16] left zeroed
	if err := e.send(client, data); err != nil {
		return err
	}

	if payload, _, err := e.recvFromServer(); err == nil {
		return fmt.Errorf("server unexpectedly received %q from a packet that should have been filtered", payload)
	}
	return nil
}
