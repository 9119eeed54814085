package accelerator

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/embarknet/udprelay/internal/envelope"
	"github.com/embarknet/udprelay/internal/fnvhash"
	"github.com/embarknet/udprelay/internal/netaddr"
	"github.com/embarknet/udprelay/internal/socketutil"
)

// pollTimeout bounds each non-blocking drain read in Update.
const pollTimeout = time.Millisecond

// StubRuntime is a real UDP-socket-backed Runtime used in place of the
// proprietary acceleration SDK (see DESIGN.md for why no such library is in
// the example corpus). It owns a bind socket exactly the way the real
// runtime would, drives the registered PacketReceive callback for every
// datagram, and tracks upgrade_session calls so tests can assert the
// session-upgrade-exactly-once property (§8, scenario 5). It does not
// implement the accelerated wire protocol beyond the envelope the bridge
// already strips -- there is no inner protocol to run without the real SDK.
type StubRuntime struct {
	maxPacketSize int

	conn          *net.UDPConn
	publicAddress netaddr.Address
	bindAddress   netaddr.Address
	datacenter    string
	privateKey    [32]byte
	magic         [8]byte
	callbacks     Callbacks
	ready         bool

	mu            sync.Mutex
	sessions      map[string]uint64
	upgradeCalls  map[string]int
	nextSessionID uint64
}

// NewStubRuntime constructs a StubRuntime sized for payloads up to
// maxPacketSize.
func NewStubRuntime(maxPacketSize int) *StubRuntime {
	return &StubRuntime{
		maxPacketSize: maxPacketSize,
		sessions:      make(map[string]uint64),
		upgradeCalls:  make(map[string]int),
	}
}

func (r *StubRuntime) Init() error { return nil }

func (r *StubRuntime) Term() {
	r.DestroyServer()
}

func (r *StubRuntime) CreateServer(publicAddress, bindAddress netaddr.Address, datacenter string, privateKey [32]byte) error {
	conn, err := socketutil.ListenUDP(bindAddress.HostPort())
	if err != nil {
		return fmt.Errorf("accelerator: stub runtime create_server: %w", err)
	}
	r.conn = conn
	r.publicAddress = publicAddress
	r.bindAddress = netaddr.FromUDPAddr(conn.LocalAddr().(*net.UDPAddr))
	r.datacenter = datacenter
	r.privateKey = privateKey
	r.magic = deriveMagic(datacenter, privateKey)
	r.ready = true
	return nil
}

func (r *StubRuntime) DestroyServer() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	r.ready = false
}

func (r *StubRuntime) SetCallbacks(cb Callbacks) {
	r.callbacks = cb
}

// Update drains every datagram currently queued on the bind socket,
// invoking PacketReceive for each.
func (r *StubRuntime) Update() {
	if r.conn == nil {
		return
	}

	buf := make([]byte, r.maxPacketSize+envelope.Size)
	for {
		_ = r.conn.SetReadDeadline(time.Now().Add(pollTimeout))
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		from := netaddr.FromUDPAddr(addr)
		begin, end := 0, n
		if r.callbacks.PacketReceive != nil {
			r.callbacks.PacketReceive(&from, buf[:n], &begin, &end)
		}
	}
}

func (r *StubRuntime) Flush() {}

func (r *StubRuntime) Ready() bool { return r.ready }

// UpgradeSession assigns a stable session id per client address, tracking
// how many times it has been called for a given client so tests can verify
// the exactly-once property.
func (r *StubRuntime) UpgradeSession(address netaddr.Address, _ uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := address.String()
	r.upgradeCalls[key]++

	if id, ok := r.sessions[key]; ok {
		return id, nil
	}
	r.nextSessionID++
	r.sessions[key] = r.nextSessionID
	return r.nextSessionID, nil
}

// UpgradeCallCount reports how many times UpgradeSession has been called
// for client, for test assertions.
func (r *StubRuntime) UpgradeCallCount(client netaddr.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upgradeCalls[client.String()]
}

func (r *StubRuntime) SendPacket(to netaddr.Address, data []byte) error {
	if r.conn == nil {
		return fmt.Errorf("accelerator: stub runtime has no bind socket")
	}
	_, err := r.conn.WriteToUDP(data, to.ToUDPAddr())
	return err
}

func (r *StubRuntime) Magic() [8]byte { return r.magic }

func (r *StubRuntime) BindAddress() netaddr.Address { return r.bindAddress }

// deriveMagic produces a deterministic 8-byte magic from the datacenter
// name and private key, standing in for whatever key-derivation scheme the
// real SDK uses.
func deriveMagic(datacenter string, privateKey [32]byte) [8]byte {
	input := append([]byte(datacenter), privateKey[:]...)
	h := fnvhash.Sum64(input)
	var m [8]byte
	binary.LittleEndian.PutUint64(m[:], h)
	return m
}
