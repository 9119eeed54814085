// Package config holds the proxy's process-wide, init-once configuration
// (§3). It is built once at startup from environment variables (§6.4) and
// is never mutated afterward -- every worker holds the same *Config by
// shared reference, following the teacher's "process-wide config singleton"
// design note.
package config

import (
	"fmt"
	"runtime"

	"github.com/c2h5oh/datasize"
	"github.com/kelseyhightower/envconfig"

	"github.com/embarknet/udprelay/internal/netaddr"
)

// Mode selects what the binary does once configured (§6.4's MODE variable).
type Mode string

const (
	ModeProxy  Mode = ""
	ModeServer Mode = "server"
	ModeTest   Mode = "test"
)

const maxNumThreads = 16

// Config is the proxy's process-wide configuration. Every field is
// read-only after LoadConfig returns.
type Config struct {
	// NumThreads is the count of dispatch workers, and therefore of
	// SO_REUSEPORT ingress sockets. Defaults to the CPU count, capped at 16.
	NumThreads int `envconfig:"NUM_THREADS"`
	// NumSlotsPerThread is the per-dispatch slot count.
	NumSlotsPerThread int `envconfig:"NUM_SLOTS_PER_THREAD"`

	// SlotBasePort is the UDP port of the first slot socket; slot i of
	// dispatch worker d uses SlotBasePort + d*NumSlotsPerThread + i.
	SlotBasePort int `envconfig:"SLOT_BASE_PORT" default:"20000"`
	// MaxPacketSize bounds every recv buffer.
	MaxPacketSize int `envconfig:"MAX_PACKET_SIZE" default:"1500"`
	// SlotTimeoutSeconds is the idle TTL for a slot.
	SlotTimeoutSeconds float64 `envconfig:"SLOT_TIMEOUT_SECONDS" default:"60"`

	// SocketSendBufferSize and SocketReceiveBufferSize size every UDP
	// socket's OS send/receive buffers.
	SocketSendBufferSize    datasize.ByteSize `envconfig:"SOCKET_SEND_BUFFER_SIZE"`
	SocketReceiveBufferSize datasize.ByteSize `envconfig:"SOCKET_RECEIVE_BUFFER_SIZE"`

	// ProxyAddressRaw is the proxy's public address, as seen by clients and
	// used by the accelerator bridge to rewrite outgoing chonkle/pittle
	// "from" fields (§4.7).
	ProxyAddressRaw string `envconfig:"PROXY_ADDRESS"`
	// ServerAddressRaw is the upstream game server's address.
	ServerAddressRaw string `envconfig:"SERVER_ADDRESS" required:"true"`
	// AcceleratorAddressRaw is the accelerator's public address.
	AcceleratorAddressRaw string `envconfig:"ACCELERATOR_ADDRESS"`

	ProxyBindAddressRaw       string `envconfig:"PROXY_BIND_ADDRESS" default:"0.0.0.0:0"`
	ServerBindAddressRaw      string `envconfig:"SERVER_BIND_ADDRESS" default:"0.0.0.0:0"`
	AcceleratorBindAddressRaw string `envconfig:"ACCELERATOR_BIND_ADDRESS" default:"127.0.0.1:0"`

	Mode Mode `envconfig:"MODE"`

	// Parsed forms of the *Raw fields above, filled in by LoadConfig.
	ProxyAddress       netaddr.Address
	ServerAddress      netaddr.Address
	AcceleratorAddress netaddr.Address
	ProxyBindAddress   netaddr.Address
	ServerBindAddress  netaddr.Address
	AcceleratorBindAddress netaddr.Address
}

// LoadConfig parses the process environment into a Config, fills
// platform-aware defaults the environment left unset, and validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}

	applyDefaults(cfg)

	if err := parseAddresses(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills NumThreads/NumSlotsPerThread/buffer sizes when the
// environment left them at their zero value, choosing the platform split
// the original implementation used: Linux's SO_REUSEPORT fan-out supports
// many slots per thread; the original's Mac build, lacking the same
// fan-out efficiency, kept slot counts much lower (§12 item 1).
func applyDefaults(cfg *Config) {
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = runtime.NumCPU()
	}
	if cfg.NumThreads > maxNumThreads {
		cfg.NumThreads = maxNumThreads
	}

	if cfg.NumSlotsPerThread <= 0 {
		if runtime.GOOS == "darwin" {
			cfg.NumSlotsPerThread = 10
		} else {
			cfg.NumSlotsPerThread = 1000
		}
	}

	if cfg.SocketSendBufferSize == 0 {
		if runtime.GOOS == "linux" {
			cfg.SocketSendBufferSize = 10 * datasize.MB
		} else {
			cfg.SocketSendBufferSize = datasize.MB
		}
	}
	if cfg.SocketReceiveBufferSize == 0 {
		if runtime.GOOS == "linux" {
			cfg.SocketReceiveBufferSize = 10 * datasize.MB
		} else {
			cfg.SocketReceiveBufferSize = datasize.MB
		}
	}
}

func parseAddresses(cfg *Config) error {
	var err error
	parse := func(raw string) netaddr.Address {
		if err != nil || raw == "" {
			return netaddr.None
		}
		var a netaddr.Address
		a, err = netaddr.Parse(raw)
		return a
	}

	cfg.ProxyAddress = parse(cfg.ProxyAddressRaw)
	cfg.ServerAddress = parse(cfg.ServerAddressRaw)
	cfg.AcceleratorAddress = parse(cfg.AcceleratorAddressRaw)
	cfg.ProxyBindAddress = parse(cfg.ProxyBindAddressRaw)
	cfg.ServerBindAddress = parse(cfg.ServerBindAddressRaw)
	cfg.AcceleratorBindAddress = parse(cfg.AcceleratorBindAddressRaw)

	if err != nil {
		return fmt.Errorf("config: failed to parse address: %w", err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.NumThreads <= 0 {
		return fmt.Errorf("config: NUM_THREADS must be positive")
	}
	if cfg.NumSlotsPerThread <= 0 {
		return fmt.Errorf("config: NUM_SLOTS_PER_THREAD must be positive")
	}
	if cfg.SlotBasePort <= 0 || cfg.SlotBasePort+cfg.NumThreads*cfg.NumSlotsPerThread > 65535 {
		return fmt.Errorf("config: SLOT_BASE_PORT %d with %d threads * %d slots exceeds the port range",
			cfg.SlotBasePort, cfg.NumThreads, cfg.NumSlotsPerThread)
	}
	if cfg.ServerAddress.Kind != netaddr.KindIPv4 {
		return fmt.Errorf("config: SERVER_ADDRESS must be a valid IPv4 address")
	}
	return nil
}

// SlotPort returns the globally unique port bound by dispatch worker
// dispatchIndex's slot slotIndex, per §3's invariant.
func (c *Config) SlotPort(dispatchIndex, slotIndex int) int {
	return c.SlotBasePort + dispatchIndex*c.NumSlotsPerThread + slotIndex
}
