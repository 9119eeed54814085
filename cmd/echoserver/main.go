// Command echoserver is a standalone UDP echo server, used as the upstream
// SERVER_ADDRESS target when driving the proxy manually (the same role
// "MODE=server" plays inline in cmd/proxy, split out here so it can run on
// its own host without the proxy's environment).
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/embarknet/udprelay/internal/logging"
)

var (
	bindAddress string
	maxPacket   int
)

var rootCmd = &cobra.Command{
	Use:   "echoserver",
	Short: "Standalone UDP echo server for manual proxy testing",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&bindAddress, "listen", "l", "127.0.0.1:9000", "UDP address to bind")
	rootCmd.Flags().IntVar(&maxPacket, "max-packet-size", 1500, "maximum datagram size")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, _, err := logging.Init(zapcore.InfoLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	addr, err := net.ResolveUDPAddr("udp4", bindAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", bindAddress, err)
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %q: %w", bindAddress, err)
	}
	defer conn.Close()

	log.Infow("echo server listening", "address", conn.LocalAddr())

	buf := make([]byte, maxPacket)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		log.Debugw("echo", "from", from, "bytes", n)
		if _, err := conn.WriteToUDP(buf[:n], from); err != nil {
			log.Debugw("write failed", "to", from, "error", err)
		}
	}
}
