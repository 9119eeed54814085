// Command loopclient drives a running proxy as a client would: it sends
// passthrough packets (§4.1's leading 0x00 byte) in a loop and prints every
// reply, for manual smoke-testing a live deployment.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	proxyAddress string
	interval     time.Duration
	count        int
)

var rootCmd = &cobra.Command{
	Use:   "loopclient",
	Short: "Send passthrough packets to a running proxy and print replies",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&proxyAddress, "proxy", "p", "127.0.0.1:8080", "proxy's public UDP address")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "delay between packets")
	rootCmd.Flags().IntVarP(&count, "count", "n", 0, "number of packets to send (0 = unbounded)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr, err := net.ResolveUDPAddr("udp4", proxyAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", proxyAddress, err)
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to dial %q: %w", proxyAddress, err)
	}
	defer conn.Close()

	buf := make([]byte, 1500)
	for i := 0; count == 0 || i < count; i++ {
		payload := []byte(fmt.Sprintf("ping %d", i))
		frame := append([]byte{0x00}, payload...)

		if _, err := conn.Write(frame); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(interval))
		n, err := conn.Read(buf)
		if err != nil {
			fmt.Printf("no reply to packet %d: %v\n", i, err)
		} else {
			fmt.Printf("reply %d: %q\n", i, buf[:n])
		}

		time.Sleep(interval)
	}
	return nil
}
