// Command proxy is the UDP reverse proxy binary. It reads its entire
// configuration from the environment (§6.4) and, depending on MODE, either
// runs the full dispatch/slot/accelerator topology, a throwaway echo server,
// or the in-process self-check.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/embarknet/udprelay/internal/config"
	"github.com/embarknet/udprelay/internal/logging"
	"github.com/embarknet/udprelay/internal/supervisor"
	"github.com/embarknet/udprelay/internal/testharness"
	"github.com/embarknet/udprelay/internal/xcmd"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "udprelay",
	Short: "UDP reverse proxy with dispatch/slot engine and accelerator integration",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	log, _, err := logging.Init(level)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Mode {
	case config.ModeTest:
		if err := testharness.Run(log); err != nil {
			return fmt.Errorf("self-check failed: %w", err)
		}
		log.Infow("self-check passed")
		return nil

	case config.ModeServer:
		return runEchoServer(cfg, log)

	default:
		return runProxy(cfg, log)
	}
}

func runProxy(cfg *config.Config, log *zap.SugaredLogger) error {
	sup, err := supervisor.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build supervisor: %w", err)
	}
	return sup.Run(context.Background())
}

// runEchoServer runs a trivial UDP echo server bound to cfg.ServerBindAddress,
// standing in for the real upstream game server during manual testing --
// the same role cmd/echoserver plays standalone.
func runEchoServer(cfg *config.Config, log *zap.SugaredLogger) error {
	conn, err := net.ListenUDP("udp4", cfg.ServerBindAddress.ToUDPAddr())
	if err != nil {
		return fmt.Errorf("failed to bind echo server: %w", err)
	}
	defer conn.Close()

	log.Infow("echo server listening", "address", conn.LocalAddr())

	buf := make([]byte, cfg.MaxPacketSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return fmt.Errorf("echo server read failed: %w", err)
		}
		if _, err := conn.WriteToUDP(buf[:n], from); err != nil {
			log.Debugw("echo server write failed", "to", from, "error", err)
		}
	}
}
