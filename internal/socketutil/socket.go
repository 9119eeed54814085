// Package socketutil provides the low-level UDP socket helpers the
// supervisor uses to build ingress and slot sockets: SO_REUSEPORT-enabled
// listeners (so the kernel fans ingress traffic out across dispatch
// workers, §2/§5) and OS buffer sizing (§3's socket_send_buffer_size /
// socket_receive_buffer_size), adapted from the reuseport pattern used
// throughout the wider corpus (e.g. jroosing/hydradns's udp_server.go).
package socketutil

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"
)

// ListenUDPReusePort opens a UDP socket bound to addr with SO_REUSEPORT set,
// so multiple dispatch workers can each own a socket bound to the same
// public port and let the kernel distribute incoming 4-tuple flows across
// them.
func ListenUDPReusePort(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("socketutil: failed to listen on %s with SO_REUSEPORT: %w", addr, err)
	}
	return pc.(*net.UDPConn), nil
}

// ListenUDP opens a plain (non-reuseport) UDP socket, used for slot sockets
// and the accelerator's loopback socket, which are each owned by exactly
// one goroutine and never shared across a SO_REUSEPORT group.
func ListenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("socketutil: failed to resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("socketutil: failed to listen on %s: %w", addr, err)
	}
	return conn, nil
}

// SetBufferSizes applies the configured OS send/receive buffer sizes to
// conn. Errors are non-fatal -- the OS may cap the requested size below a
// sysctl maximum, which is not a reason to fail startup.
func SetBufferSizes(conn *net.UDPConn, send, receive datasize.ByteSize) {
	_ = conn.SetWriteBuffer(int(send.Bytes()))
	_ = conn.SetReadBuffer(int(receive.Bytes()))
}
