// Package accelconn is the thin UDP client used to reach the accelerator's
// loopback ingress socket: slot workers tunnel accelerated server->client
// payloads through it, and dispatch workers use it for both non-passthrough
// tunneling and new-session notify frames (§4.5, §4.6).
package accelconn

import (
	"fmt"
	"net"

	"github.com/embarknet/udprelay/internal/netaddr"
)

// Conn is a connected UDP socket aimed at the accelerator's bind address.
type Conn struct {
	conn *net.UDPConn
}

// Dial opens a UDP socket connected to the accelerator's loopback bind
// address, so every Send is a plain write with no per-call address lookup.
func Dial(bindAddress netaddr.Address) (*Conn, error) {
	conn, err := net.DialUDP("udp4", nil, bindAddress.ToUDPAddr())
	if err != nil {
		return nil, fmt.Errorf("accelconn: dial %s: %w", bindAddress, err)
	}
	return &Conn{conn: conn}, nil
}

// Send writes frame to the accelerator's loopback ingress socket.
func (c *Conn) Send(frame []byte) error {
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("accelconn: send: %w", err)
	}
	return nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}
