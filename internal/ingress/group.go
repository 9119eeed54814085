// Package ingress holds the set of SO_REUSEPORT public sockets dispatch
// workers read from, and the hash-based selection used to write return
// traffic back out through the "right" socket (§5: "each dispatch thread
// additionally holds references to every other dispatch socket so slot
// workers can emit return traffic through them").
package ingress

import (
	"fmt"
	"net"

	"github.com/embarknet/udprelay/internal/fnvhash"
	"github.com/embarknet/udprelay/internal/netaddr"
)

// Group is the full set of ingress sockets, indexed by dispatch index. It is
// built once at startup and shared by every dispatch worker, every slot
// worker, and the accelerator bridge.
type Group struct {
	conns []*net.UDPConn
}

// NewGroup wraps conns, one per dispatch worker, in index order.
func NewGroup(conns []*net.UDPConn) *Group {
	return &Group{conns: conns}
}

// Len returns the number of ingress sockets (num_threads).
func (g *Group) Len() int {
	return len(g.conns)
}

// Conn returns the ingress socket owned by dispatch worker i.
func (g *Group) Conn(i int) *net.UDPConn {
	return g.conns[i]
}

// IndexFor returns which dispatch socket owns return traffic for client,
// per hash_address(client) % num_threads.
func (g *Group) IndexFor(client netaddr.Address) int {
	return int(fnvhash.Address(client) % uint64(len(g.conns)))
}

// Send writes payload to client through the ingress socket selected by
// IndexFor, so the reply is observed by the client as coming from the
// stable public port regardless of which dispatch or slot worker produced
// it.
func (g *Group) Send(client netaddr.Address, payload []byte) error {
	idx := g.IndexFor(client)
	if _, err := g.conns[idx].WriteToUDP(payload, client.ToUDPAddr()); err != nil {
		return fmt.Errorf("ingress: send to %s via socket %d: %w", client, idx, err)
	}
	return nil
}
