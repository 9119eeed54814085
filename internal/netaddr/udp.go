package netaddr

import (
	"fmt"
	"net"
)

// HostPort formats an IPv4 address as "host:port", always including the
// port even when it is zero (meaning "let the OS choose"). Unlike String,
// which omits a zero port for display purposes, HostPort is for socket
// calls (net.ListenUDP and friends) that require an explicit port field.
func (a Address) HostPort() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IPv4[0], a.IPv4[1], a.IPv4[2], a.IPv4[3], a.Port)
}

// ToUDPAddr converts an IPv4 Address to a *net.UDPAddr for use with the
// standard library's UDP calls. It panics if a is not KindIPv4 -- every
// caller on the data plane path only ever holds IPv4 addresses.
func (a Address) ToUDPAddr() *net.UDPAddr {
	if a.Kind != KindIPv4 {
		panic("netaddr: ToUDPAddr requires an IPv4 address")
	}
	return &net.UDPAddr{
		IP:   net.IPv4(a.IPv4[0], a.IPv4[1], a.IPv4[2], a.IPv4[3]),
		Port: int(a.Port),
	}
}

// FromUDPAddr builds an IPv4 Address from a *net.UDPAddr, as returned by
// net.UDPConn.ReadFromUDP. Non-IPv4 addresses collapse to KindNone -- the
// data plane never routes IPv6 traffic.
func FromUDPAddr(u *net.UDPAddr) Address {
	v4 := u.IP.To4()
	if v4 == nil {
		return None
	}
	return Address{
		Kind: KindIPv4,
		Port: uint16(u.Port),
		IPv4: [4]byte{v4[0], v4[1], v4[2], v4[3]},
	}
}
