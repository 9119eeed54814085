// Package fnvhash implements FNV-1a 64 and the address-keyed hash the
// session table and the slot return-path fan-out use to pick a dispatch
// socket.
package fnvhash

import "github.com/embarknet/udprelay/internal/netaddr"

const (
	offsetBasis uint64 = 0xCBF29CE484222325
	prime       uint64 = 0x100000001B3
)

// Sum64 computes FNV-1a 64 over data.
func Sum64(data []byte) uint64 {
	h := offsetBasis
	for _, b := range data {
		h ^= uint64(b)
		h *= prime
	}
	return h
}

// Address hashes the in-memory layout of an IPv4 address: the 2 port bytes
// (little-endian, matching the struct's host-order uint16 field) followed by
// the 4 IPv4 bytes. Only IPv4 addresses are meaningful session-table keys
// (see netaddr.Address and the session table's IPv4-only invariant); passing
// anything else still produces a stable value but callers must not rely on
// it for routing.
func Address(a netaddr.Address) uint64 {
	var buf [6]byte
	buf[0] = byte(a.Port)
	buf[1] = byte(a.Port >> 8)
	buf[2] = a.IPv4[0]
	buf[3] = a.IPv4[1]
	buf[4] = a.IPv4[2]
	buf[5] = a.IPv4[3]
	return Sum64(buf[:])
}
