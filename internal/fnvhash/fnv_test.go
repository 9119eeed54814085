package fnvhash

import (
	"testing"

	"github.com/embarknet/udprelay/internal/netaddr"
)

func TestSum64KnownVector(t *testing.T) {
	// FNV-1a 64 of the empty string is the offset basis itself.
	if got := Sum64(nil); got != offsetBasis {
		t.Errorf("Sum64(nil) = %#x, want offset basis %#x", got, offsetBasis)
	}
}

func TestAddressDeterministic(t *testing.T) {
	a := netaddr.MustParse("127.0.0.1:55000")
	h1 := Address(a)
	h2 := Address(a)
	if h1 != h2 {
		t.Errorf("Address hash is not deterministic: %#x != %#x", h1, h2)
	}
}

func TestAddressDiffersByPortAndHost(t *testing.T) {
	a := netaddr.MustParse("127.0.0.1:55000")
	b := netaddr.MustParse("127.0.0.1:55001")
	c := netaddr.MustParse("127.0.0.2:55000")

	if Address(a) == Address(b) {
		t.Errorf("hash collided across distinct ports")
	}
	if Address(a) == Address(c) {
		t.Errorf("hash collided across distinct hosts")
	}
}
