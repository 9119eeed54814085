package netaddr

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseFormatRoundTripIPv4(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no port", "127.0.0.1"},
		{"with port", "127.0.0.1:55000"},
		{"zero address", "0.0.0.0:1"},
		{"max port", "192.168.1.1:65535"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.in, err)
			}
			if addr.Kind != KindIPv4 {
				t.Fatalf("Parse(%q).Kind = %v, want KindIPv4", tt.in, addr.Kind)
			}
			if got := addr.String(); got != tt.in {
				t.Errorf("round trip mismatch: Parse(%q).String() = %q", tt.in, got)
			}
		})
	}
}

func TestParseFormatRoundTripIPv6(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"bracketed with port", "[2001:db8:0:0:0:0:0:1]:443"},
		{"full groups no port", "fe80:0:0:0:0:0:0:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.in, err)
			}
			if addr.Kind != KindIPv6 {
				t.Fatalf("Parse(%q).Kind = %v, want KindIPv6", tt.in, addr.Kind)
			}
			back, err := Parse(addr.String())
			if err != nil || !back.Equal(addr) {
				t.Errorf("round trip mismatch: Parse(%q) = %v, %v; want %v", addr.String(), back, err, addr)
			}
		})
	}
}

func TestParseIPv6Abbreviated(t *testing.T) {
	full, err := Parse("2001:db8:0:0:0:0:0:1")
	if err != nil {
		t.Fatalf("Parse full form failed: %v", err)
	}
	short, err := Parse("2001:db8::1")
	if err != nil {
		t.Fatalf("Parse abbreviated form failed: %v", err)
	}
	if !full.Equal(short) {
		t.Errorf("abbreviated and full IPv6 forms parsed to different addresses: %v vs %v", full, short)
	}
}

func TestEqualReflexiveSymmetricTransitive(t *testing.T) {
	a := MustParse("10.0.0.1:1000")
	b := MustParse("10.0.0.1:1000")
	c := MustParse("10.0.0.1:1000")
	d := MustParse("10.0.0.2:1000")

	if !a.Equal(a) {
		t.Errorf("Equal is not reflexive")
	}
	if a.Equal(b) != b.Equal(a) {
		t.Errorf("Equal is not symmetric")
	}
	if a.Equal(b) && b.Equal(c) && !a.Equal(c) {
		t.Errorf("Equal is not transitive")
	}
	if a.Equal(d) {
		t.Errorf("distinct addresses compared equal")
	}
}

func TestEqualDifferentKinds(t *testing.T) {
	v4 := MustParse("10.0.0.1:1000")
	v6 := MustParse("[::1]:1000")
	if v4.Equal(v6) {
		t.Errorf("addresses with different tags compared equal")
	}
	if !None.Equal(Address{}) {
		t.Errorf("two NONE addresses should compare equal")
	}
}

func TestFromUDPAddrRoundTripsFullStruct(t *testing.T) {
	want := MustParse("192.168.1.1:65535")
	got := FromUDPAddr(want.ToUDPAddr())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromUDPAddr(ToUDPAddr(a)) mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []string{"", "not-an-address", "999.1.1.1", "1.2.3"}
	for _, in := range tests {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", in)
		}
	}
}
