package discovery

import (
	"net"
	"testing"
)

func parseIPs(addrs ...string) []net.IP {
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = net.ParseIP(a)
	}
	return ips
}

func TestRankAddrs(t *testing.T) {
	in := parseIPs("fe80::1", "224.0.0.251", "192.168.1.1", "::1", "2001:db8::1", "fd00::1", "10.0.0.1")
	want := []string{"2001:db8::1", "fd00::1", "192.168.1.1", "10.0.0.1", "fe80::1", "::1", "224.0.0.251"}

	got := RankAddrs(in)
	if len(got) != len(want) {
		t.Fatalf("RankAddrs returned %d addresses, want %d", len(got), len(want))
	}
	for i, w := range want {
		if !got[i].Equal(net.ParseIP(w)) {
			t.Errorf("got[%d] = %v, want %s", i, got[i], w)
		}
	}
	if !in[0].Equal(net.ParseIP("fe80::1")) {
		t.Error("RankAddrs reordered its input")
	}
	if RankAddrs(nil) != nil {
		t.Error("RankAddrs(nil) != nil")
	}
}

func TestAddrRank(t *testing.T) {
	tests := []struct {
		ip   string
		want int
	}{
		{"2001:db8::1", rankGlobal6},
		{"fc00::1", rankULA},
		{"fdff::1", rankULA},
		{"172.16.0.1", rankIPv4},
		{"fe80::abcd", rankLinkLocal6},
		{"127.0.0.1", rankLoopback},
		{"ff02::fb", rankMulticast},
	}
	for _, tt := range tests {
		if got := addrRank(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("addrRank(%s) = %d, want %d", tt.ip, got, tt.want)
		}
	}
	if got := addrRank(nil); got != rankInvalid {
		t.Errorf("addrRank(nil) = %d", got)
	}
}
