package discovery

import (
	"cmp"
	"net"
	"slices"
)

// Address ranks, best first. Link-local IPv6 ranks below IPv4 because mDNS
// answers carry no zone to dial it with.
const (
	rankGlobal6 = iota
	rankULA
	rankIPv4
	rankLinkLocal6
	rankOther
	rankLoopback
	rankMulticast
	rankInvalid
)

func addrRank(ip net.IP) int {
	switch {
	case ip.To16() == nil:
		return rankInvalid
	case ip.IsMulticast():
		return rankMulticast
	case ip.IsLoopback():
		return rankLoopback
	case ip.To4() != nil:
		return rankIPv4
	case isULA(ip):
		return rankULA
	case ip.IsGlobalUnicast():
		return rankGlobal6
	case ip.IsLinkLocalUnicast():
		return rankLinkLocal6
	}
	return rankOther
}

// isULA reports whether ip is an IPv6 unique local address (fc00::/7).
func isULA(ip net.IP) bool {
	if ip.To4() != nil {
		return false
	}
	ip = ip.To16()
	return ip != nil && ip[0]&0xfe == 0xfc
}

// RankAddrs returns a copy of ips ordered by dial preference. Equal ranks
// keep their order.
func RankAddrs(ips []net.IP) []net.IP {
	if len(ips) == 0 {
		return nil
	}
	ranked := slices.Clone(ips)
	slices.SortStableFunc(ranked, func(a, b net.IP) int {
		return cmp.Compare(addrRank(a), addrRank(b))
	})
	return ranked
}
