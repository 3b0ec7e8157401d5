package addrbook

import "net"

// subnetKey returns the IPv4 /24 or IPv6 /48 prefix an address belongs to,
// used to enforce the max-per-subnet diversity invariant (§3 (b), Invariant
// 8, scenario S8).
func subnetKey(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		mask := net.CIDRMask(24, 32)
		return v4.Mask(mask).String()
	}
	v6 := ip.To16()
	mask := net.CIDRMask(48, 128)
	return v6.Mask(mask).String()
}

// isRoutable reports whprobeer ip is neither private, loopback, nor
// link-local (§3 (a)).
func isRoutable(ip net.IP) bool {
	return !ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!isPrivate(ip)
}

func isPrivate(ip net.IP) bool {
	for _, cidr := range privateRanges {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10", // carrier-grade NAT
	"fc00::/7",      // unique local IPv6
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
