// Package bogon classifies IPv4 addresses as routable or not before any
// enrichment source is consulted.
package bogon

import (
	"fmt"
	"net"
)

// reservedBlocks lists the IPv4 ranges that never appear as a legitimate
// public source address. RFC 1918, RFC 5735/6890, and friends.
var reservedBlocks = []struct {
	cidr   string
	reason string
}{
	{"0.0.0.0/8", "this-network"},
	{"10.0.0.0/8", "private-use"},
	{"100.64.0.0/10", "shared-address-space"},
	{"127.0.0.0/8", "loopback"},
	{"169.254.0.0/16", "link-local"},
	{"172.16.0.0/12", "private-use"},
	{"192.0.0.0/24", "ietf-protocol-assignments"},
	{"192.0.2.0/24", "documentation-test-net-1"},
	{"192.88.99.0/24", "6to4-relay-anycast"},
	{"192.168.0.0/16", "private-use"},
	{"198.18.0.0/15", "benchmark-testing"},
	{"198.51.100.0/24", "documentation-test-net-2"},
	{"203.0.113.0/24", "documentation-test-net-3"},
	{"224.0.0.0/4", "multicast"},
	{"240.0.0.0/4", "reserved-future-use"},
	{"255.255.255.255/32", "limited-broadcast"},
}

var reservedNets []*net.IPNet

func init() {
	reservedNets = make([]*net.IPNet, len(reservedBlocks))
	for i, b := range reservedBlocks {
		_, n, err := net.ParseCIDR(b.cidr)
		if err != nil {
			panic(fmt.Sprintf("bogon: invalid reserved CIDR %q: %v", b.cidr, err))
		}
		reservedNets[i] = n
	}
}

// Result is the classifier's verdict for one address.
type Result struct {
	IP          string
	IsPrivate   bool
	IsReserved  bool
	IsLoopback  bool
	IsMulticast bool
	IsBogon     bool
	Reason      string
}

// Classify parses and classifies an IPv4 address string. A malformed or
// non-IPv4 address is itself treated as a bogon: it never reaches a
// network source.
func Classify(addr string) Result {
	ip := net.ParseIP(addr)
	if ip == nil {
		return Result{IP: addr, IsBogon: true, Reason: "malformed-address"}
	}
	v4 := ip.To4()
	if v4 == nil {
		return Result{IP: addr, IsBogon: true, Reason: "not-ipv4"}
	}

	res := Result{IP: addr}
	if v4.IsLoopback() {
		res.IsLoopback = true
	}
	if v4.IsMulticast() {
		res.IsMulticast = true
	}

	// Overlapping blocks (255.255.255.255/32 inside 240.0.0.0/4) take the
	// reason of the most specific match.
	bestOnes := -1
	for i, n := range reservedNets {
		if n.Contains(v4) {
			b := reservedBlocks[i]
			switch b.reason {
			case "private-use":
				res.IsPrivate = true
			case "loopback", "multicast":
				// already flagged via the net.IP predicates
			default:
				res.IsReserved = true
			}
			if ones, _ := n.Mask.Size(); ones > bestOnes {
				bestOnes = ones
				res.Reason = b.reason
			}
		}
	}

	res.IsBogon = res.IsPrivate || res.IsReserved || res.IsLoopback || res.IsMulticast
	if res.IsBogon && res.Reason == "" {
		switch {
		case res.IsLoopback:
			res.Reason = "loopback"
		case res.IsMulticast:
			res.Reason = "multicast"
		}
	}
	return res
}

// IsRoutable is the short-circuit entry point used by the cascade
// orchestrator's first step.
func IsRoutable(addr string) bool {
	return !Classify(addr).IsBogon
}
