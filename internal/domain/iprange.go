package domain

import (
	"fmt"
	"net/netip"
	"sort"
)

// IPRange is an inclusive range of addresses of a single family.
type IPRange struct {
	Low  netip.Addr
	High netip.Addr
}

func (r IPRange) String() string {
	return fmt.Sprintf("%s-%s", r.Low, r.High)
}

// Contains reports whether ip lies within [Low, High].
func (r IPRange) Contains(ip netip.Addr) bool {
	if !ip.IsValid() || ip.BitLen() != r.Low.BitLen() {
		return false
	}
	return r.Low.Compare(ip) <= 0 && ip.Compare(r.High) <= 0
}

// FirstFree returns the lowest address of the range that is not in taken.
// Addresses in taken outside the range are ignored.
func (r IPRange) FirstFree(taken []netip.Addr) (netip.Addr, bool) {
	sorted := make([]netip.Addr, 0, len(taken))
	for _, ip := range taken {
		if r.Contains(ip) {
			sorted = append(sorted, ip)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	candidate := r.Low
	for _, ip := range sorted {
		if ip.Less(candidate) {
			continue
		}
		if ip != candidate {
			break
		}
		candidate = candidate.Next()
		if !candidate.IsValid() {
			return netip.Addr{}, false
		}
	}
	if !r.Contains(candidate) {
		return netip.Addr{}, false
	}
	return candidate, true
}
