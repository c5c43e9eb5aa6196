package domain

import (
	"net/netip"

	"github.com/juju/errors"
)

// StaticRange returns the static allocation range of the interface, if one
// is configured.
func (ci *ClusterInterface) StaticRange() (IPRange, bool) {
	if !ci.StaticRangeLow.IsValid() || !ci.StaticRangeHigh.IsValid() {
		return IPRange{}, false
	}
	return IPRange{Low: ci.StaticRangeLow, High: ci.StaticRangeHigh}, true
}

// SameGroup reports whether both interfaces serve the same physical link.
func (ci *ClusterInterface) SameGroup(other *ClusterInterface) bool {
	return ci.ClusterID == other.ClusterID && ci.Name == other.Name
}

func (ci *ClusterInterface) Validate() error {
	if ci.Name == "" {
		return errors.NotValidf("empty interface name")
	}
	if !ci.Network.IsValid() {
		return errors.NotValidf("network %q", ci.Network)
	}
	if ci.Network != ci.Network.Masked() {
		return errors.NotValidf("network %s with host bits set", ci.Network)
	}
	if ci.RouterIP.IsValid() && !ci.Network.Contains(ci.RouterIP) {
		return errors.NotValidf("router IP %s outside network %s", ci.RouterIP, ci.Network)
	}

	low, high := ci.StaticRangeLow, ci.StaticRangeHigh
	if !low.IsValid() && !high.IsValid() {
		return nil
	}
	if low.IsValid() != high.IsValid() {
		return errors.NotValidf("static range with only one bound")
	}
	if low.BitLen() != high.BitLen() {
		return errors.NotValidf("static range %s-%s mixing address families", low, high)
	}
	if high.Less(low) {
		return errors.NotValidf("empty static range %s-%s", low, high)
	}
	if !ci.Network.Contains(low) || !ci.Network.Contains(high) {
		return errors.NotValidf("static range %s-%s outside network %s", low, high, ci.Network)
	}
	return nil
}

// FindClusterInterfaceForIP returns the first of ifaces whose network
// contains ip, or nil.
func FindClusterInterfaceForIP(ifaces []*ClusterInterface, ip netip.Addr) *ClusterInterface {
	for _, ci := range ifaces {
		if ci.Network.Contains(ip) {
			return ci
		}
	}
	return nil
}
