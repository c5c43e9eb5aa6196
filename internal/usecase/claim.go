package usecase

import (
	"context"
	"net/netip"

	"github.com/juju/errors"

	"github.com/zinrai/ipam-staticip-go/internal/domain"
)

type ClaimRequest struct {
	MAC       string
	AllocType domain.AllocType
	// RequestedAddress, when valid, restricts the claim to the cluster
	// interface whose network contains it.
	RequestedAddress netip.Addr
}

// ClaimStaticIPs assigns one static address per managed cluster interface
// connected to the MAC: typically one IPv4 address, or one IPv4 and one
// IPv6 address. Addresses the MAC already holds are returned instead of
// new ones.
//
// The result is empty when the MAC's cluster interface is not known yet or
// none of its cluster interfaces has a static range. Errors wrap
// domain.ErrOutOfRange, domain.ErrTypeClash, domain.ErrRangeExhausted or
// domain.ErrAddressUnavailable. Serialization failures are retried.
func (uc *IPAMUseCase) ClaimStaticIPs(ctx context.Context, req ClaimRequest) ([]*domain.StaticIPAddress, error) {
	return uc.claim(ctx, req)
}

func (uc *IPAMUseCase) claimStaticIPs(ctx context.Context, req ClaimRequest) ([]*domain.StaticIPAddress, error) {
	address, err := domain.ParseMACAddress(req.MAC)
	if err != nil {
		return nil, errors.Trace(err)
	}
	mac, err := uc.repo.GetMACAddress(ctx, address)
	if err != nil {
		return nil, errors.Trace(err)
	}

	candidates, err := uc.clusterInterfaces(ctx, mac)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var managed []*domain.ClusterInterface
	for _, ci := range candidates {
		if _, ok := ci.StaticRange(); ok {
			managed = append(managed, ci)
		}
	}
	if len(managed) == 0 {
		return nil, nil
	}

	requested := req.RequestedAddress.Unmap()
	if requested.IsValid() {
		ci := domain.FindClusterInterfaceForIP(managed, requested)
		if ci == nil {
			return nil, errors.Annotatef(domain.ErrOutOfRange,
				"requested IP address %s is not in a subnet managed by any cluster interface", requested)
		}
		managed = []*domain.ClusterInterface{ci}
	}

	existing, err := uc.repo.StaticIPsForMAC(ctx, mac.ID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	allocations := mapAllocatedAddresses(managed, existing)

	if len(allocations) == len(managed) && !hasAllocType(allocations, req.AllocType) {
		return nil, errors.Annotatef(domain.ErrTypeClash,
			"MAC address %s already has IP addresses of different types than the ones requested", mac.Address)
	}

	// Each allocation commits on its own. A failure part way leaves the
	// earlier ones in place; a retry of the claim picks them up.
	for _, ci := range managed {
		if _, ok := allocations[ci.ID]; ok {
			continue
		}
		sip, err := uc.repo.AllocateStaticIP(ctx, domain.AllocateParams{
			MACID:            mac.ID,
			ClusterInterface: ci,
			AllocType:        req.AllocType,
			Requested:        requested,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		logger.Infof("%s: allocated %s address %s to MAC %s", mac.Node, req.AllocType, sip.IP, mac.Address)
		allocations[ci.ID] = sip
	}

	var claimed []*domain.StaticIPAddress
	for _, ci := range managed {
		if sip := allocations[ci.ID]; sip.AllocType == req.AllocType {
			claimed = append(claimed, sip)
		}
	}
	return claimed, nil
}

// clusterInterfaces returns every cluster interface serving the same link
// as the MAC's known cluster interface.
func (uc *IPAMUseCase) clusterInterfaces(ctx context.Context, mac *domain.MACAddress) ([]*domain.ClusterInterface, error) {
	if mac.ClusterInterfaceID == nil {
		logger.Errorf("%s: tried to allocate an IP to MAC %s but its cluster interface is not known", mac.Node, mac.Address)
		return nil, nil
	}
	return uc.repo.ClusterInterfacesInGroup(ctx, *mac.ClusterInterfaceID)
}

// mapAllocatedAddresses maps the id of each of ifaces to the address the
// MAC holds inside its network. Interfaces without one are left out.
func mapAllocatedAddresses(ifaces []*domain.ClusterInterface, sips []*domain.StaticIPAddress) map[int]*domain.StaticIPAddress {
	allocations := make(map[int]*domain.StaticIPAddress, len(ifaces))
	for _, sip := range sips {
		if ci := domain.FindClusterInterfaceForIP(ifaces, sip.IP); ci != nil {
			allocations[ci.ID] = sip
		}
	}
	return allocations
}

func hasAllocType(allocations map[int]*domain.StaticIPAddress, allocType domain.AllocType) bool {
	for _, sip := range allocations {
		if sip.AllocType == allocType {
			return true
		}
	}
	return false
}
