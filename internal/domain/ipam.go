package domain

import (
	"context"
	"net/netip"
)

// AllocType records why a static address was handed out.
type AllocType int

const (
	AllocTypeAuto         AllocType = 0
	AllocTypeSticky       AllocType = 1
	AllocTypeUserReserved AllocType = 4
)

// ClusterInterface is a network segment managed by a cluster controller.
// Interfaces sharing ClusterID and Name serve the same physical link.
type ClusterInterface struct {
	ID              int
	ClusterID       int
	Name            string
	Network         netip.Prefix
	RouterIP        netip.Addr
	StaticRangeLow  netip.Addr
	StaticRangeHigh netip.Addr
}

// MACAddress is a network interface attached to a node. ClusterInterfaceID
// stays nil until traffic from the interface has been observed.
type MACAddress struct {
	ID                 int
	Address            string
	Node               string
	ClusterInterfaceID *int
}

type StaticIPAddress struct {
	ID        int
	IP        netip.Addr
	AllocType AllocType
}

// AllocateParams describes one Range Allocator call. A zero Requested means
// "lowest free address".
type AllocateParams struct {
	MACID            int
	ClusterInterface *ClusterInterface
	AllocType        AllocType
	Requested        netip.Addr
}

type IPAMRepository interface {
	CreateClusterInterface(ctx context.Context, ci *ClusterInterface) error
	GetClusterInterface(ctx context.Context, id int) (*ClusterInterface, error)
	ListClusterInterfaces(ctx context.Context) ([]*ClusterInterface, error)
	// ClusterInterfacesInGroup returns every cluster interface sharing the
	// grouping key of the interface with the given id, ordered by id.
	ClusterInterfacesInGroup(ctx context.Context, id int) ([]*ClusterInterface, error)
	RegisterMACAddress(ctx context.Context, mac *MACAddress) error
	GetMACAddress(ctx context.Context, mac string) (*MACAddress, error)
	SetClusterInterface(ctx context.Context, macID, clusterInterfaceID int) error
	StaticIPsForMAC(ctx context.Context, macID int) ([]*StaticIPAddress, error)
	AllocateStaticIP(ctx context.Context, params AllocateParams) (*StaticIPAddress, error)
	ReleaseStaticIP(ctx context.Context, id int) error
}
