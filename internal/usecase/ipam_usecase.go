package usecase

import (
	"context"
	"net/netip"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/zinrai/ipam-staticip-go/internal/domain"
	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/db"
)

var logger = loggo.GetLogger("ipam.usecase")

type IPAMUseCase struct {
	repo    domain.IPAMRepository
	retrier *db.Retrier

	claim func(ctx context.Context, req ClaimRequest) ([]*domain.StaticIPAddress, error)
}

// NewIPAMUseCase returns a use case whose operations re-run on
// serialization failures according to retrier.
func NewIPAMUseCase(repo domain.IPAMRepository, retrier *db.Retrier) *IPAMUseCase {
	uc := &IPAMUseCase{repo: repo, retrier: retrier}
	uc.claim = db.WithRetry(retrier, "claim-static-ips", uc.claimStaticIPs)
	return uc
}

func (uc *IPAMUseCase) CreateClusterInterface(ctx context.Context, ci *domain.ClusterInterface) error {
	ci.Network = netip.PrefixFrom(ci.Network.Addr().Unmap(), ci.Network.Bits())
	ci.RouterIP = ci.RouterIP.Unmap()
	ci.StaticRangeLow = ci.StaticRangeLow.Unmap()
	ci.StaticRangeHigh = ci.StaticRangeHigh.Unmap()
	if err := ci.Validate(); err != nil {
		return errors.Trace(err)
	}
	return uc.retrier.Run(ctx, "create-cluster-interface", func(ctx context.Context) error {
		return uc.repo.CreateClusterInterface(ctx, ci)
	})
}

func (uc *IPAMUseCase) GetClusterInterface(ctx context.Context, id int) (*domain.ClusterInterface, error) {
	var ci *domain.ClusterInterface
	err := uc.retrier.Run(ctx, "get-cluster-interface", func(ctx context.Context) error {
		var err error
		ci, err = uc.repo.GetClusterInterface(ctx, id)
		return err
	})
	return ci, errors.Trace(err)
}

func (uc *IPAMUseCase) ListClusterInterfaces(ctx context.Context) ([]*domain.ClusterInterface, error) {
	var ifaces []*domain.ClusterInterface
	err := uc.retrier.Run(ctx, "list-cluster-interfaces", func(ctx context.Context) error {
		var err error
		ifaces, err = uc.repo.ListClusterInterfaces(ctx)
		return err
	})
	return ifaces, errors.Trace(err)
}

// RegisterMACAddress records a network interface of node.
func (uc *IPAMUseCase) RegisterMACAddress(ctx context.Context, address, node string) (*domain.MACAddress, error) {
	canonical, err := domain.ParseMACAddress(address)
	if err != nil {
		return nil, errors.Trace(err)
	}
	node = strings.TrimSpace(node)
	if node == "" {
		return nil, errors.NotValidf("empty node")
	}

	mac := &domain.MACAddress{Address: canonical, Node: node}
	err = uc.retrier.Run(ctx, "register-mac-address", func(ctx context.Context) error {
		return uc.repo.RegisterMACAddress(ctx, mac)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	logger.Infof("%s: registered MAC %s", node, canonical)
	return mac, nil
}

// SetClusterInterface records the cluster interface a MAC was seen on.
func (uc *IPAMUseCase) SetClusterInterface(ctx context.Context, address string, clusterInterfaceID int) error {
	canonical, err := domain.ParseMACAddress(address)
	if err != nil {
		return errors.Trace(err)
	}
	return uc.retrier.Run(ctx, "set-cluster-interface", func(ctx context.Context) error {
		mac, err := uc.repo.GetMACAddress(ctx, canonical)
		if err != nil {
			return errors.Trace(err)
		}
		return uc.repo.SetClusterInterface(ctx, mac.ID, clusterInterfaceID)
	})
}

func (uc *IPAMUseCase) ListStaticIPs(ctx context.Context, address string) ([]*domain.StaticIPAddress, error) {
	canonical, err := domain.ParseMACAddress(address)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var sips []*domain.StaticIPAddress
	err = uc.retrier.Run(ctx, "list-static-ips", func(ctx context.Context) error {
		mac, err := uc.repo.GetMACAddress(ctx, canonical)
		if err != nil {
			return errors.Trace(err)
		}
		sips, err = uc.repo.StaticIPsForMAC(ctx, mac.ID)
		return err
	})
	return sips, errors.Trace(err)
}

func (uc *IPAMUseCase) ReleaseStaticIP(ctx context.Context, id int) error {
	return uc.retrier.Run(ctx, "release-static-ip", func(ctx context.Context) error {
		return uc.repo.ReleaseStaticIP(ctx, id)
	})
}
