// Package memstore keeps the static IP data of a single node in memory.
// Every operation holds one lock, so operations never conflict.
package memstore

import (
	"context"
	"net/netip"
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/zinrai/ipam-staticip-go/internal/domain"
)

type Store struct {
	mu     sync.Mutex
	nextID int

	ifaces        map[int]domain.ClusterInterface
	macs          map[int]domain.MACAddress
	macsByAddress map[string]int
	ips           map[int]domain.StaticIPAddress
	// ipOwners maps static IP address ids to MAC address ids.
	ipOwners map[int]int
}

func New() *Store {
	return &Store{
		ifaces:        make(map[int]domain.ClusterInterface),
		macs:          make(map[int]domain.MACAddress),
		macsByAddress: make(map[string]int),
		ips:           make(map[int]domain.StaticIPAddress),
		ipOwners:      make(map[int]int),
	}
}

func (s *Store) newID() int {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateClusterInterface(ctx context.Context, ci *domain.ClusterInterface) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.ifaces {
		if other.ClusterID == ci.ClusterID && other.Network == ci.Network {
			return errors.Annotatef(domain.ErrAlreadyExists, "network %s on cluster %d", ci.Network, ci.ClusterID)
		}
	}
	ci.ID = s.newID()
	s.ifaces[ci.ID] = *ci
	return nil
}

func (s *Store) GetClusterInterface(ctx context.Context, id int) (*domain.ClusterInterface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ci, ok := s.ifaces[id]
	if !ok {
		return nil, errors.Annotatef(domain.ErrNotFound, "cluster interface %d", id)
	}
	return &ci, nil
}

func (s *Store) ListClusterInterfaces(ctx context.Context) ([]*domain.ClusterInterface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clusterInterfaces(func(*domain.ClusterInterface) bool { return true }), nil
}

func (s *Store) ClusterInterfacesInGroup(ctx context.Context, id int) ([]*domain.ClusterInterface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	own, ok := s.ifaces[id]
	if !ok {
		return nil, nil
	}
	return s.clusterInterfaces(own.SameGroup), nil
}

func (s *Store) clusterInterfaces(keep func(*domain.ClusterInterface) bool) []*domain.ClusterInterface {
	var ifaces []*domain.ClusterInterface
	for _, id := range sortedKeys(s.ifaces) {
		ci := s.ifaces[id]
		if keep(&ci) {
			ifaces = append(ifaces, &ci)
		}
	}
	return ifaces
}

func (s *Store) RegisterMACAddress(ctx context.Context, mac *domain.MACAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.macsByAddress[mac.Address]; ok {
		return errors.Annotatef(domain.ErrAlreadyExists, "MAC address %s", mac.Address)
	}
	mac.ID = s.newID()
	mac.ClusterInterfaceID = nil
	s.macs[mac.ID] = *mac
	s.macsByAddress[mac.Address] = mac.ID
	return nil
}

func (s *Store) GetMACAddress(ctx context.Context, address string) (*domain.MACAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.macsByAddress[address]
	if !ok {
		return nil, errors.Annotatef(domain.ErrNotFound, "MAC address %s", address)
	}
	mac := s.macs[id]
	if mac.ClusterInterfaceID != nil {
		ifaceID := *mac.ClusterInterfaceID
		mac.ClusterInterfaceID = &ifaceID
	}
	return &mac, nil
}

func (s *Store) SetClusterInterface(ctx context.Context, macID, clusterInterfaceID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ifaces[clusterInterfaceID]; !ok {
		return errors.Annotatef(domain.ErrNotFound, "cluster interface %d", clusterInterfaceID)
	}
	mac, ok := s.macs[macID]
	if !ok {
		return errors.Annotatef(domain.ErrNotFound, "MAC address %d", macID)
	}
	mac.ClusterInterfaceID = &clusterInterfaceID
	s.macs[macID] = mac
	return nil
}

func (s *Store) StaticIPsForMAC(ctx context.Context, macID int) ([]*domain.StaticIPAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sips []*domain.StaticIPAddress
	for _, id := range sortedKeys(s.ips) {
		if s.ipOwners[id] == macID {
			sip := s.ips[id]
			sips = append(sips, &sip)
		}
	}
	return sips, nil
}

func (s *Store) AllocateStaticIP(ctx context.Context, params domain.AllocateParams) (*domain.StaticIPAddress, error) {
	ci := params.ClusterInterface
	rng, ok := ci.StaticRange()
	if !ok {
		return nil, errors.NotValidf("cluster interface %d without static range", ci.ID)
	}
	if params.Requested.IsValid() && !rng.Contains(params.Requested) {
		return nil, errors.Annotatef(domain.ErrOutOfRange,
			"requested IP address %s is not in static range %s", params.Requested, rng)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.macs[params.MACID]; !ok {
		return nil, errors.Annotatef(domain.ErrNotFound, "MAC address %d", params.MACID)
	}
	for _, id := range sortedKeys(s.ips) {
		if s.ipOwners[id] == params.MACID && ci.Network.Contains(s.ips[id].IP) {
			sip := s.ips[id]
			return &sip, nil
		}
	}

	ip := params.Requested
	if ip.IsValid() {
		for _, sip := range s.ips {
			if sip.IP == ip {
				return nil, errors.Annotatef(domain.ErrAddressUnavailable, "requested IP address %s is already allocated", ip)
			}
		}
	} else {
		taken := make([]netip.Addr, 0, len(s.ips))
		for _, sip := range s.ips {
			taken = append(taken, sip.IP)
		}
		if ip, ok = rng.FirstFree(taken); !ok {
			return nil, errors.Annotatef(domain.ErrRangeExhausted, "no free address in %s", rng)
		}
	}

	sip := domain.StaticIPAddress{ID: s.newID(), IP: ip, AllocType: params.AllocType}
	s.ips[sip.ID] = sip
	s.ipOwners[sip.ID] = params.MACID
	return &sip, nil
}

func (s *Store) ReleaseStaticIP(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ips[id]; !ok {
		return errors.Annotatef(domain.ErrNotFound, "static IP address %d", id)
	}
	delete(s.ips, id)
	delete(s.ipOwners, id)
	return nil
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
