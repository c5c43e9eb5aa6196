package persistence

import (
	"context"
	"database/sql"
	"net/netip"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/zinrai/ipam-staticip-go/internal/domain"
	"github.com/zinrai/ipam-staticip-go/internal/infrastructure/db"
)

var logger = loggo.GetLogger("ipam.persistence")

const clusterInterfaceColumns = `ci.id, ci.cluster_id, ci.interface_name, ci.network::text,
	host(ci.router_ip), host(ci.static_range_low), host(ci.static_range_high)`

type IPAMRepository struct {
	db *db.DB
}

func NewIPAMRepository(db *db.DB) *IPAMRepository {
	return &IPAMRepository{db: db}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *IPAMRepository) CreateClusterInterface(ctx context.Context, ci *domain.ClusterInterface) error {
	query := `
		INSERT INTO cluster_interfaces
			(cluster_id, interface_name, network, router_ip, static_range_low, static_range_high)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		ci.ClusterID, ci.Name, ci.Network.String(),
		nullAddr(ci.RouterIP), nullAddr(ci.StaticRangeLow), nullAddr(ci.StaticRangeHigh),
	).Scan(&ci.ID)
	if err != nil {
		err = db.TranslateError(err)
		if db.IsUniqueViolation(err) {
			return errors.Annotatef(domain.ErrAlreadyExists, "network %s on cluster %d", ci.Network, ci.ClusterID)
		}
		return errors.Annotate(err, "failed to create cluster interface")
	}
	return nil
}

func (r *IPAMRepository) GetClusterInterface(ctx context.Context, id int) (*domain.ClusterInterface, error) {
	query := `SELECT ` + clusterInterfaceColumns + ` FROM cluster_interfaces ci WHERE ci.id = $1`
	ci, err := scanClusterInterface(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Annotatef(domain.ErrNotFound, "cluster interface %d", id)
		}
		return nil, errors.Annotate(db.TranslateError(err), "failed to get cluster interface")
	}
	return ci, nil
}

func (r *IPAMRepository) ListClusterInterfaces(ctx context.Context) ([]*domain.ClusterInterface, error) {
	query := `SELECT ` + clusterInterfaceColumns + ` FROM cluster_interfaces ci ORDER BY ci.id`
	return r.queryClusterInterfaces(ctx, query)
}

func (r *IPAMRepository) ClusterInterfacesInGroup(ctx context.Context, id int) ([]*domain.ClusterInterface, error) {
	query := `
		SELECT ` + clusterInterfaceColumns + `
		FROM cluster_interfaces ci
		JOIN cluster_interfaces own
			ON own.cluster_id = ci.cluster_id AND own.interface_name = ci.interface_name
		WHERE own.id = $1
		ORDER BY ci.id
	`
	return r.queryClusterInterfaces(ctx, query, id)
}

func (r *IPAMRepository) queryClusterInterfaces(ctx context.Context, query string, args ...any) ([]*domain.ClusterInterface, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Annotate(db.TranslateError(err), "failed to list cluster interfaces")
	}
	defer rows.Close()

	var ifaces []*domain.ClusterInterface
	for rows.Next() {
		ci, err := scanClusterInterface(rows)
		if err != nil {
			return nil, errors.Annotate(err, "failed to scan cluster interface row")
		}
		ifaces = append(ifaces, ci)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(db.TranslateError(err), "failed to list cluster interfaces")
	}
	return ifaces, nil
}

func scanClusterInterface(row rowScanner) (*domain.ClusterInterface, error) {
	var (
		ci                        domain.ClusterInterface
		network                   string
		router, rangeLow, rangeHi sql.NullString
	)
	if err := row.Scan(&ci.ID, &ci.ClusterID, &ci.Name, &network, &router, &rangeLow, &rangeHi); err != nil {
		return nil, err
	}

	var err error
	if ci.Network, err = netip.ParsePrefix(network); err != nil {
		return nil, errors.Annotatef(err, "cluster interface %d network", ci.ID)
	}
	if ci.RouterIP, err = parseNullAddr(router); err != nil {
		return nil, errors.Annotatef(err, "cluster interface %d router", ci.ID)
	}
	if ci.StaticRangeLow, err = parseNullAddr(rangeLow); err != nil {
		return nil, errors.Annotatef(err, "cluster interface %d static range", ci.ID)
	}
	if ci.StaticRangeHigh, err = parseNullAddr(rangeHi); err != nil {
		return nil, errors.Annotatef(err, "cluster interface %d static range", ci.ID)
	}
	return &ci, nil
}

func (r *IPAMRepository) RegisterMACAddress(ctx context.Context, mac *domain.MACAddress) error {
	query := `INSERT INTO mac_addresses (mac_address, node) VALUES ($1, $2) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, mac.Address, mac.Node).Scan(&mac.ID)
	if err != nil {
		err = db.TranslateError(err)
		if db.IsUniqueViolation(err) {
			return errors.Annotatef(domain.ErrAlreadyExists, "MAC address %s", mac.Address)
		}
		return errors.Annotate(err, "failed to register MAC address")
	}
	mac.ClusterInterfaceID = nil
	return nil
}

func (r *IPAMRepository) GetMACAddress(ctx context.Context, address string) (*domain.MACAddress, error) {
	query := `SELECT id, mac_address::text, node, cluster_interface_id FROM mac_addresses WHERE mac_address = $1`
	var (
		mac     domain.MACAddress
		ifaceID sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, address).Scan(&mac.ID, &mac.Address, &mac.Node, &ifaceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Annotatef(domain.ErrNotFound, "MAC address %s", address)
		}
		return nil, errors.Annotate(db.TranslateError(err), "failed to get MAC address")
	}
	if ifaceID.Valid {
		id := int(ifaceID.Int64)
		mac.ClusterInterfaceID = &id
	}
	return &mac, nil
}

func (r *IPAMRepository) SetClusterInterface(ctx context.Context, macID, clusterInterfaceID int) error {
	query := `UPDATE mac_addresses SET cluster_interface_id = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, clusterInterfaceID, macID)
	if err != nil {
		err = db.TranslateError(err)
		if _, ok := errors.Cause(err).(*db.IntegrityError); ok {
			return errors.Annotatef(domain.ErrNotFound, "cluster interface %d", clusterInterfaceID)
		}
		return errors.Annotate(err, "failed to set cluster interface")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Annotate(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errors.Annotatef(domain.ErrNotFound, "MAC address %d", macID)
	}
	return nil
}

func (r *IPAMRepository) StaticIPsForMAC(ctx context.Context, macID int) ([]*domain.StaticIPAddress, error) {
	query := `
		SELECT s.id, host(s.ip), s.alloc_type
		FROM static_ip_addresses s JOIN mac_static_ip_links l ON l.ip_address_id = s.id
		WHERE l.mac_address_id = $1
		ORDER BY s.id
	`
	rows, err := r.db.QueryContext(ctx, query, macID)
	if err != nil {
		return nil, errors.Annotate(db.TranslateError(err), "failed to list static IP addresses")
	}
	defer rows.Close()

	var sips []*domain.StaticIPAddress
	for rows.Next() {
		sip, err := scanStaticIP(rows)
		if err != nil {
			return nil, errors.Annotate(err, "failed to scan static IP address row")
		}
		sips = append(sips, sip)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(db.TranslateError(err), "failed to list static IP addresses")
	}
	return sips, nil
}

func scanStaticIP(row rowScanner) (*domain.StaticIPAddress, error) {
	var (
		sip     domain.StaticIPAddress
		address string
	)
	if err := row.Scan(&sip.ID, &address, &sip.AllocType); err != nil {
		return nil, err
	}
	ip, err := netip.ParseAddr(address)
	if err != nil {
		return nil, errors.Annotatef(err, "static IP address %d", sip.ID)
	}
	sip.IP = ip.Unmap()
	return &sip, nil
}

// AllocateStaticIP picks an address from the cluster interface's static
// range, records it and links it to the MAC, all in one transaction.
func (r *IPAMRepository) AllocateStaticIP(ctx context.Context, params domain.AllocateParams) (*domain.StaticIPAddress, error) {
	ci := params.ClusterInterface
	rng, ok := ci.StaticRange()
	if !ok {
		return nil, errors.NotValidf("cluster interface %d without static range", ci.ID)
	}
	if params.Requested.IsValid() && !rng.Contains(params.Requested) {
		return nil, errors.Annotatef(domain.ErrOutOfRange,
			"requested IP address %s is not in static range %s", params.Requested, rng)
	}

	var sip *domain.StaticIPAddress
	err := r.db.Transact(ctx, func(tx *sql.Tx) error {
		existing, err := heldInNetwork(ctx, tx, params.MACID, ci.Network)
		if err != nil {
			return errors.Trace(err)
		}
		if existing != nil {
			logger.Debugf("MAC %d already holds %s on %s", params.MACID, existing.IP, ci.Network)
			sip = existing
			return nil
		}

		ip := params.Requested
		if ip.IsValid() {
			var id int
			err := tx.QueryRowContext(ctx, `SELECT id FROM static_ip_addresses WHERE ip = $1`, ip.String()).Scan(&id)
			if err == nil {
				return errors.Annotatef(domain.ErrAddressUnavailable, "requested IP address %s is already allocated", ip)
			}
			if err != sql.ErrNoRows {
				return errors.Annotate(db.TranslateError(err), "failed to check IP address")
			}
		} else {
			taken, err := takenInRange(ctx, tx, rng)
			if err != nil {
				return errors.Trace(err)
			}
			var ok bool
			if ip, ok = rng.FirstFree(taken); !ok {
				return errors.Annotatef(domain.ErrRangeExhausted, "no free address in %s", rng)
			}
		}

		newSIP := &domain.StaticIPAddress{IP: ip, AllocType: params.AllocType}
		query := `INSERT INTO static_ip_addresses (ip, alloc_type) VALUES ($1, $2) RETURNING id`
		if err := tx.QueryRowContext(ctx, query, ip.String(), int(params.AllocType)).Scan(&newSIP.ID); err != nil {
			err = db.TranslateError(err)
			if db.IsUniqueViolation(err) {
				return errors.Annotatef(domain.ErrAddressUnavailable, "IP address %s is already allocated", ip)
			}
			return errors.Annotate(err, "failed to allocate IP address")
		}

		query = `INSERT INTO mac_static_ip_links (mac_address_id, ip_address_id) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, query, params.MACID, newSIP.ID); err != nil {
			return errors.Annotate(db.TranslateError(err), "failed to link IP address")
		}
		sip = newSIP
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return sip, nil
}

func heldInNetwork(ctx context.Context, tx *sql.Tx, macID int, network netip.Prefix) (*domain.StaticIPAddress, error) {
	query := `
		SELECT s.id, host(s.ip), s.alloc_type
		FROM static_ip_addresses s JOIN mac_static_ip_links l ON l.ip_address_id = s.id
		WHERE l.mac_address_id = $1 AND s.ip <<= $2::cidr
		ORDER BY s.id
		LIMIT 1
	`
	sip, err := scanStaticIP(tx.QueryRowContext(ctx, query, macID, network.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotate(db.TranslateError(err), "failed to check existing allocation")
	}
	return sip, nil
}

func takenInRange(ctx context.Context, tx *sql.Tx, rng domain.IPRange) ([]netip.Addr, error) {
	query := `
		SELECT host(ip) FROM static_ip_addresses
		WHERE ip BETWEEN $1::inet AND $2::inet
		ORDER BY ip
	`
	rows, err := tx.QueryContext(ctx, query, rng.Low.String(), rng.High.String())
	if err != nil {
		return nil, errors.Annotate(db.TranslateError(err), "failed to list allocated addresses")
	}
	defer rows.Close()

	var taken []netip.Addr
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, errors.Annotate(err, "failed to scan allocated address")
		}
		ip, err := netip.ParseAddr(address)
		if err != nil {
			return nil, errors.Trace(err)
		}
		taken = append(taken, ip.Unmap())
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(db.TranslateError(err), "failed to list allocated addresses")
	}
	return taken, nil
}

func (r *IPAMRepository) ReleaseStaticIP(ctx context.Context, id int) error {
	query := `DELETE FROM static_ip_addresses WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Annotate(db.TranslateError(err), "failed to release IP address")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Annotate(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errors.Annotatef(domain.ErrNotFound, "static IP address %d", id)
	}
	return nil
}

func nullAddr(a netip.Addr) any {
	if !a.IsValid() {
		return nil
	}
	return a.String()
}

func parseNullAddr(s sql.NullString) (netip.Addr, error) {
	if !s.Valid || s.String == "" {
		return netip.Addr{}, nil
	}
	ip, err := netip.ParseAddr(s.String)
	if err != nil {
		return netip.Addr{}, err
	}
	return ip.Unmap(), nil
}
