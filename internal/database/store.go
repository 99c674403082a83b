package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// Store reads provisioning entities. Lookups of a single entity return
// (nil, nil) when no row matches.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// Compile-time interface checks.
var (
	_ provisioning.Store          = (*Store)(nil)
	_ provisioning.ClientPresence = (*Store)(nil)
)

// NewStore creates a Store over db.
func NewStore(db *DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger.With("subsystem", "database")}
}

const domainColumns = `i.id, i.domain, i.port, oc.name, oc.phone_number
	FROM intercoms i
	LEFT JOIN outbound_caller_ids oc ON oc.id = i.default_outbound_caller_id_id`

func scanDomain(scan func(...any) error) (provisioning.Domain, error) {
	var (
		d      provisioning.Domain
		cidNam sql.NullString
		cidNum sql.NullString
	)
	if err := scan(&d.ID, &d.Name, &d.Port, &cidNam, &cidNum); err != nil {
		return d, err
	}
	if cidNam.Valid {
		d.DefaultCallerID = &provisioning.CallerID{Name: cidNam.String, Number: cidNum.String}
	}
	return d, nil
}

// DomainByName returns the intercom domain with the given name.
func (s *Store) DomainByName(ctx context.Context, name string) (*provisioning.Domain, error) {
	d, err := scanDomain(s.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` WHERE i.domain = ?`, name).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning domain: %w", err)
	}
	return &d, nil
}

func (s *Store) domainByID(ctx context.Context, id int64) (*provisioning.Domain, error) {
	d, err := scanDomain(s.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` WHERE i.id = ?`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning domain: %w", err)
	}
	return &d, nil
}

// Domains returns every intercom domain ordered by name.
func (s *Store) Domains(ctx context.Context) ([]provisioning.Domain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+domainColumns+` ORDER BY i.domain`)
	if err != nil {
		return nil, fmt.Errorf("querying domains: %w", err)
	}
	defer rows.Close()

	var domains []provisioning.Domain
	for rows.Next() {
		d, err := scanDomain(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning domain row: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

const gatewayColumns = `id, domain, port, username, password, proxy, realm, priority FROM gateways`

func scanGateway(scan func(...any) error) (provisioning.Gateway, error) {
	var g provisioning.Gateway
	err := scan(&g.ID, &g.Domain, &g.Port, &g.Username, &g.Password, &g.Proxy, &g.Realm, &g.Priority)
	return g, err
}

// GatewayByDomain returns the gateway whose profile is named domain.
func (s *Store) GatewayByDomain(ctx context.Context, domain string) (*provisioning.Gateway, error) {
	return s.gatewayOne(ctx, `SELECT `+gatewayColumns+` WHERE domain = ?`, domain)
}

func (s *Store) gatewayByID(ctx context.Context, id int64) (*provisioning.Gateway, error) {
	return s.gatewayOne(ctx, `SELECT `+gatewayColumns+` WHERE id = ?`, id)
}

func (s *Store) gatewayOne(ctx context.Context, query string, arg any) (*provisioning.Gateway, error) {
	g, err := scanGateway(s.db.QueryRowContext(ctx, query, arg).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning gateway: %w", err)
	}
	if g.ACL, err = s.aclAddresses(ctx, g.ID); err != nil {
		return nil, err
	}
	return &g, nil
}

// Gateways returns every gateway in priority order.
func (s *Store) Gateways(ctx context.Context) ([]provisioning.Gateway, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+gatewayColumns+` ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("querying gateways: %w", err)
	}
	defer rows.Close()

	var gateways []provisioning.Gateway
	for rows.Next() {
		g, err := scanGateway(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning gateway row: %w", err)
		}
		gateways = append(gateways, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range gateways {
		if gateways[i].ACL, err = s.aclAddresses(ctx, gateways[i].ID); err != nil {
			return nil, err
		}
	}
	return gateways, nil
}

func (s *Store) aclAddresses(ctx context.Context, gatewayID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address FROM acl_addresses WHERE gateway_id = ? ORDER BY id`, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("querying acl addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scanning acl address: %w", err)
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// optionalGateway loads the gateway referenced by a nullable foreign key.
func (s *Store) optionalGateway(ctx context.Context, id sql.NullInt64) (*provisioning.Gateway, error) {
	if !id.Valid {
		return nil, nil
	}
	return s.gatewayByID(ctx, id.Int64)
}
