package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// ExtensionByNumber returns extension number in domain with its bound action.
func (s *Store) ExtensionByNumber(ctx context.Context, domain, number string) (*provisioning.Extension, error) {
	return s.extensionOne(ctx,
		`SELECT e.id, e.extension_number, e.intercom_id, e.voicemail
		 FROM extensions e
		 JOIN intercoms i ON i.id = e.intercom_id
		 WHERE i.domain = ? AND e.extension_number = ?`, domain, number)
}

func (s *Store) extensionByID(ctx context.Context, id int64) (*provisioning.Extension, error) {
	return s.extensionOne(ctx,
		`SELECT id, extension_number, intercom_id, voicemail FROM extensions WHERE id = ?`, id)
}

func (s *Store) optionalExtension(ctx context.Context, id sql.NullInt64) (*provisioning.Extension, error) {
	if !id.Valid {
		return nil, nil
	}
	return s.extensionByID(ctx, id.Int64)
}

func (s *Store) extensionOne(ctx context.Context, query string, args ...any) (*provisioning.Extension, error) {
	var (
		e        provisioning.Extension
		domainID int64
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.Number, &domainID, &e.Voicemail)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning extension: %w", err)
	}
	if e.Domain, err = s.domainByID(ctx, domainID); err != nil {
		return nil, err
	}
	if e.Action, err = s.actionForExtension(ctx, e.ID); err != nil {
		return nil, err
	}
	return &e, nil
}

// actionForExtension loads the action bound to an extension, or nil. Rows of
// an unknown kind are logged and treated as unbound.
func (s *Store) actionForExtension(ctx context.Context, extensionID int64) (provisioning.Action, error) {
	var (
		id   int64
		kind string
		name string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name FROM actions WHERE extension_id = ?`, extensionID,
	).Scan(&id, &kind, &name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning action: %w", err)
	}

	switch provisioning.ActionKind(kind) {
	case provisioning.KindBridge:
		return s.bridge(ctx, id, name)
	case provisioning.KindConference:
		return &provisioning.Conference{ID: id, Name: name}, nil
	default:
		s.logger.Warn("unknown action kind", "action_id", id, "kind", kind)
		return nil, nil
	}
}

func (s *Store) bridge(ctx context.Context, id int64, name string) (*provisioning.Bridge, error) {
	b := &provisioning.Bridge{ID: id, Name: name}

	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.name, l.username
		 FROM line_bridges lb
		 JOIN lines l ON l.id = lb.line_id
		 WHERE lb.action_id = ?
		 ORDER BY l.id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying bridge lines: %w", err)
	}
	for rows.Next() {
		var bl provisioning.BridgeLine
		if err := rows.Scan(&bl.ID, &bl.Name, &bl.Username); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning bridge line: %w", err)
		}
		b.Lines = append(b.Lines, bl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	type outsideRow struct {
		line      provisioning.OutsideLine
		gatewayID sql.NullInt64
	}
	rows, err = s.db.QueryContext(ctx,
		`SELECT o.id, o.note, o.phone_number, o.gateway_id
		 FROM outside_line_bridges ob
		 JOIN outside_lines o ON o.id = ob.outside_line_id
		 WHERE ob.action_id = ?
		 ORDER BY o.id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying bridge outside lines: %w", err)
	}
	var outside []outsideRow
	for rows.Next() {
		var r outsideRow
		if err := rows.Scan(&r.line.ID, &r.line.Note, &r.line.PhoneNumber, &r.gatewayID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning bridge outside line: %w", err)
		}
		outside = append(outside, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range outside {
		if r.line.Gateway, err = s.optionalGateway(ctx, r.gatewayID); err != nil {
			return nil, err
		}
		b.OutsideLines = append(b.OutsideLines, r.line)
	}
	return b, nil
}

// DidExtensionByNumber returns the DID mapping for number.
func (s *Store) DidExtensionByNumber(ctx context.Context, number string) (*provisioning.DidExtension, error) {
	var (
		d     provisioning.DidExtension
		extID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, did_number, extension_id FROM did_extensions WHERE did_number = ?`, number,
	).Scan(&d.ID, &d.Number, &extID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning did extension: %w", err)
	}
	if d.Extension, err = s.optionalExtension(ctx, extID); err != nil {
		return nil, err
	}
	return &d, nil
}

// DidExtensions returns every DID mapping ordered by number.
func (s *Store) DidExtensions(ctx context.Context) ([]provisioning.DidExtension, error) {
	type didRow struct {
		did   provisioning.DidExtension
		extID sql.NullInt64
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, did_number, extension_id FROM did_extensions ORDER BY did_number`)
	if err != nil {
		return nil, fmt.Errorf("querying did extensions: %w", err)
	}
	var pending []didRow
	for rows.Next() {
		var r didRow
		if err := rows.Scan(&r.did.ID, &r.did.Number, &r.extID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning did extension row: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dids := make([]provisioning.DidExtension, 0, len(pending))
	for _, r := range pending {
		if r.did.Extension, err = s.optionalExtension(ctx, r.extID); err != nil {
			return nil, err
		}
		dids = append(dids, r.did)
	}
	return dids, nil
}
