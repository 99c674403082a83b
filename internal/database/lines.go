package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// LineByUsername returns the line registered as username along with its
// domain, caller ID, and outbound rules in stored order.
func (s *Store) LineByUsername(ctx context.Context, username string) (*provisioning.Line, error) {
	var (
		l        provisioning.Line
		domainID int64
		extNum   sql.NullString
		cidName  sql.NullString
		cidNum   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT l.id, l.name, l.username, l.password, l.intercom_id,
		        e.extension_number, oc.name, oc.phone_number
		 FROM lines l
		 LEFT JOIN extensions e ON e.id = l.extension_id
		 LEFT JOIN outbound_caller_ids oc ON oc.id = l.outbound_caller_id_id
		 WHERE l.username = ?`, username,
	).Scan(&l.ID, &l.Name, &l.Username, &l.Password, &domainID, &extNum, &cidName, &cidNum)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning line: %w", err)
	}

	l.ExtensionNumber = extNum.String
	if cidName.Valid {
		l.OutboundCallerID = &provisioning.CallerID{Name: cidName.String, Number: cidNum.String}
	}
	if l.Domain, err = s.domainByID(ctx, domainID); err != nil {
		return nil, err
	}
	if l.OutboundRules, err = s.outboundRules(ctx, l.ID); err != nil {
		return nil, err
	}
	return &l, nil
}

// outboundRules loads a line's outbound extensions by position. A rule whose
// expression does not compile is skipped.
func (s *Store) outboundRules(ctx context.Context, lineID int64) ([]provisioning.OutboundExtension, error) {
	type ruleRow struct {
		id        int64
		name      string
		expr      string
		gatewayID sql.NullInt64
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.name, o.expression, o.gateway_id
		 FROM line_outbound_extensions lo
		 JOIN outbound_extensions o ON o.id = lo.outbound_extension_id
		 WHERE lo.line_id = ?
		 ORDER BY lo.position, o.id`, lineID)
	if err != nil {
		return nil, fmt.Errorf("querying outbound extensions: %w", err)
	}
	defer rows.Close()

	var pending []ruleRow
	for rows.Next() {
		var r ruleRow
		if err := rows.Scan(&r.id, &r.name, &r.expr, &r.gatewayID); err != nil {
			return nil, fmt.Errorf("scanning outbound extension: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	rules := make([]provisioning.OutboundExtension, 0, len(pending))
	for _, r := range pending {
		gw, err := s.optionalGateway(ctx, r.gatewayID)
		if err != nil {
			return nil, err
		}
		rule, err := provisioning.NewOutboundExtension(r.id, r.name, r.expr, gw)
		if err != nil {
			s.logger.Warn("skipping outbound extension", "line_id", lineID, "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
