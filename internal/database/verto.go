package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// ClientByID returns the verto client with the given client id.
func (s *Store) ClientByID(ctx context.Context, clientID string) (*provisioning.VertoClient, error) {
	var (
		c         provisioning.VertoClient
		extID     sql.NullInt64
		connected sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, session_id, password, extension_id, created_at, connected_at
		 FROM verto_clients WHERE client_id = ?`, clientID,
	).Scan(&c.ID, &c.ClientID, &c.SessionID, &c.Password, &extID, &c.Created, &connected)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning verto client: %w", err)
	}
	if connected.Valid {
		t := connected.Time
		c.Connected = &t
	}
	if c.Extension, err = s.optionalExtension(ctx, extID); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkConnected records that the client logged in at at.
func (s *Store) MarkConnected(ctx context.Context, clientID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE verto_clients SET connected_at = ? WHERE client_id = ?`, at.UTC(), clientID)
	if err != nil {
		return fmt.Errorf("marking verto client connected: %w", err)
	}
	return nil
}

// MarkDisconnected clears the client's connected timestamp.
func (s *Store) MarkDisconnected(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE verto_clients SET connected_at = NULL WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("marking verto client disconnected: %w", err)
	}
	return nil
}
