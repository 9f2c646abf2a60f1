package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/septivank/attendance-admission/internal/db"
	"github.com/septivank/attendance-admission/internal/device"
)

// GetBinding returns device.ErrNotBound for unknown identities
func (r *Repository) GetBinding(ctx context.Context, identityID string) (device.Binding, error) {
	query := `
		SELECT identity_id, device_id, registered_at
		FROM device_bindings
		WHERE identity_id = $1
	`

	var b device.Binding
	err := r.db.QueryRow(ctx, query, identityID).Scan(&b.IdentityID, &b.DeviceID, &b.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return device.Binding{}, device.ErrNotBound
	}
	if err != nil {
		return device.Binding{}, fmt.Errorf("failed to query device binding: %w", err)
	}
	return b, nil
}

// CreateBinding relies on the primary key and the device_id unique constraint
// to keep bindings one-to-one in both directions.
func (r *Repository) CreateBinding(ctx context.Context, b device.Binding) error {
	query := `
		INSERT INTO device_bindings (identity_id, device_id, registered_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.db.Exec(ctx, query, b.IdentityID, b.DeviceID, b.RegisteredAt)
	if db.IsUniqueViolation(err) {
		return device.ErrAlreadyBound
	}
	if err != nil {
		return fmt.Errorf("failed to insert device binding: %w", err)
	}
	return nil
}
