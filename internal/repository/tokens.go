package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/attendance-admission/internal/token"
)

// SaveCurrentToken archives the meeting's current token to proof_token_history and
// replaces it, both in one transaction. Only an open window accepts a new token; a
// window closed concurrently yields token.ErrWindowNotOpen and nothing is written.
func (r *Repository) SaveCurrentToken(ctx context.Context, meetingID uuid.UUID, tok token.Token) error {
	archive := `
		INSERT INTO proof_token_history (meeting_id, token_value, issued_at, expires_at, superseded_at)
		SELECT id, token_value, token_issued_at, token_expires_at, $2
		FROM meeting_windows
		WHERE id = $1 AND status = 'open' AND token_value IS NOT NULL
	`
	update := `
		UPDATE meeting_windows
		SET token_value = $2, token_issued_at = $3, token_expires_at = $4, token_valid = $5
		WHERE id = $1 AND status = 'open'
	`

	return r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, archive, meetingID, tok.IssuedAt); err != nil {
			return fmt.Errorf("failed to archive proof token: %w", err)
		}
		tag, err := tx.Exec(ctx, update, meetingID, tok.Value, tok.IssuedAt, tok.ExpiresAt, tok.Valid)
		if err != nil {
			return fmt.Errorf("failed to store proof token: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if err := windowExistsIn(ctx, tx, meetingID); err != nil {
				return err
			}
			return token.ErrWindowNotOpen
		}
		return nil
	})
}

// RevokeCurrentToken clears the valid flag of the current token
func (r *Repository) RevokeCurrentToken(ctx context.Context, meetingID uuid.UUID) error {
	query := `UPDATE meeting_windows SET token_valid = FALSE WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, meetingID); err != nil {
		return fmt.Errorf("failed to revoke proof token: %w", err)
	}
	return nil
}

// LoadCurrentToken returns token.ErrNoToken when nothing was issued
func (r *Repository) LoadCurrentToken(ctx context.Context, meetingID uuid.UUID) (token.Token, error) {
	query := `
		SELECT token_value, token_issued_at, token_expires_at, token_valid
		FROM meeting_windows
		WHERE id = $1
	`

	var (
		value     *string
		issuedAt  *time.Time
		expiresAt *time.Time
		valid     bool
	)
	err := r.db.QueryRow(ctx, query, meetingID).Scan(&value, &issuedAt, &expiresAt, &valid)
	if errors.Is(err, pgx.ErrNoRows) {
		return token.Token{}, token.ErrNoToken
	}
	if err != nil {
		return token.Token{}, fmt.Errorf("failed to query proof token: %w", err)
	}
	if value == nil || issuedAt == nil || expiresAt == nil {
		return token.Token{}, token.ErrNoToken
	}

	return token.Token{
		Value:     *value,
		IssuedAt:  *issuedAt,
		ExpiresAt: *expiresAt,
		Valid:     valid,
	}, nil
}

// TokenHistory returns the superseded tokens of a meeting, oldest first
func (r *Repository) TokenHistory(ctx context.Context, meetingID uuid.UUID) ([]token.Token, error) {
	query := `
		SELECT token_value, issued_at, expires_at
		FROM proof_token_history
		WHERE meeting_id = $1
		ORDER BY issued_at
	`

	rows, err := r.db.Query(ctx, query, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query token history: %w", err)
	}
	defer rows.Close()

	var history []token.Token
	for rows.Next() {
		var tok token.Token
		if err := rows.Scan(&tok.Value, &tok.IssuedAt, &tok.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		history = append(history, tok)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return history, nil
}
