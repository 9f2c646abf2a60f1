package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/attendance-admission/internal/ledger"
)

// InsertAcceptedIfAbsent leans on the partial unique index over accepted rows:
// the insert either claims the (meeting, identity) slot or does nothing, and the
// loser reads back the row that won.
func (r *Repository) InsertAcceptedIfAbsent(ctx context.Context, rec ledger.Record) (bool, ledger.Record, error) {
	trail, err := json.Marshal(rec.Trail)
	if err != nil {
		return false, ledger.Record{}, fmt.Errorf("failed to marshal trail: %w", err)
	}

	insert := `
		INSERT INTO admission_records (id, meeting_id, identity_id, recorded_at, decision, rejection_reason, trail)
		VALUES ($1, $2, $3, $4, 'accepted', NULL, $5)
		ON CONFLICT (meeting_id, identity_id) WHERE decision = 'accepted' DO NOTHING
		RETURNING id
	`

	var id uuid.UUID
	err = r.db.QueryRow(ctx, insert, rec.ID, rec.MeetingID, rec.IdentityID, rec.RecordedAt, trail).Scan(&id)
	if err == nil {
		return true, ledger.Record{}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, ledger.Record{}, fmt.Errorf("failed to insert accepted record: %w", err)
	}

	existing, err := r.FindAccepted(ctx, rec.MeetingID, rec.IdentityID)
	if err != nil {
		return false, ledger.Record{}, fmt.Errorf("conflicting accepted record not readable: %w", err)
	}
	return false, existing, nil
}

// InsertRejected appends a rejected record
func (r *Repository) InsertRejected(ctx context.Context, rec ledger.Record) error {
	trail, err := json.Marshal(rec.Trail)
	if err != nil {
		return fmt.Errorf("failed to marshal trail: %w", err)
	}

	query := `
		INSERT INTO admission_records (id, meeting_id, identity_id, recorded_at, decision, rejection_reason, trail)
		VALUES ($1, $2, $3, $4, 'rejected', $5, $6)
	`

	_, err = r.db.Exec(ctx, query, rec.ID, rec.MeetingID, rec.IdentityID, rec.RecordedAt, string(rec.Reason), trail)
	if err != nil {
		return fmt.Errorf("failed to insert rejected record: %w", err)
	}
	return nil
}

// FindAccepted returns ledger.ErrNotFound when the pair has no accepted record
func (r *Repository) FindAccepted(ctx context.Context, meetingID uuid.UUID, identityID string) (ledger.Record, error) {
	query := `
		SELECT id, meeting_id, identity_id, recorded_at, trail
		FROM admission_records
		WHERE meeting_id = $1 AND identity_id = $2 AND decision = 'accepted'
	`

	var (
		rec   ledger.Record
		trail []byte
	)
	err := r.db.QueryRow(ctx, query, meetingID, identityID).Scan(
		&rec.ID,
		&rec.MeetingID,
		&rec.IdentityID,
		&rec.RecordedAt,
		&trail,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Record{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("failed to query accepted record: %w", err)
	}

	rec.Decision = ledger.DecisionAccepted
	if len(trail) > 0 {
		if err := json.Unmarshal(trail, &rec.Trail); err != nil {
			return ledger.Record{}, fmt.Errorf("failed to unmarshal trail: %w", err)
		}
	}
	return rec, nil
}
