package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/septivank/attendance-admission/internal/audit"
)

// InsertAuditEvent archives an event; redelivered events with a known id are ignored
func (r *Repository) InsertAuditEvent(ctx context.Context, e audit.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	query := `
		INSERT INTO audit_log (
			id, action, actor_id, entity_type, entity_id, meeting_id,
			outcome, reason, request_id, payload, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.Exec(ctx, query,
		e.ID,
		string(e.Action),
		e.ActorID,
		string(e.EntityType),
		e.EntityID,
		e.MeetingID,
		string(e.Outcome),
		e.Reason,
		e.RequestID,
		payload,
		e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}
