package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ArchiveStore persists delivered audit events. InsertAuditEvent must be idempotent on Event.ID.
type ArchiveStore interface {
	InsertAuditEvent(ctx context.Context, e Event) error
}

// Archiver turns broker messages back into audit events and stores them
type Archiver struct {
	store  ArchiveStore
	logger *zap.Logger
}

// NewArchiver creates an audit archiver
func NewArchiver(store ArchiveStore, logger *zap.Logger) *Archiver {
	return &Archiver{store: store, logger: logger}
}

// HandleMessage stores one audit event body. A returned error sends the message to the DLQ.
func (a *Archiver) HandleMessage(ctx context.Context, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal audit event: %w", err)
	}
	if ev.ID == uuid.Nil {
		return fmt.Errorf("audit event has no id")
	}
	if ev.Action == "" {
		return fmt.Errorf("audit event %s has no action", ev.ID)
	}

	if err := a.store.InsertAuditEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to archive audit event: %w", err)
	}

	a.logger.Debug("audit event archived",
		zap.String("event_id", ev.ID.String()),
		zap.String("action", string(ev.Action)),
	)
	return nil
}
