package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/ledger"
)

// Action names the audited operation
type Action string

const (
	ActionAttendanceMarked Action = "attendance_marked"
	ActionSessionCreated   Action = "session_created"
	ActionQRGenerated      Action = "qr_generated"
	ActionSessionClosed    Action = "session_closed"
	ActionDeviceRegistered Action = "device_registered"
)

// EntityType names what the audited operation acted on
type EntityType string

const (
	EntityAttendance EntityType = "attendance"
	EntitySession    EntityType = "session"
	EntityDevice     EntityType = "device"
)

// Outcome is the coarse result of the audited operation
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeFailure       Outcome = "failure"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// Event is one audit entry. Delivery is at-least-once, so consumers dedupe on ID.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Action     Action            `json:"action"`
	ActorID    string            `json:"actor_id"`
	EntityType EntityType        `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	MeetingID  string            `json:"meeting_id,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	Trail      *ledger.Trail     `json:"trail,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// RoutingKey is the broker routing key events of this action are published under
func (e Event) RoutingKey(prefix string) string {
	if prefix == "" {
		return string(e.Action)
	}
	return prefix + "." + string(e.Action)
}
