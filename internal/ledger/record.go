package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome stored for a claim
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// Reason is the single rejection reason attached to a rejected claim
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonWindowNotOpen     Reason = "window_not_open"
	ReasonTokenMismatch     Reason = "token_mismatch"
	ReasonTokenExpired      Reason = "token_expired"
	ReasonTokenRevoked      Reason = "token_revoked"
	ReasonDeviceMismatch    Reason = "device_mismatch"
	ReasonOutsideGeofence   Reason = "outside_geofence"
	ReasonDuplicateClaim    Reason = "duplicate_claim"
	ReasonInvalidCoordinate Reason = "invalid_coordinate"
	ReasonIndeterminate     Reason = "indeterminate"

	// ReasonNotEnrolled refuses a claim before evaluation; it is audited but never stored
	ReasonNotEnrolled Reason = "not_enrolled"
)

// Check is the result of one validation step in the trail
type Check string

const (
	CheckPassed  Check = "passed"
	CheckFailed  Check = "failed"
	CheckSkipped Check = "skipped"
)

// Trail is everything the pipeline learned while evaluating a claim
type Trail struct {
	TokenCheck       Check    `json:"token_check"`
	DeviceCheck      Check    `json:"device_check"`
	DistanceMeters   *float64 `json:"distance_meters,omitempty"`
	WithinRadius     *bool    `json:"within_radius,omitempty"`
	ClaimedLatitude  float64  `json:"claimed_latitude"`
	ClaimedLongitude float64  `json:"claimed_longitude"`
	DeviceID         string   `json:"device_id"`
}

// Record is the durable outcome of one claim attempt. Records are never updated.
type Record struct {
	ID         uuid.UUID `json:"record_id"`
	MeetingID  uuid.UUID `json:"meeting_id"`
	IdentityID string    `json:"identity_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Decision   Decision  `json:"decision"`
	Reason     Reason    `json:"rejection_reason,omitempty"`
	Trail      Trail     `json:"trail"`
}

// Outcome is what the pipeline asks the ledger to record
type Outcome struct {
	MeetingID  uuid.UUID
	IdentityID string
	Decision   Decision
	Reason     Reason
	Trail      Trail
}
