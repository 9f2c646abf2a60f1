package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/audit"
	"github.com/septivank/attendance-admission/internal/geo"
	"github.com/septivank/attendance-admission/internal/ledger"
	"github.com/septivank/attendance-admission/internal/logging"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/metrics"
	"github.com/septivank/attendance-admission/internal/token"
	"github.com/septivank/attendance-admission/tools/clock"
	"go.uber.org/zap"
)

// Windows answers liveness questions about meeting windows
type Windows interface {
	Snapshot(ctx context.Context, meetingID uuid.UUID, now time.Time) (meeting.Window, bool, error)
}

// TokenValidator checks a presented proof token
type TokenValidator interface {
	Validate(ctx context.Context, meetingID uuid.UUID, candidate string, now time.Time) (token.Result, error)
}

// DeviceValidator checks a claimed device against the registered binding
type DeviceValidator interface {
	Validate(ctx context.Context, identityID, claimedDeviceID string) (bool, error)
}

// Recorder stores admission outcomes
type Recorder interface {
	TryRecord(ctx context.Context, o ledger.Outcome) (ledger.Result, error)
}

// AuditEmitter queues audit events without blocking
type AuditEmitter interface {
	Emit(e audit.Event)
}

// Status is the overall verdict on a claim
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	// StatusIndeterminate means storage failed mid-evaluation; nothing was accepted and the claim may be retried
	StatusIndeterminate Status = "indeterminate"
)

// Claim is one attendance submission
type Claim struct {
	MeetingID  uuid.UUID
	IdentityID string
	Token      string
	Latitude   float64
	Longitude  float64
	DeviceID   string
	RequestID  string
}

// Decision is the structured answer to a claim
type Decision struct {
	Status           Status        `json:"status"`
	Reason           ledger.Reason `json:"reason,omitempty"`
	DistanceMeters   *float64      `json:"distance_meters,omitempty"`
	RecordID         *uuid.UUID    `json:"record_id,omitempty"`
	ExistingRecordID *uuid.UUID    `json:"existing_record_id,omitempty"`
	Trail            ledger.Trail  `json:"trail"`
	DecidedAt        time.Time     `json:"decided_at"`
}

// Accepted reports whether the claim was admitted
func (d Decision) Accepted() bool {
	return d.Status == StatusAccepted
}

// Pipeline evaluates claims: window, token, device, geofence, then the ledger.
// The first failing step decides the reason and later steps are not run.
type Pipeline struct {
	windows Windows
	tokens  TokenValidator
	devices DeviceValidator
	ledger  Recorder
	audit   AuditEmitter
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPipeline creates an admission pipeline
func NewPipeline(
	windows Windows,
	tokens TokenValidator,
	devices DeviceValidator,
	recorder Recorder,
	emitter AuditEmitter,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		windows: windows,
		tokens:  tokens,
		devices: devices,
		ledger:  recorder,
		audit:   emitter,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

// evaluation carries the state of one claim through the steps
type evaluation struct {
	claim  Claim
	now    time.Time
	trail  ledger.Trail
	logger *zap.Logger
}

// Evaluate runs a claim through every check and returns exactly one decision.
// Exactly one audit event is emitted per call.
func (p *Pipeline) Evaluate(ctx context.Context, claim Claim) Decision {
	started := time.Now()
	ev := p.begin(claim)
	return p.finish(ev, p.evaluate(ctx, ev), started)
}

// Unavailable answers a claim whose preconditions could not be read from storage.
// The decision is indeterminate and, like Evaluate, emits exactly one audit event.
func (p *Pipeline) Unavailable(claim Claim, what string, err error) Decision {
	started := time.Now()
	ev := p.begin(claim)
	return p.finish(ev, p.indeterminate(ev, what, err), started)
}

// Refuse answers a claim turned away before evaluation. Nothing is written to the
// ledger; the refusal is counted and audited once.
func (p *Pipeline) Refuse(claim Claim, reason ledger.Reason) Decision {
	started := time.Now()
	ev := p.begin(claim)
	return p.finish(ev, Decision{
		Status: StatusRejected,
		Reason: reason,
		Trail:  ev.trail,
	}, started)
}

func (p *Pipeline) begin(claim Claim) *evaluation {
	return &evaluation{
		claim: claim,
		now:   p.clock.Now(),
		trail: ledger.Trail{
			TokenCheck:       ledger.CheckSkipped,
			DeviceCheck:      ledger.CheckSkipped,
			ClaimedLatitude:  claim.Latitude,
			ClaimedLongitude: claim.Longitude,
			DeviceID:         claim.DeviceID,
		},
		logger: logging.WithMeeting(logging.WithRequestID(p.logger, claim.RequestID), claim.MeetingID).
			With(zap.String("identity_id", claim.IdentityID)),
	}
}

func (p *Pipeline) finish(ev *evaluation, decision Decision, started time.Time) Decision {
	decision.DecidedAt = ev.now

	p.metrics.ObserveClaim(string(decision.Status), string(decision.Reason), time.Since(started))
	p.emit(ev, decision)

	ev.logger.Info("claim evaluated",
		zap.String("status", string(decision.Status)),
		zap.String("reason", string(decision.Reason)),
	)
	return decision
}

func (p *Pipeline) evaluate(ctx context.Context, ev *evaluation) Decision {
	claim := ev.claim

	// 1. window liveness
	w, open, err := p.windows.Snapshot(ctx, claim.MeetingID, ev.now)
	if err != nil && !errors.Is(err, meeting.ErrMeetingNotFound) {
		return p.indeterminate(ev, "window lookup failed", err)
	}
	if err != nil || !open {
		return p.reject(ctx, ev, ledger.ReasonWindowNotOpen)
	}

	// 2. proof token
	res, err := p.tokens.Validate(ctx, claim.MeetingID, claim.Token, ev.now)
	if err != nil {
		return p.indeterminate(ev, "token validation failed", err)
	}
	if !res.Valid {
		ev.trail.TokenCheck = ledger.CheckFailed
		return p.reject(ctx, ev, tokenReason(res.Reason))
	}
	ev.trail.TokenCheck = ledger.CheckPassed

	// 3. device binding
	matches, err := p.devices.Validate(ctx, claim.IdentityID, claim.DeviceID)
	if err != nil {
		return p.indeterminate(ev, "device validation failed", err)
	}
	if !matches {
		ev.trail.DeviceCheck = ledger.CheckFailed
		return p.reject(ctx, ev, ledger.ReasonDeviceMismatch)
	}
	ev.trail.DeviceCheck = ledger.CheckPassed

	// 4. geofence
	distance, within, err := w.Geofence.Contains(geo.Point{Latitude: claim.Latitude, Longitude: claim.Longitude})
	if err != nil {
		return p.reject(ctx, ev, ledger.ReasonInvalidCoordinate)
	}
	ev.trail.DistanceMeters = &distance
	ev.trail.WithinRadius = &within
	if !within {
		return p.reject(ctx, ev, ledger.ReasonOutsideGeofence)
	}

	// 5. ledger
	result, err := p.ledger.TryRecord(ctx, ledger.Outcome{
		MeetingID:  claim.MeetingID,
		IdentityID: claim.IdentityID,
		Decision:   ledger.DecisionAccepted,
		Trail:      ev.trail,
	})
	if err != nil {
		return p.indeterminate(ev, "ledger write failed", err)
	}

	recordID := result.Record.ID
	decision := Decision{
		DistanceMeters: ev.trail.DistanceMeters,
		RecordID:       &recordID,
		Trail:          ev.trail,
	}
	if result.Accepted {
		decision.Status = StatusAccepted
		return decision
	}

	decision.Status = StatusRejected
	decision.Reason = ledger.ReasonDuplicateClaim
	if result.Existing != nil {
		existingID := result.Existing.ID
		decision.ExistingRecordID = &existingID
	}
	return decision
}

// reject stores the rejected attempt. A failed write is logged and the rejection stands.
func (p *Pipeline) reject(ctx context.Context, ev *evaluation, reason ledger.Reason) Decision {
	decision := Decision{
		Status:         StatusRejected,
		Reason:         reason,
		DistanceMeters: ev.trail.DistanceMeters,
		Trail:          ev.trail,
	}

	result, err := p.ledger.TryRecord(ctx, ledger.Outcome{
		MeetingID:  ev.claim.MeetingID,
		IdentityID: ev.claim.IdentityID,
		Decision:   ledger.DecisionRejected,
		Reason:     reason,
		Trail:      ev.trail,
	})
	if err != nil {
		ev.logger.Warn("failed to record rejected claim",
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		return decision
	}

	recordID := result.Record.ID
	decision.RecordID = &recordID
	return decision
}

func (p *Pipeline) indeterminate(ev *evaluation, what string, err error) Decision {
	ev.logger.Error(what, zap.Error(err))
	return Decision{
		Status:         StatusIndeterminate,
		Reason:         ledger.ReasonIndeterminate,
		DistanceMeters: ev.trail.DistanceMeters,
		Trail:          ev.trail,
	}
}

func (p *Pipeline) emit(ev *evaluation, d Decision) {
	outcome := audit.OutcomeFailure
	switch d.Status {
	case StatusAccepted:
		outcome = audit.OutcomeSuccess
	case StatusIndeterminate:
		outcome = audit.OutcomeIndeterminate
	}

	entityID := ev.claim.MeetingID.String()
	if d.RecordID != nil {
		entityID = d.RecordID.String()
	}

	trail := d.Trail
	p.audit.Emit(audit.Event{
		Action:     audit.ActionAttendanceMarked,
		ActorID:    ev.claim.IdentityID,
		EntityType: audit.EntityAttendance,
		EntityID:   entityID,
		MeetingID:  ev.claim.MeetingID.String(),
		Outcome:    outcome,
		Reason:     string(d.Reason),
		Trail:      &trail,
		RequestID:  ev.claim.RequestID,
		OccurredAt: ev.now,
	})
}

func tokenReason(r token.Reason) ledger.Reason {
	switch r {
	case token.ReasonExpired:
		return ledger.ReasonTokenExpired
	case token.ReasonRevoked:
		return ledger.ReasonTokenRevoked
	default:
		return ledger.ReasonTokenMismatch
	}
}
