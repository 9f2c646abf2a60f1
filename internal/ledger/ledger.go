package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/tools/clock"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no accepted record exists for a meeting and identity
	ErrNotFound = errors.New("ledger: record not found")
	// ErrUnavailable wraps storage failures; the claim outcome is unknown and safe to retry
	ErrUnavailable = errors.New("ledger: storage unavailable")
)

// Store is the persistence contract of the ledger
type Store interface {
	// InsertAcceptedIfAbsent atomically inserts rec unless an accepted record already
	// exists for (rec.MeetingID, rec.IdentityID). When it does, inserted is false and
	// existing is that first record. It must not be a read-then-write sequence.
	InsertAcceptedIfAbsent(ctx context.Context, rec Record) (inserted bool, existing Record, err error)
	// InsertRejected appends a rejected record; rejected records are never unique
	InsertRejected(ctx context.Context, rec Record) error
	// FindAccepted returns ErrNotFound when the pair has no accepted record
	FindAccepted(ctx context.Context, meetingID uuid.UUID, identityID string) (Record, error)
}

// Result is the outcome of TryRecord
type Result struct {
	Accepted bool
	Record   Record
	// Existing is the first accepted record when this call lost the uniqueness race
	Existing *Record
}

// Ledger owns admission records and the one-accepted-claim-per-meeting guarantee
type Ledger struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewLedger creates an admission ledger
func NewLedger(store Store, clk clock.Clock, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, clock: clk, logger: logger}
}

// TryRecord stores an outcome. For an accepted outcome exactly one caller per
// (meeting, identity) sees Accepted; every other caller gets a duplicate_claim
// rejection that references the first record. Rejected outcomes are always stored.
func (l *Ledger) TryRecord(ctx context.Context, o Outcome) (Result, error) {
	rec := Record{
		ID:         uuid.New(),
		MeetingID:  o.MeetingID,
		IdentityID: o.IdentityID,
		RecordedAt: l.clock.Now(),
		Decision:   o.Decision,
		Reason:     o.Reason,
		Trail:      o.Trail,
	}

	if o.Decision != DecisionAccepted {
		if rec.Reason == ReasonNone {
			return Result{}, fmt.Errorf("rejected outcome requires a reason")
		}
		if err := l.store.InsertRejected(ctx, rec); err != nil {
			return Result{}, fmt.Errorf("%w: insert rejected record: %v", ErrUnavailable, err)
		}
		return Result{Record: rec}, nil
	}

	rec.Reason = ReasonNone
	inserted, existing, err := l.store.InsertAcceptedIfAbsent(ctx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("%w: insert accepted record: %v", ErrUnavailable, err)
	}
	if inserted {
		return Result{Accepted: true, Record: rec}, nil
	}

	dup := rec
	dup.Decision = DecisionRejected
	dup.Reason = ReasonDuplicateClaim
	if err := l.store.InsertRejected(ctx, dup); err != nil {
		// the duplicate verdict already stands; the attempt row is only forensic
		l.logger.Warn("failed to record duplicate claim attempt",
			zap.String("meeting_id", rec.MeetingID.String()),
			zap.String("identity_id", rec.IdentityID),
			zap.Error(err),
		)
	}

	return Result{Record: dup, Existing: &existing}, nil
}

// Lookup returns the accepted record for a meeting and identity
func (l *Ledger) Lookup(ctx context.Context, meetingID uuid.UUID, identityID string) (Record, error) {
	rec, err := l.store.FindAccepted(ctx, meetingID, identityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: find accepted record: %v", ErrUnavailable, err)
	}
	return rec, nil
}
