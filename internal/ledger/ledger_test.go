package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/ledger"
	"github.com/septivank/attendance-admission/internal/repository/memory"
	"github.com/septivank/attendance-admission/tools/clock"
	"go.uber.org/zap/zaptest"
)

type downStore struct{}

func (downStore) InsertAcceptedIfAbsent(context.Context, ledger.Record) (bool, ledger.Record, error) {
	return false, ledger.Record{}, errors.New("connection refused")
}

func (downStore) InsertRejected(context.Context, ledger.Record) error {
	return errors.New("connection refused")
}

func (downStore) FindAccepted(context.Context, uuid.UUID, string) (ledger.Record, error) {
	return ledger.Record{}, errors.New("connection refused")
}

func newLedger(t *testing.T) (*ledger.Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	clk := clock.NewManual(time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC))
	return ledger.NewLedger(store, clk, zaptest.NewLogger(t)), store
}

func accepted(meetingID uuid.UUID, identityID string) ledger.Outcome {
	return ledger.Outcome{
		MeetingID:  meetingID,
		IdentityID: identityID,
		Decision:   ledger.DecisionAccepted,
		Trail:      ledger.Trail{TokenCheck: ledger.CheckPassed, DeviceCheck: ledger.CheckPassed},
	}
}

func TestTryRecord_FirstAcceptedWins(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	meetingID := uuid.New()

	first, err := l.TryRecord(ctx, accepted(meetingID, "stu-1"))
	if err != nil {
		t.Fatalf("TryRecord returned error: %v", err)
	}
	if !first.Accepted {
		t.Fatal("Expected first claim accepted")
	}

	second, err := l.TryRecord(ctx, accepted(meetingID, "stu-1"))
	if err != nil {
		t.Fatalf("TryRecord returned error: %v", err)
	}
	if second.Accepted {
		t.Fatal("Expected second claim not accepted")
	}
	if second.Record.Reason != ledger.ReasonDuplicateClaim {
		t.Errorf("Expected duplicate_claim, got %s", second.Record.Reason)
	}
	if second.Existing == nil || second.Existing.ID != first.Record.ID {
		t.Errorf("Expected reference to first record %s, got %+v", first.Record.ID, second.Existing)
	}
}

func TestTryRecord_ConcurrentClaimsAcceptOnce(t *testing.T) {
	l, store := newLedger(t)
	meetingID := uuid.New()

	const n = 64
	var wg sync.WaitGroup
	results := make([]ledger.Result, n)
	errs := make([]error, n)

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = l.TryRecord(context.Background(), accepted(meetingID, "stu-1"))
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	var winner uuid.UUID
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("TryRecord %d returned error: %v", i, errs[i])
		}
		if results[i].Accepted {
			winners++
			winner = results[i].Record.ID
		}
	}
	if winners != 1 {
		t.Fatalf("Expected exactly one accepted claim, got %d", winners)
	}

	for i := 0; i < n; i++ {
		if results[i].Accepted {
			continue
		}
		if results[i].Existing == nil || results[i].Existing.ID != winner {
			t.Errorf("Loser %d does not reference the winner", i)
		}
	}

	if got := len(store.Records(meetingID)); got != n {
		t.Errorf("Expected %d stored attempts, got %d", n, got)
	}
}

func TestTryRecord_DistinctIdentitiesIndependent(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	meetingID := uuid.New()

	for i := 0; i < 5; i++ {
		res, err := l.TryRecord(ctx, accepted(meetingID, fmt.Sprintf("stu-%d", i)))
		if err != nil {
			t.Fatalf("TryRecord returned error: %v", err)
		}
		if !res.Accepted {
			t.Errorf("Expected stu-%d accepted", i)
		}
	}
}

func TestTryRecord_RejectedKeepsEveryAttempt(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()
	meetingID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := l.TryRecord(ctx, ledger.Outcome{
			MeetingID:  meetingID,
			IdentityID: "stu-1",
			Decision:   ledger.DecisionRejected,
			Reason:     ledger.ReasonOutsideGeofence,
		})
		if err != nil {
			t.Fatalf("TryRecord returned error: %v", err)
		}
	}

	if got := len(store.Records(meetingID)); got != 3 {
		t.Errorf("Expected 3 rejected records, got %d", got)
	}

	// rejections never block a later accepted claim
	res, _ := l.TryRecord(ctx, accepted(meetingID, "stu-1"))
	if !res.Accepted {
		t.Error("Expected accepted claim after rejections")
	}
}

func TestTryRecord_RejectedRequiresReason(t *testing.T) {
	l, _ := newLedger(t)

	_, err := l.TryRecord(context.Background(), ledger.Outcome{
		MeetingID:  uuid.New(),
		IdentityID: "stu-1",
		Decision:   ledger.DecisionRejected,
	})
	if err == nil {
		t.Error("Expected error for rejected outcome without reason")
	}
}

func TestTryRecord_StoreFailureIsUnavailable(t *testing.T) {
	l := ledger.NewLedger(downStore{}, clock.System{}, zaptest.NewLogger(t))

	_, err := l.TryRecord(context.Background(), accepted(uuid.New(), "stu-1"))
	if !errors.Is(err, ledger.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	meetingID := uuid.New()

	if _, err := l.Lookup(ctx, meetingID, "stu-1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	res, _ := l.TryRecord(ctx, accepted(meetingID, "stu-1"))
	rec, err := l.Lookup(ctx, meetingID, "stu-1")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if rec.ID != res.Record.ID || rec.Decision != ledger.DecisionAccepted {
		t.Errorf("Expected accepted record %s, got %+v", res.Record.ID, rec)
	}

	broken := ledger.NewLedger(downStore{}, clock.System{}, zaptest.NewLogger(t))
	if _, err := broken.Lookup(ctx, meetingID, "stu-1"); !errors.Is(err, ledger.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}
