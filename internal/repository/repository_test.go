package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/septivank/attendance-admission/internal/audit"
	"github.com/septivank/attendance-admission/internal/device"
	"github.com/septivank/attendance-admission/internal/geo"
	"github.com/septivank/attendance-admission/internal/ledger"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/repository"
	"github.com/septivank/attendance-admission/internal/token"
)

var testNow = time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *repository.Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, repository.NewRepository(mock)
}

func verify(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

var windowCols = []string{
	"id", "course_id", "teacher_id", "status",
	"center_latitude", "center_longitude", "radius_meters", "duration_seconds",
	"created_at", "opened_at", "closed_at",
}

func TestCreateWindow(t *testing.T) {
	mock, repo := newMock(t)
	w := meeting.Window{
		ID:        uuid.New(),
		CourseID:  "CS101",
		TeacherID: "teacher-1",
		Status:    meeting.StatusScheduled,
		CreatedAt: testNow,
	}

	mock.ExpectExec("INSERT INTO meeting_windows").
		WithArgs(w.ID, "CS101", "teacher-1", "scheduled", 0.0, 0.0, 0.0, 0, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.CreateWindow(context.Background(), w); err != nil {
		t.Fatalf("CreateWindow returned error: %v", err)
	}
	verify(t, mock)
}

func TestGetWindow(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	opened := testNow

	mock.ExpectQuery("FROM meeting_windows WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(windowCols).
			AddRow(id, "CS101", "teacher-1", "open", 26.70, 92.79, 50.0, 60, testNow, &opened, (*time.Time)(nil)))

	w, err := repo.GetWindow(context.Background(), id)
	if err != nil {
		t.Fatalf("GetWindow returned error: %v", err)
	}
	if w.Status != meeting.StatusOpen || w.Duration != time.Minute || w.Geofence.RadiusMeters != 50 {
		t.Errorf("Unexpected window %+v", w)
	}
	if w.OpenedAt == nil || !w.OpenedAt.Equal(testNow) || w.ClosedAt != nil {
		t.Errorf("Unexpected timestamps opened=%v closed=%v", w.OpenedAt, w.ClosedAt)
	}
	verify(t, mock)
}

func TestGetWindow_NotFound(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()

	mock.ExpectQuery("FROM meeting_windows WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(windowCols))

	if _, err := repo.GetWindow(context.Background(), id); !errors.Is(err, meeting.ErrMeetingNotFound) {
		t.Errorf("Expected ErrMeetingNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestMarkWindowOpen(t *testing.T) {
	fence := geo.Geofence{Center: geo.Point{Latitude: 26.70, Longitude: 92.79}, RadiusMeters: 50}

	t.Run("opens scheduled window", func(t *testing.T) {
		mock, repo := newMock(t)
		id := uuid.New()
		mock.ExpectExec("UPDATE meeting_windows").
			WithArgs(id, 26.70, 92.79, 50.0, 60, testNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := repo.MarkWindowOpen(context.Background(), id, fence, time.Minute, testNow)
		if err != nil || !ok {
			t.Errorf("Expected transition, got %v (%v)", ok, err)
		}
		verify(t, mock)
	})

	t.Run("window already open", func(t *testing.T) {
		mock, repo := newMock(t)
		id := uuid.New()
		mock.ExpectExec("UPDATE meeting_windows").
			WithArgs(id, 26.70, 92.79, 50.0, 60, testNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := repo.MarkWindowOpen(context.Background(), id, fence, time.Minute, testNow)
		if err != nil || ok {
			t.Errorf("Expected no transition without error, got %v (%v)", ok, err)
		}
		verify(t, mock)
	})

	t.Run("unknown window", func(t *testing.T) {
		mock, repo := newMock(t)
		id := uuid.New()
		mock.ExpectExec("UPDATE meeting_windows").
			WithArgs(id, 26.70, 92.79, 50.0, 60, testNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		if _, err := repo.MarkWindowOpen(context.Background(), id, fence, time.Minute, testNow); !errors.Is(err, meeting.ErrMeetingNotFound) {
			t.Errorf("Expected ErrMeetingNotFound, got %v", err)
		}
		verify(t, mock)
	})
}

func TestMarkWindowClosed(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE meeting_windows").
		WithArgs(id, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := repo.MarkWindowClosed(context.Background(), id, testNow)
	if err != nil || !ok {
		t.Errorf("Expected transition, got %v (%v)", ok, err)
	}
	verify(t, mock)
}

func TestSaveCurrentToken_ArchivesAndReplaces(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	tok := token.Token{Value: "abc", IssuedAt: testNow, ExpiresAt: testNow.Add(30 * time.Second), Valid: true}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO proof_token_history").
		WithArgs(id, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE meeting_windows").
		WithArgs(id, "abc", tok.IssuedAt, tok.ExpiresAt, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if err := repo.SaveCurrentToken(context.Background(), id, tok); err != nil {
		t.Fatalf("SaveCurrentToken returned error: %v", err)
	}
	verify(t, mock)
}

func TestSaveCurrentToken_UnknownMeetingRollsBack(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	tok := token.Token{Value: "abc", IssuedAt: testNow, ExpiresAt: testNow.Add(30 * time.Second), Valid: true}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO proof_token_history").
		WithArgs(id, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("UPDATE meeting_windows").
		WithArgs(id, "abc", tok.IssuedAt, tok.ExpiresAt, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	if err := repo.SaveCurrentToken(context.Background(), id, tok); !errors.Is(err, meeting.ErrMeetingNotFound) {
		t.Errorf("Expected ErrMeetingNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestSaveCurrentToken_ClosedWindowRollsBack(t *testing.T) {
	mock, repo := newMock(t)
	id := uuid.New()
	tok := token.Token{Value: "abc", IssuedAt: testNow, ExpiresAt: testNow.Add(30 * time.Second), Valid: true}

	mock.ExpectBegin()
	mock.ExpectExec("(?s)INSERT INTO proof_token_history.*status = 'open'").
		WithArgs(id, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec("(?s)UPDATE meeting_windows.*status = 'open'").
		WithArgs(id, "abc", tok.IssuedAt, tok.ExpiresAt, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	if err := repo.SaveCurrentToken(context.Background(), id, tok); !errors.Is(err, token.ErrWindowNotOpen) {
		t.Errorf("Expected ErrWindowNotOpen, got %v", err)
	}
	verify(t, mock)
}

func TestLoadCurrentToken(t *testing.T) {
	cols := []string{"token_value", "token_issued_at", "token_expires_at", "token_valid"}

	t.Run("issued", func(t *testing.T) {
		mock, repo := newMock(t)
		id := uuid.New()
		value, issued, expires := "abc", testNow, testNow.Add(30*time.Second)
		mock.ExpectQuery("SELECT token_value").
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(cols).AddRow(&value, &issued, &expires, true))

		tok, err := repo.LoadCurrentToken(context.Background(), id)
		if err != nil {
			t.Fatalf("LoadCurrentToken returned error: %v", err)
		}
		if tok.Value != "abc" || !tok.Valid || !tok.ExpiresAt.Equal(expires) {
			t.Errorf("Unexpected token %+v", tok)
		}
		verify(t, mock)
	})

	t.Run("never issued", func(t *testing.T) {
		mock, repo := newMock(t)
		id := uuid.New()
		mock.ExpectQuery("SELECT token_value").
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(cols).AddRow((*string)(nil), (*time.Time)(nil), (*time.Time)(nil), false))

		if _, err := repo.LoadCurrentToken(context.Background(), id); !errors.Is(err, token.ErrNoToken) {
			t.Errorf("Expected ErrNoToken, got %v", err)
		}
		verify(t, mock)
	})
}

func TestCreateBinding_UniqueViolation(t *testing.T) {
	mock, repo := newMock(t)
	b := device.Binding{IdentityID: "stu-1", DeviceID: "dev-1", RegisteredAt: testNow}

	mock.ExpectExec("INSERT INTO device_bindings").
		WithArgs("stu-1", "dev-1", testNow).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "device_bindings_device_id_key"})

	if err := repo.CreateBinding(context.Background(), b); !errors.Is(err, device.ErrAlreadyBound) {
		t.Errorf("Expected ErrAlreadyBound, got %v", err)
	}
	verify(t, mock)
}

func TestGetBinding_NotBound(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectQuery("FROM device_bindings").
		WithArgs("stu-1").
		WillReturnRows(pgxmock.NewRows([]string{"identity_id", "device_id", "registered_at"}))

	if _, err := repo.GetBinding(context.Background(), "stu-1"); !errors.Is(err, device.ErrNotBound) {
		t.Errorf("Expected ErrNotBound, got %v", err)
	}
	verify(t, mock)
}

func TestInsertAcceptedIfAbsent(t *testing.T) {
	rec := ledger.Record{
		ID:         uuid.New(),
		MeetingID:  uuid.New(),
		IdentityID: "stu-1",
		RecordedAt: testNow,
		Decision:   ledger.DecisionAccepted,
	}

	t.Run("wins the slot", func(t *testing.T) {
		mock, repo := newMock(t)
		mock.ExpectQuery("INSERT INTO admission_records").
			WithArgs(rec.ID, rec.MeetingID, "stu-1", testNow, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(rec.ID))

		inserted, _, err := repo.InsertAcceptedIfAbsent(context.Background(), rec)
		if err != nil || !inserted {
			t.Errorf("Expected insert, got %v (%v)", inserted, err)
		}
		verify(t, mock)
	})

	t.Run("loses to an existing record", func(t *testing.T) {
		mock, repo := newMock(t)
		firstID := uuid.New()
		mock.ExpectQuery("INSERT INTO admission_records").
			WithArgs(rec.ID, rec.MeetingID, "stu-1", testNow, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))
		mock.ExpectQuery("FROM admission_records").
			WithArgs(rec.MeetingID, "stu-1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "meeting_id", "identity_id", "recorded_at", "trail"}).
				AddRow(firstID, rec.MeetingID, "stu-1", testNow.Add(-time.Second), []byte(`{"token_check":"passed","device_check":"passed"}`)))

		inserted, existing, err := repo.InsertAcceptedIfAbsent(context.Background(), rec)
		if err != nil {
			t.Fatalf("InsertAcceptedIfAbsent returned error: %v", err)
		}
		if inserted {
			t.Error("Expected no insert")
		}
		if existing.ID != firstID || existing.Decision != ledger.DecisionAccepted {
			t.Errorf("Expected existing record %s, got %+v", firstID, existing)
		}
		if existing.Trail.TokenCheck != ledger.CheckPassed {
			t.Errorf("Expected trail decoded, got %+v", existing.Trail)
		}
		verify(t, mock)
	})
}

func TestInsertRejected(t *testing.T) {
	mock, repo := newMock(t)
	rec := ledger.Record{
		ID:         uuid.New(),
		MeetingID:  uuid.New(),
		IdentityID: "stu-1",
		RecordedAt: testNow,
		Decision:   ledger.DecisionRejected,
		Reason:     ledger.ReasonOutsideGeofence,
	}

	mock.ExpectExec("INSERT INTO admission_records").
		WithArgs(rec.ID, rec.MeetingID, "stu-1", testNow, "outside_geofence", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.InsertRejected(context.Background(), rec); err != nil {
		t.Fatalf("InsertRejected returned error: %v", err)
	}
	verify(t, mock)
}

func TestIsEnrolled(t *testing.T) {
	mock, repo := newMock(t)

	mock.ExpectQuery("FROM enrollments").
		WithArgs("CS101", "stu-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.IsEnrolled(context.Background(), "CS101", "stu-1")
	if err != nil || !ok {
		t.Errorf("Expected enrolled, got %v (%v)", ok, err)
	}
	verify(t, mock)
}

func TestInsertAuditEvent(t *testing.T) {
	mock, repo := newMock(t)
	ev := audit.Event{
		ID:         uuid.New(),
		Action:     audit.ActionSessionCreated,
		ActorID:    "teacher-1",
		EntityType: audit.EntitySession,
		EntityID:   "m-1",
		Outcome:    audit.OutcomeSuccess,
		OccurredAt: testNow,
	}

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(ev.ID, "session_created", "teacher-1", "session", "m-1", "", "success", "", "", pgxmock.AnyArg(), testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.InsertAuditEvent(context.Background(), ev); err != nil {
		t.Fatalf("InsertAuditEvent returned error: %v", err)
	}
	verify(t, mock)
}
