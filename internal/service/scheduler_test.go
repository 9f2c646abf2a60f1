package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/septivank/attendance-admission/internal/audit"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/service"
	"go.uber.org/zap/zaptest"
)

func newScheduler(t *testing.T, e *env) *service.Scheduler {
	t.Helper()
	return service.NewScheduler(e.meetings, e.tokens, e.clock, service.SchedulerConfig{
		AutoRotate:       true,
		RotationInterval: 20 * time.Second,
		SweepInterval:    5 * time.Second,
	}, e.audit, e.metrics, zaptest.NewLogger(t))
}

func TestScheduler_RotateDue(t *testing.T) {
	e := newEnv(t)
	opened := e.open(t)
	s := newScheduler(t, e)
	ctx := context.Background()

	e.clock.Advance(10 * time.Second)
	if n := s.RotateDue(ctx); n != 0 {
		t.Errorf("Expected no rotation for a fresh token, got %d", n)
	}

	e.clock.Advance(10 * time.Second)
	if n := s.RotateDue(ctx); n != 1 {
		t.Fatalf("Expected one rotation at the rotation interval, got %d", n)
	}

	current, _ := e.tokens.Current(ctx, opened.Window.ID)
	if current.Value == opened.Token.Value {
		t.Error("Expected a new current token")
	}
	if got := testutil.ToFloat64(e.metrics.Rotations.WithLabelValues("scheduled")); got != 1 {
		t.Errorf("Expected scheduled rotation counted, got %v", got)
	}
	if e.audit.count(audit.ActionQRGenerated) != 1 {
		t.Error("Expected qr_generated audit event")
	}
}

func TestScheduler_RotateDue_ExpiredToken(t *testing.T) {
	e := newEnv(t)
	e.open(t)
	s := newScheduler(t, e)

	e.clock.Advance(45 * time.Second)
	if n := s.RotateDue(context.Background()); n != 1 {
		t.Errorf("Expected rotation of an expired token in a live window, got %d", n)
	}
}

func TestScheduler_Sweep(t *testing.T) {
	e := newEnv(t)
	opened := e.open(t)
	s := newScheduler(t, e)
	ctx := context.Background()

	if n := s.Sweep(ctx); n != 0 {
		t.Errorf("Expected nothing to sweep, got %d", n)
	}

	e.clock.Advance(61 * time.Second)
	if n := s.Sweep(ctx); n != 1 {
		t.Fatalf("Expected one window swept, got %d", n)
	}

	w, _ := e.meetings.Get(ctx, opened.Window.ID)
	if w.Status != meeting.StatusClosed {
		t.Errorf("Expected swept window closed, got %s", w.Status)
	}
	if got := testutil.ToFloat64(e.metrics.WindowsClosed.WithLabelValues("expired")); got != 1 {
		t.Errorf("Expected expired close counted, got %v", got)
	}
	if n := s.RotateDue(ctx); n != 0 {
		t.Errorf("Expected no rotation for closed windows, got %d", n)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	e := newEnv(t)
	s := newScheduler(t, e)

	s.Start()
	s.Stop()
}
