package service

import (
	"context"
	"sync"
	"time"

	"github.com/septivank/attendance-admission/internal/audit"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/metrics"
	"github.com/septivank/attendance-admission/tools/clock"
	"go.uber.org/zap"
)

// SchedulerConfig holds background job settings
type SchedulerConfig struct {
	AutoRotate       bool
	RotationInterval time.Duration
	SweepInterval    time.Duration
}

// Scheduler rotates tokens of live windows and closes windows that outlived their duration
type Scheduler struct {
	meetings *meeting.Controller
	tokens   CurrentTokens
	clock    clock.Clock
	cfg      SchedulerConfig
	audit    AuditEmitter
	metrics  *metrics.Metrics
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a background scheduler; call Start to run it
func NewScheduler(
	meetings *meeting.Controller,
	tokens CurrentTokens,
	clk clock.Clock,
	cfg SchedulerConfig,
	emitter AuditEmitter,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		meetings: meetings,
		tokens:   tokens,
		clock:    clk,
		cfg:      cfg,
		audit:    emitter,
		metrics:  m,
		logger:   logger,
	}
}

// RotateDue rotates the token of every live window whose token is unusable or
// has less than (lifetime - rotation interval) left. It returns how many rotated.
func (s *Scheduler) RotateDue(ctx context.Context) int {
	now := s.clock.Now()
	windows, err := s.meetings.ListLive(ctx, now)
	if err != nil {
		s.logger.Error("failed to list live windows", zap.Error(err))
		return 0
	}

	margin := s.meetings.TokenLifetime() - s.cfg.RotationInterval
	if margin < 0 {
		margin = 0
	}

	rotated := 0
	for _, w := range windows {
		tok, err := s.tokens.Current(ctx, w.ID)
		if err == nil && tok.UsableAt(now) && !clock.IsWithin(tok.ExpiresAt, now, margin) {
			continue
		}

		next, err := s.meetings.RotateToken(ctx, w.ID)
		if err != nil {
			s.logger.Warn("scheduled rotation failed",
				zap.String("meeting_id", w.ID.String()),
				zap.Error(err),
			)
			continue
		}
		rotated++
		s.metrics.IncRotation("scheduled")
		s.audit.Emit(audit.Event{
			Action:     audit.ActionQRGenerated,
			ActorID:    "system",
			EntityType: audit.EntitySession,
			EntityID:   w.ID.String(),
			MeetingID:  w.ID.String(),
			Outcome:    audit.OutcomeSuccess,
			Details:    map[string]string{"token_expires_at": next.ExpiresAt.Format(time.RFC3339Nano), "trigger": "scheduled"},
		})
	}
	return rotated
}

// Sweep closes every open window past its duration and returns how many it closed
func (s *Scheduler) Sweep(ctx context.Context) int {
	closed, err := s.meetings.SweepExpired(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return 0
	}

	for _, w := range closed {
		s.metrics.IncWindowClosed("expired")
		s.audit.Emit(audit.Event{
			Action:     audit.ActionSessionClosed,
			ActorID:    "system",
			EntityType: audit.EntitySession,
			EntityID:   w.ID.String(),
			MeetingID:  w.ID.String(),
			Outcome:    audit.OutcomeSuccess,
			Details:    map[string]string{"trigger": "expired"},
		})
	}
	if len(closed) > 0 {
		s.logger.Info("closed expired windows", zap.Int("count", len(closed)))
	}
	return len(closed)
}

// Start launches the sweep loop and, when enabled, the rotation loop
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.cfg.SweepInterval > 0 {
		s.loop(ctx, s.cfg.SweepInterval, func(ctx context.Context) { s.Sweep(ctx) })
	}
	if s.cfg.AutoRotate && s.cfg.RotationInterval > 0 {
		s.loop(ctx, s.cfg.RotationInterval, func(ctx context.Context) { s.RotateDue(ctx) })
	}

	s.logger.Info("scheduler started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Bool("auto_rotate", s.cfg.AutoRotate),
		zap.Duration("rotation_interval", s.cfg.RotationInterval),
	)
}

// Stop cancels the loops and waits for the running pass to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
