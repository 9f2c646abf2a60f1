package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/geo"
	"github.com/septivank/attendance-admission/internal/token"
	"github.com/septivank/attendance-admission/tools/clock"
	"go.uber.org/zap"
)

// Tokens is the slice of the token manager the controller drives on transitions
type Tokens interface {
	Issue(ctx context.Context, meetingID uuid.UUID, lifetime time.Duration) (token.Token, error)
	Rotate(ctx context.Context, meetingID uuid.UUID, lifetime time.Duration) (token.Token, error)
	InvalidateAll(ctx context.Context, meetingID uuid.UUID) error
	Forget(meetingID uuid.UUID)
}

// Controller runs the scheduled -> open -> closed state machine
type Controller struct {
	repo          Repository
	tokens        Tokens
	clock         clock.Clock
	tokenLifetime time.Duration
	logger        *zap.Logger
}

// NewController creates a meeting window controller
func NewController(repo Repository, tokens Tokens, clk clock.Clock, tokenLifetime time.Duration, logger *zap.Logger) *Controller {
	return &Controller{
		repo:          repo,
		tokens:        tokens,
		clock:         clk,
		tokenLifetime: tokenLifetime,
		logger:        logger,
	}
}

// TokenLifetime is the lifetime given to every token this controller issues
func (c *Controller) TokenLifetime() time.Duration {
	return c.tokenLifetime
}

// Schedule creates a window in the scheduled state
func (c *Controller) Schedule(ctx context.Context, courseID, teacherID string) (Window, error) {
	courseID = strings.TrimSpace(courseID)
	teacherID = strings.TrimSpace(teacherID)
	if courseID == "" || teacherID == "" {
		return Window{}, fmt.Errorf("course id and teacher id are required")
	}

	w := Window{
		ID:        uuid.New(),
		CourseID:  courseID,
		TeacherID: teacherID,
		Status:    StatusScheduled,
		CreatedAt: c.clock.Now(),
	}
	if err := c.repo.CreateWindow(ctx, w); err != nil {
		return Window{}, fmt.Errorf("failed to create meeting window: %w", err)
	}

	return w, nil
}

// Open moves a scheduled window to open and issues its first token
func (c *Controller) Open(ctx context.Context, meetingID uuid.UUID, fence geo.Geofence, duration time.Duration) (Window, token.Token, error) {
	if err := fence.Validate(); err != nil {
		return Window{}, token.Token{}, err
	}
	if duration <= 0 {
		return Window{}, token.Token{}, ErrInvalidDuration
	}

	now := c.clock.Now()
	ok, err := c.repo.MarkWindowOpen(ctx, meetingID, fence, duration, now)
	if err != nil {
		return Window{}, token.Token{}, fmt.Errorf("failed to open meeting window: %w", err)
	}
	if !ok {
		return Window{}, token.Token{}, c.transitionError(ctx, meetingID, StatusOpen)
	}

	tok, err := c.tokens.Issue(ctx, meetingID, c.tokenLifetime)
	if errors.Is(err, token.ErrWindowNotOpen) {
		// closed between the transition and the issue
		return Window{}, token.Token{}, ErrWindowNotOpen
	}
	if err != nil {
		// the window stays open without a usable token; a rotate recovers it
		c.logger.Error("meeting opened but token issue failed",
			zap.String("meeting_id", meetingID.String()),
			zap.Error(err),
		)
		return Window{}, token.Token{}, fmt.Errorf("failed to issue token: %w", err)
	}

	w, err := c.repo.GetWindow(ctx, meetingID)
	if err != nil {
		return Window{}, token.Token{}, fmt.Errorf("failed to reload meeting window: %w", err)
	}

	c.logger.Info("meeting window opened",
		zap.String("meeting_id", meetingID.String()),
		zap.String("course_id", w.CourseID),
		zap.Duration("duration", duration),
		zap.Float64("radius_meters", fence.RadiusMeters),
	)

	return w, tok, nil
}

// RotateToken replaces the current token of a live window
func (c *Controller) RotateToken(ctx context.Context, meetingID uuid.UUID) (token.Token, error) {
	open, err := c.IsOpen(ctx, meetingID, c.clock.Now())
	if err != nil {
		return token.Token{}, err
	}
	if !open {
		return token.Token{}, ErrWindowNotOpen
	}

	tok, err := c.tokens.Rotate(ctx, meetingID, c.tokenLifetime)
	if errors.Is(err, token.ErrWindowNotOpen) {
		// a close landed between the check and the write
		return token.Token{}, ErrWindowNotOpen
	}
	return tok, err
}

// Close moves an open window to closed and revokes its token. Closed is terminal.
func (c *Controller) Close(ctx context.Context, meetingID uuid.UUID) (Window, error) {
	ok, err := c.repo.MarkWindowClosed(ctx, meetingID, c.clock.Now())
	if err != nil {
		return Window{}, fmt.Errorf("failed to close meeting window: %w", err)
	}
	if !ok {
		return Window{}, c.transitionError(ctx, meetingID, StatusClosed)
	}

	if err := c.tokens.InvalidateAll(ctx, meetingID); err != nil {
		// the window row is already closed, which alone stops admissions
		c.logger.Error("failed to invalidate token of closed window",
			zap.String("meeting_id", meetingID.String()),
			zap.Error(err),
		)
	} else {
		c.tokens.Forget(meetingID)
	}

	w, err := c.repo.GetWindow(ctx, meetingID)
	if err != nil {
		return Window{}, fmt.Errorf("failed to reload meeting window: %w", err)
	}

	c.logger.Info("meeting window closed", zap.String("meeting_id", meetingID.String()))
	return w, nil
}

// Get returns the window with the given id
func (c *Controller) Get(ctx context.Context, meetingID uuid.UUID) (Window, error) {
	return c.repo.GetWindow(ctx, meetingID)
}

// Snapshot returns the window and whether it is live at now, from a single read
func (c *Controller) Snapshot(ctx context.Context, meetingID uuid.UUID, now time.Time) (Window, bool, error) {
	w, err := c.repo.GetWindow(ctx, meetingID)
	if err != nil {
		return Window{}, false, err
	}
	return w, w.LiveAt(now), nil
}

// IsOpen reports whether the window is open and inside its duration at now
func (c *Controller) IsOpen(ctx context.Context, meetingID uuid.UUID, now time.Time) (bool, error) {
	_, open, err := c.Snapshot(ctx, meetingID, now)
	return open, err
}

// ListLive returns the open windows that are still inside their duration at now
func (c *Controller) ListLive(ctx context.Context, now time.Time) ([]Window, error) {
	windows, err := c.repo.ListOpenWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open windows: %w", err)
	}

	live := windows[:0]
	for _, w := range windows {
		if w.LiveAt(now) {
			live = append(live, w)
		}
	}
	return live, nil
}

// SweepExpired closes every open window that outlived its duration and returns the ones it closed
func (c *Controller) SweepExpired(ctx context.Context, now time.Time) ([]Window, error) {
	windows, err := c.repo.ListOpenWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open windows: %w", err)
	}

	var closed []Window
	for _, w := range windows {
		if w.LiveAt(now) {
			continue
		}
		cw, err := c.Close(ctx, w.ID)
		if err != nil {
			// a concurrent teacher close wins the race; anything else is worth a log line
			c.logger.Warn("failed to close expired window",
				zap.String("meeting_id", w.ID.String()),
				zap.Error(err),
			)
			continue
		}
		closed = append(closed, cw)
	}

	return closed, nil
}

func (c *Controller) transitionError(ctx context.Context, meetingID uuid.UUID, to Status) error {
	w, err := c.repo.GetWindow(ctx, meetingID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, to)
}
