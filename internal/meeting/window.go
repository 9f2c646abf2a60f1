package meeting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/geo"
)

var (
	// ErrMeetingNotFound is returned for unknown meeting ids
	ErrMeetingNotFound = errors.New("meeting: not found")
	// ErrInvalidTransition is returned when a window is asked to move to a state it cannot reach
	ErrInvalidTransition = errors.New("meeting: invalid state transition")
	// ErrWindowNotOpen is returned by operations that require a live window
	ErrWindowNotOpen = errors.New("meeting: window not open")
	// ErrInvalidDuration is returned for non-positive window durations
	ErrInvalidDuration = errors.New("meeting: duration must be positive")
)

// Status is a meeting window lifecycle state
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
)

// Window is one instructor-opened attendance opportunity
type Window struct {
	ID        uuid.UUID     `json:"meeting_id"`
	CourseID  string        `json:"course_id"`
	TeacherID string        `json:"teacher_id"`
	Geofence  geo.Geofence  `json:"geofence"`
	Duration  time.Duration `json:"duration"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	OpenedAt  *time.Time    `json:"opened_at,omitempty"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
}

// Deadline is the instant after which an open window stops admitting claims
func (w Window) Deadline() time.Time {
	if w.OpenedAt == nil {
		return time.Time{}
	}
	return w.OpenedAt.Add(w.Duration)
}

// LiveAt reports whether the window is open and within its duration at now.
// A window past its deadline is not live even if nobody closed it yet.
func (w Window) LiveAt(now time.Time) bool {
	if w.Status != StatusOpen || w.OpenedAt == nil {
		return false
	}
	return !now.After(w.Deadline())
}

// Repository persists windows. The Mark* methods are conditional updates: they
// return false without error when the window is not in the expected source state.
type Repository interface {
	CreateWindow(ctx context.Context, w Window) error
	GetWindow(ctx context.Context, id uuid.UUID) (Window, error)
	MarkWindowOpen(ctx context.Context, id uuid.UUID, fence geo.Geofence, duration time.Duration, openedAt time.Time) (bool, error)
	MarkWindowClosed(ctx context.Context, id uuid.UUID, closedAt time.Time) (bool, error)
	ListOpenWindows(ctx context.Context) ([]Window, error)
}
