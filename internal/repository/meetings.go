package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/attendance-admission/internal/geo"
	"github.com/septivank/attendance-admission/internal/meeting"
)

const windowColumns = `
	id, course_id, teacher_id, status,
	center_latitude, center_longitude, radius_meters, duration_seconds,
	created_at, opened_at, closed_at
`

// CreateWindow inserts a scheduled meeting window
func (r *Repository) CreateWindow(ctx context.Context, w meeting.Window) error {
	query := `
		INSERT INTO meeting_windows (
			id, course_id, teacher_id, status,
			center_latitude, center_longitude, radius_meters, duration_seconds,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		w.ID,
		w.CourseID,
		w.TeacherID,
		string(w.Status),
		w.Geofence.Center.Latitude,
		w.Geofence.Center.Longitude,
		w.Geofence.RadiusMeters,
		int(w.Duration/time.Second),
		w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meeting window: %w", err)
	}
	return nil
}

// GetWindow returns meeting.ErrMeetingNotFound for unknown ids
func (r *Repository) GetWindow(ctx context.Context, id uuid.UUID) (meeting.Window, error) {
	query := `SELECT ` + windowColumns + ` FROM meeting_windows WHERE id = $1`

	w, err := scanWindow(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return meeting.Window{}, meeting.ErrMeetingNotFound
	}
	if err != nil {
		return meeting.Window{}, fmt.Errorf("failed to query meeting window: %w", err)
	}
	return w, nil
}

// MarkWindowOpen moves a scheduled window to open in a single conditional update
func (r *Repository) MarkWindowOpen(ctx context.Context, id uuid.UUID, fence geo.Geofence, duration time.Duration, openedAt time.Time) (bool, error) {
	query := `
		UPDATE meeting_windows
		SET status = 'open',
			center_latitude = $2,
			center_longitude = $3,
			radius_meters = $4,
			duration_seconds = $5,
			opened_at = $6
		WHERE id = $1 AND status = 'scheduled'
	`

	tag, err := r.db.Exec(ctx, query,
		id,
		fence.Center.Latitude,
		fence.Center.Longitude,
		fence.RadiusMeters,
		int(duration/time.Second),
		openedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to open meeting window: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.windowExists(ctx, id)
}

// MarkWindowClosed moves an open window to closed in a single conditional update
func (r *Repository) MarkWindowClosed(ctx context.Context, id uuid.UUID, closedAt time.Time) (bool, error) {
	query := `
		UPDATE meeting_windows
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'open'
	`

	tag, err := r.db.Exec(ctx, query, id, closedAt)
	if err != nil {
		return false, fmt.Errorf("failed to close meeting window: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.windowExists(ctx, id)
}

// ListOpenWindows returns every window in the open state
func (r *Repository) ListOpenWindows(ctx context.Context) ([]meeting.Window, error) {
	query := `SELECT ` + windowColumns + ` FROM meeting_windows WHERE status = 'open' ORDER BY opened_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open windows: %w", err)
	}
	defer rows.Close()

	var windows []meeting.Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan window: %w", err)
		}
		windows = append(windows, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return windows, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// windowExists returns nil for a known window and meeting.ErrMeetingNotFound otherwise
func (r *Repository) windowExists(ctx context.Context, id uuid.UUID) error {
	return windowExistsIn(ctx, r.db, id)
}

func windowExistsIn(ctx context.Context, q rowQuerier, id uuid.UUID) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM meeting_windows WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check meeting window: %w", err)
	}
	if !exists {
		return meeting.ErrMeetingNotFound
	}
	return nil
}

func scanWindow(row pgx.Row) (meeting.Window, error) {
	var (
		w               meeting.Window
		status          string
		durationSeconds int
	)
	err := row.Scan(
		&w.ID,
		&w.CourseID,
		&w.TeacherID,
		&status,
		&w.Geofence.Center.Latitude,
		&w.Geofence.Center.Longitude,
		&w.Geofence.RadiusMeters,
		&durationSeconds,
		&w.CreatedAt,
		&w.OpenedAt,
		&w.ClosedAt,
	)
	if err != nil {
		return meeting.Window{}, err
	}
	w.Status = meeting.Status(status)
	w.Duration = time.Duration(durationSeconds) * time.Second
	return w, nil
}
