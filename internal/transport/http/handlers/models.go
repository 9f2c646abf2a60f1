package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/geo"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/token"
)

// OpenMeetingRequest is the body of POST /meetings. Zero radius and duration take the configured defaults.
type OpenMeetingRequest struct {
	CourseID        string   `json:"course_id" binding:"required"`
	Latitude        *float64 `json:"latitude" binding:"required"`
	Longitude       *float64 `json:"longitude" binding:"required"`
	RadiusMeters    float64  `json:"radius_meters"`
	DurationSeconds int      `json:"duration_seconds"`
}

// ClaimRequest is the body of POST /attendance/claims
type ClaimRequest struct {
	MeetingID string   `json:"meeting_id" binding:"required"`
	Token     string   `json:"token"`
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// EnrollRequest is the body of POST /courses/:id/enrollments
type EnrollRequest struct {
	IdentityID string `json:"identity_id" binding:"required"`
}

// MeetingResponse describes a meeting window
type MeetingResponse struct {
	MeetingID       uuid.UUID    `json:"meeting_id"`
	CourseID        string       `json:"course_id"`
	TeacherID       string       `json:"teacher_id"`
	Status          string       `json:"status"`
	Geofence        geo.Geofence `json:"geofence"`
	DurationSeconds int          `json:"duration_seconds"`
	OpenedAt        *time.Time   `json:"opened_at,omitempty"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
	Deadline        *time.Time   `json:"deadline,omitempty"`
}

// OpenMeetingResponse is returned after a meeting is opened
type OpenMeetingResponse struct {
	Meeting MeetingResponse `json:"meeting"`
	Token   token.Token     `json:"token"`
}

func newMeetingResponse(w meeting.Window) MeetingResponse {
	resp := MeetingResponse{
		MeetingID:       w.ID,
		CourseID:        w.CourseID,
		TeacherID:       w.TeacherID,
		Status:          string(w.Status),
		Geofence:        w.Geofence,
		DurationSeconds: int(w.Duration / time.Second),
		OpenedAt:        w.OpenedAt,
		ClosedAt:        w.ClosedAt,
	}
	if w.OpenedAt != nil {
		deadline := w.Deadline()
		resp.Deadline = &deadline
	}
	return resp
}
