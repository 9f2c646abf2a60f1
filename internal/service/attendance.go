package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/audit"
	"github.com/septivank/attendance-admission/internal/device"
	"github.com/septivank/attendance-admission/internal/identity"
	"github.com/septivank/attendance-admission/internal/ledger"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/metrics"
	"github.com/septivank/attendance-admission/internal/token"
	"github.com/septivank/attendance-admission/internal/validator"
	"go.uber.org/zap"
)

var (
	// ErrForbidden is returned when the caller may not act on the resource
	ErrForbidden = errors.New("forbidden")
	// ErrNotEnrolled is returned when a student claims attendance for a course they are not in
	ErrNotEnrolled = errors.New("identity is not enrolled in the meeting's course")
	// ErrInvalidRequest wraps request validation failures
	ErrInvalidRequest = errors.New("invalid request")
)

// Enrollments is the course registry consulted before a claim and managed by admins
type Enrollments interface {
	IsEnrolled(ctx context.Context, courseID, identityID string) (bool, error)
	Enroll(ctx context.Context, courseID, identityID string) error
}

// TokenHistory lists superseded tokens of a meeting
type TokenHistory interface {
	TokenHistory(ctx context.Context, meetingID uuid.UUID) ([]token.Token, error)
}

// CurrentTokens reads the current token of a meeting
type CurrentTokens interface {
	Current(ctx context.Context, meetingID uuid.UUID) (token.Token, error)
}

// OpenMeetingRequest is the teacher input for opening a meeting
type OpenMeetingRequest struct {
	CourseID        string
	Latitude        float64
	Longitude       float64
	RadiusMeters    float64
	DurationSeconds int
	RequestID       string
}

// OpenedMeeting is returned to the teacher after opening a meeting
type OpenedMeeting struct {
	Window meeting.Window
	Token  token.Token
}

// ClaimRequest is the student input for claiming attendance
type ClaimRequest struct {
	MeetingID uuid.UUID
	Token     string
	Latitude  float64
	Longitude float64
	RequestID string
}

// AttendanceService is the boundary the transport layer talks to. It enforces
// who may do what and hands claims to the pipeline.
type AttendanceService struct {
	meetings    *meeting.Controller
	tokens      CurrentTokens
	history     TokenHistory
	devices     *device.Store
	ledger      *ledger.Ledger
	enrollments Enrollments
	pipeline    *Pipeline
	validator   *validator.Validator
	audit       AuditEmitter
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewAttendanceService creates a new attendance service
func NewAttendanceService(
	meetings *meeting.Controller,
	tokens CurrentTokens,
	history TokenHistory,
	devices *device.Store,
	ledger *ledger.Ledger,
	enrollments Enrollments,
	pipeline *Pipeline,
	validator *validator.Validator,
	emitter AuditEmitter,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AttendanceService {
	return &AttendanceService{
		meetings:    meetings,
		tokens:      tokens,
		history:     history,
		devices:     devices,
		ledger:      ledger,
		enrollments: enrollments,
		pipeline:    pipeline,
		validator:   validator,
		audit:       emitter,
		metrics:     m,
		logger:      logger,
	}
}

// OpenMeeting schedules and opens a window for the calling teacher and issues its first token
func (s *AttendanceService) OpenMeeting(ctx context.Context, actor identity.Identity, req OpenMeetingRequest) (OpenedMeeting, error) {
	staff, ok := actor.(identity.Staff)
	if !ok {
		return OpenedMeeting{}, ErrForbidden
	}

	fence, duration, result := s.validator.ValidateOpenRequest(validator.OpenRequest{
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		RadiusMeters:    req.RadiusMeters,
		DurationSeconds: req.DurationSeconds,
	})
	if !result.IsValid {
		return OpenedMeeting{}, fmt.Errorf("%w: %s", ErrInvalidRequest, result.Reason)
	}
	if req.CourseID == "" {
		return OpenedMeeting{}, fmt.Errorf("%w: course id is required", ErrInvalidRequest)
	}

	w, err := s.meetings.Schedule(ctx, req.CourseID, staff.ID)
	if err != nil {
		return OpenedMeeting{}, err
	}

	w, tok, err := s.meetings.Open(ctx, w.ID, fence, duration)
	if err != nil {
		return OpenedMeeting{}, err
	}
	s.metrics.IncRotation("open")

	s.audit.Emit(audit.Event{
		Action:     audit.ActionSessionCreated,
		ActorID:    staff.ID,
		EntityType: audit.EntitySession,
		EntityID:   w.ID.String(),
		MeetingID:  w.ID.String(),
		Outcome:    audit.OutcomeSuccess,
		Details: map[string]string{
			"course_id":        w.CourseID,
			"radius_meters":    fmt.Sprintf("%.2f", fence.RadiusMeters),
			"duration_seconds": fmt.Sprintf("%d", int(duration/time.Second)),
			"token_expires_at": tok.ExpiresAt.Format(time.RFC3339Nano),
		},
		RequestID: req.RequestID,
	})

	return OpenedMeeting{Window: w, Token: tok}, nil
}

// RotateToken replaces the current token of an open meeting
func (s *AttendanceService) RotateToken(ctx context.Context, actor identity.Identity, meetingID uuid.UUID, requestID string) (token.Token, error) {
	if _, err := s.authorizeWindow(ctx, actor, meetingID); err != nil {
		return token.Token{}, err
	}

	tok, err := s.meetings.RotateToken(ctx, meetingID)
	if err != nil {
		return token.Token{}, err
	}
	s.metrics.IncRotation("manual")

	s.audit.Emit(audit.Event{
		Action:     audit.ActionQRGenerated,
		ActorID:    actor.IdentityID(),
		EntityType: audit.EntitySession,
		EntityID:   meetingID.String(),
		MeetingID:  meetingID.String(),
		Outcome:    audit.OutcomeSuccess,
		Details:    map[string]string{"token_expires_at": tok.ExpiresAt.Format(time.RFC3339Nano)},
		RequestID:  requestID,
	})

	return tok, nil
}

// CloseMeeting closes an open meeting and revokes its token
func (s *AttendanceService) CloseMeeting(ctx context.Context, actor identity.Identity, meetingID uuid.UUID, requestID string) (meeting.Window, error) {
	if _, err := s.authorizeWindow(ctx, actor, meetingID); err != nil {
		return meeting.Window{}, err
	}

	w, err := s.meetings.Close(ctx, meetingID)
	if err != nil {
		return meeting.Window{}, err
	}
	s.metrics.IncWindowClosed("manual")

	s.audit.Emit(audit.Event{
		Action:     audit.ActionSessionClosed,
		ActorID:    actor.IdentityID(),
		EntityType: audit.EntitySession,
		EntityID:   meetingID.String(),
		MeetingID:  meetingID.String(),
		Outcome:    audit.OutcomeSuccess,
		RequestID:  requestID,
	})

	return w, nil
}

// CurrentToken returns the token the teacher's screen should display
func (s *AttendanceService) CurrentToken(ctx context.Context, actor identity.Identity, meetingID uuid.UUID) (token.Token, error) {
	if _, err := s.authorizeWindow(ctx, actor, meetingID); err != nil {
		return token.Token{}, err
	}
	return s.tokens.Current(ctx, meetingID)
}

// TokenHistory returns the superseded tokens of a meeting, oldest first
func (s *AttendanceService) TokenHistory(ctx context.Context, actor identity.Identity, meetingID uuid.UUID) ([]token.Token, error) {
	if _, err := s.authorizeWindow(ctx, actor, meetingID); err != nil {
		return nil, err
	}
	return s.history.TokenHistory(ctx, meetingID)
}

// SubmitClaim checks enrollment and runs the claim through the admission pipeline.
// Storage failures while reading the meeting or the enrollment yield an indeterminate
// decision. ErrNotEnrolled comes with the audited refusal; other errors mean the claim
// was not evaluated.
func (s *AttendanceService) SubmitClaim(ctx context.Context, actor identity.Identity, req ClaimRequest) (Decision, error) {
	student, ok := actor.(identity.Student)
	if !ok {
		return Decision{}, ErrForbidden
	}

	claim := Claim{
		MeetingID:  req.MeetingID,
		IdentityID: student.ID,
		Token:      req.Token,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		DeviceID:   student.DeviceID,
		RequestID:  req.RequestID,
	}

	w, err := s.meetings.Get(ctx, req.MeetingID)
	switch {
	case err == nil:
		enrolled, err := s.enrollments.IsEnrolled(ctx, w.CourseID, student.ID)
		if err != nil {
			return s.pipeline.Unavailable(claim, "enrollment check failed", err), nil
		}
		if !enrolled {
			return s.pipeline.Refuse(claim, ledger.ReasonNotEnrolled), ErrNotEnrolled
		}
	case errors.Is(err, meeting.ErrMeetingNotFound):
		// unknown meetings are rejected by the pipeline as window_not_open
	default:
		return s.pipeline.Unavailable(claim, "meeting lookup failed", err), nil
	}

	return s.pipeline.Evaluate(ctx, claim), nil
}

// RegisterDevice binds the student's device. Each identity and each device can be bound once.
func (s *AttendanceService) RegisterDevice(ctx context.Context, actor identity.Identity, requestID string) (device.Binding, error) {
	student, ok := actor.(identity.Student)
	if !ok {
		return device.Binding{}, ErrForbidden
	}
	if result := s.validator.ValidateDeviceID(student.DeviceID); !result.IsValid {
		return device.Binding{}, fmt.Errorf("%w: %s", ErrInvalidRequest, result.Reason)
	}

	b, err := s.devices.Register(ctx, student)
	outcome := audit.OutcomeSuccess
	reason := ""
	if err != nil {
		outcome = audit.OutcomeFailure
		reason = err.Error()
	}
	s.audit.Emit(audit.Event{
		Action:     audit.ActionDeviceRegistered,
		ActorID:    student.ID,
		EntityType: audit.EntityDevice,
		EntityID:   student.DeviceID,
		Outcome:    outcome,
		Reason:     reason,
		RequestID:  requestID,
	})
	if err != nil {
		return device.Binding{}, err
	}

	s.logger.Info("device registered",
		zap.String("identity_id", student.ID),
		zap.String("device_id", student.DeviceID),
	)
	return b, nil
}

// LookupAdmission returns the accepted record of an identity for a meeting.
// Students may only look up themselves; staff need access to the meeting.
func (s *AttendanceService) LookupAdmission(ctx context.Context, actor identity.Identity, meetingID uuid.UUID, identityID string) (ledger.Record, error) {
	switch a := actor.(type) {
	case identity.Student:
		if a.ID != identityID {
			return ledger.Record{}, ErrForbidden
		}
	case identity.Staff:
		if _, err := s.authorizeWindow(ctx, a, meetingID); err != nil {
			return ledger.Record{}, err
		}
	default:
		return ledger.Record{}, ErrForbidden
	}
	return s.ledger.Lookup(ctx, meetingID, identityID)
}

// Enroll adds a student to a course. Admin only.
func (s *AttendanceService) Enroll(ctx context.Context, actor identity.Identity, courseID, identityID string) error {
	staff, ok := actor.(identity.Staff)
	if !ok || !staff.IsAdmin() {
		return ErrForbidden
	}
	if courseID == "" || identityID == "" {
		return fmt.Errorf("%w: course id and identity id are required", ErrInvalidRequest)
	}
	return s.enrollments.Enroll(ctx, courseID, identityID)
}

// authorizeWindow allows admins and the teacher who owns the meeting
func (s *AttendanceService) authorizeWindow(ctx context.Context, actor identity.Identity, meetingID uuid.UUID) (meeting.Window, error) {
	staff, ok := actor.(identity.Staff)
	if !ok {
		return meeting.Window{}, ErrForbidden
	}

	w, err := s.meetings.Get(ctx, meetingID)
	if err != nil {
		return meeting.Window{}, err
	}
	if !staff.IsAdmin() && w.TeacherID != staff.ID {
		return meeting.Window{}, ErrForbidden
	}
	return w, nil
}
