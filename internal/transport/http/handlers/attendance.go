package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/identity"
	"github.com/septivank/attendance-admission/internal/ledger"
	"github.com/septivank/attendance-admission/internal/service"
	"github.com/septivank/attendance-admission/internal/transport/http/middleware"
)

// AttendanceHandler serves the meeting, claim, device and enrollment endpoints
type AttendanceHandler struct {
	svc *service.AttendanceService
}

// NewAttendanceHandler creates a handler over the attendance service
func NewAttendanceHandler(svc *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{svc: svc}
}

// RegisterRoutes mounts every endpoint on the group; auth must already be applied
func (h *AttendanceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	meetings := rg.Group("/meetings")
	meetings.POST("", h.OpenMeeting)
	meetings.POST("/:id/rotate", h.RotateToken)
	meetings.POST("/:id/close", h.CloseMeeting)
	meetings.GET("/:id/token", h.CurrentToken)
	meetings.GET("/:id/tokens/history", h.TokenHistory)
	meetings.GET("/:id/admissions/:identityId", h.LookupAdmission)

	rg.POST("/attendance/claims", h.SubmitClaim)
	rg.POST("/devices", h.RegisterDevice)
	rg.POST("/courses/:id/enrollments", h.Enroll)
}

// OpenMeeting handles POST /meetings
func (h *AttendanceHandler) OpenMeeting(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req OpenMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	opened, err := h.svc.OpenMeeting(c.Request.Context(), actor, service.OpenMeetingRequest{
		CourseID:        req.CourseID,
		Latitude:        *req.Latitude,
		Longitude:       *req.Longitude,
		RadiusMeters:    req.RadiusMeters,
		DurationSeconds: req.DurationSeconds,
		RequestID:       middleware.GetRequestID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, OpenMeetingResponse{
		Meeting: newMeetingResponse(opened.Window),
		Token:   opened.Token,
	})
}

// RotateToken handles POST /meetings/:id/rotate
func (h *AttendanceHandler) RotateToken(c *gin.Context) {
	actor, meetingID, ok := actorAndMeeting(c)
	if !ok {
		return
	}

	tok, err := h.svc.RotateToken(c.Request.Context(), actor, meetingID, middleware.GetRequestID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

// CloseMeeting handles POST /meetings/:id/close
func (h *AttendanceHandler) CloseMeeting(c *gin.Context) {
	actor, meetingID, ok := actorAndMeeting(c)
	if !ok {
		return
	}

	w, err := h.svc.CloseMeeting(c.Request.Context(), actor, meetingID, middleware.GetRequestID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMeetingResponse(w))
}

// CurrentToken handles GET /meetings/:id/token
func (h *AttendanceHandler) CurrentToken(c *gin.Context) {
	actor, meetingID, ok := actorAndMeeting(c)
	if !ok {
		return
	}

	tok, err := h.svc.CurrentToken(c.Request.Context(), actor, meetingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

// TokenHistory handles GET /meetings/:id/tokens/history
func (h *AttendanceHandler) TokenHistory(c *gin.Context) {
	actor, meetingID, ok := actorAndMeeting(c)
	if !ok {
		return
	}

	history, err := h.svc.TokenHistory(c.Request.Context(), actor, meetingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meeting_id": meetingID, "tokens": history})
}

// SubmitClaim handles POST /attendance/claims.
// Accepted claims answer 201, duplicates 409, other rejections 422 and indeterminate outcomes 503.
// Every evaluated claim carries the full decision in the body.
func (h *AttendanceHandler) SubmitClaim(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	meetingID, err := uuid.Parse(req.MeetingID)
	if err != nil {
		badRequest(c, "invalid meeting id")
		return
	}

	decision, err := h.svc.SubmitClaim(c.Request.Context(), actor, service.ClaimRequest{
		MeetingID: meetingID,
		Token:     req.Token,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		RequestID: middleware.GetRequestID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(decisionStatus(decision), decision)
}

func decisionStatus(d service.Decision) int {
	switch {
	case d.Status == service.StatusAccepted:
		return http.StatusCreated
	case d.Status == service.StatusIndeterminate:
		return http.StatusServiceUnavailable
	case d.Reason == ledger.ReasonDuplicateClaim:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// LookupAdmission handles GET /meetings/:id/admissions/:identityId
func (h *AttendanceHandler) LookupAdmission(c *gin.Context) {
	actor, meetingID, ok := actorAndMeeting(c)
	if !ok {
		return
	}

	rec, err := h.svc.LookupAdmission(c.Request.Context(), actor, meetingID, c.Param("identityId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RegisterDevice handles POST /devices. The device id comes from the device header.
func (h *AttendanceHandler) RegisterDevice(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	b, err := h.svc.RegisterDevice(c.Request.Context(), actor, middleware.GetRequestID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// Enroll handles POST /courses/:id/enrollments
func (h *AttendanceHandler) Enroll(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	courseID := c.Param("id")
	if err := h.svc.Enroll(c.Request.Context(), actor, courseID, req.IdentityID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"course_id": courseID, "identity_id": req.IdentityID})
}

func actorFrom(c *gin.Context) (identity.Identity, bool) {
	actor, ok := middleware.GetIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, middleware.NewErrorResponse(c, "unauthenticated"))
		return nil, false
	}
	return actor, true
}

func actorAndMeeting(c *gin.Context) (identity.Identity, uuid.UUID, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid meeting id")
		return nil, uuid.Nil, false
	}
	return actor, meetingID, true
}
