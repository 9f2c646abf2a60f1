package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/septivank/attendance-admission/internal/device"
	"github.com/septivank/attendance-admission/internal/ledger"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/service"
	"github.com/septivank/attendance-admission/internal/transport/http/middleware"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// serviceErrors covers every sentinel the attendance service returns
var serviceErrors = []ErrorCase{
	{Err: service.ErrForbidden, Status: http.StatusForbidden, Message: "forbidden"},
	{Err: service.ErrNotEnrolled, Status: http.StatusForbidden, Message: "not enrolled in this course"},
	{Err: meeting.ErrMeetingNotFound, Status: http.StatusNotFound, Message: "meeting not found"},
	{Err: meeting.ErrInvalidTransition, Status: http.StatusConflict, Message: "meeting cannot change to the requested state"},
	{Err: meeting.ErrWindowNotOpen, Status: http.StatusConflict, Message: "meeting window is not open"},
	{Err: device.ErrAlreadyBound, Status: http.StatusConflict, Message: "device or identity already bound"},
	{Err: device.ErrNotBound, Status: http.StatusNotFound, Message: "no device registered"},
	{Err: ledger.ErrNotFound, Status: http.StatusNotFound, Message: "admission record not found"},
	{Err: ledger.ErrUnavailable, Status: http.StatusServiceUnavailable, Message: "admission ledger unavailable"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	// validation messages are safe to return as is
	if errors.Is(err, service.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, middleware.NewErrorResponse(c, err.Error()))
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, middleware.NewErrorResponse(c, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, middleware.NewErrorResponse(c, fallbackMessage))
}

func respondError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, serviceErrors, http.StatusInternalServerError, "internal error")
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, middleware.NewErrorResponse(c, msg))
}
