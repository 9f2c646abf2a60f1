package validator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/septivank/attendance-admission/internal/geo"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// Bounds are the accepted ranges for opening a meeting window
type Bounds struct {
	MinRadiusMeters     float64
	MaxRadiusMeters     float64
	DefaultRadiusMeters float64
	MinDuration         time.Duration
	MaxDuration         time.Duration
	DefaultDuration     time.Duration
}

// OpenRequest is the teacher input for opening a window
type OpenRequest struct {
	Latitude        float64
	Longitude       float64
	RadiusMeters    float64
	DurationSeconds int
}

const maxDeviceIDLength = 255

// Validator checks request shapes before they reach the core
type Validator struct {
	bounds Bounds
}

// NewValidator creates a new validator with the specified bounds
func NewValidator(bounds Bounds) *Validator {
	return &Validator{bounds: bounds}
}

// ValidateOpenRequest resolves defaults and checks the geofence and duration bounds
func (v *Validator) ValidateOpenRequest(req OpenRequest) (geo.Geofence, time.Duration, ValidationResult) {
	result := ValidationResult{IsValid: true}

	radius := req.RadiusMeters
	if radius == 0 {
		radius = v.bounds.DefaultRadiusMeters
	}
	duration := v.bounds.DefaultDuration
	if req.DurationSeconds != 0 {
		// checked in seconds first, a huge value would wrap once multiplied
		if req.DurationSeconds < 0 || int64(req.DurationSeconds) > int64(v.bounds.MaxDuration/time.Second) {
			result.IsValid = false
			result.Reason = v.durationReason()
			return geo.Geofence{}, 0, result
		}
		duration = time.Duration(req.DurationSeconds) * time.Second
	}

	fence := geo.Geofence{
		Center:       geo.Point{Latitude: req.Latitude, Longitude: req.Longitude},
		RadiusMeters: radius,
	}

	if err := fence.Center.Validate(); err != nil {
		result.IsValid = false
		result.Reason = err.Error()
		return fence, duration, result
	}

	if math.IsNaN(radius) || radius < v.bounds.MinRadiusMeters || radius > v.bounds.MaxRadiusMeters {
		result.IsValid = false
		result.Reason = fmt.Sprintf("radius must be between %.0f and %.0f meters", v.bounds.MinRadiusMeters, v.bounds.MaxRadiusMeters)
		return fence, duration, result
	}

	if duration < v.bounds.MinDuration || duration > v.bounds.MaxDuration {
		result.IsValid = false
		result.Reason = v.durationReason()
		return fence, duration, result
	}

	return fence, duration, result
}

func (v *Validator) durationReason() string {
	return fmt.Sprintf("duration must be between %d and %d seconds",
		int(v.bounds.MinDuration.Seconds()), int(v.bounds.MaxDuration.Seconds()))
}

// ValidateDeviceID checks a device identifier submitted for registration
func (v *Validator) ValidateDeviceID(deviceID string) ValidationResult {
	trimmed := strings.TrimSpace(deviceID)
	switch {
	case trimmed == "":
		return ValidationResult{Reason: "device id is required"}
	case trimmed != deviceID:
		return ValidationResult{Reason: "device id must not have surrounding whitespace"}
	case len(deviceID) > maxDeviceIDLength:
		return ValidationResult{Reason: fmt.Sprintf("device id longer than %d characters", maxDeviceIDLength)}
	}
	return ValidationResult{IsValid: true}
}
