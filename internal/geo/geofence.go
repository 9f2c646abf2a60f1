package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRadius is returned when a geofence radius is not a positive finite number
var ErrInvalidRadius = errors.New("invalid geofence radius")

// Geofence is a circle on the globe: a center plus a radius in meters
type Geofence struct {
	Center       Point   `json:"center"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Validate checks the center and the radius
func (g Geofence) Validate() error {
	if err := g.Center.Validate(); err != nil {
		return err
	}
	if math.IsNaN(g.RadiusMeters) || math.IsInf(g.RadiusMeters, 0) || g.RadiusMeters <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, g.RadiusMeters)
	}
	return nil
}

// Contains returns the distance from the center to p and whether p lies inside the fence.
// A point exactly on the boundary is inside.
func (g Geofence) Contains(p Point) (float64, bool, error) {
	distance, err := Distance(p, g.Center)
	if err != nil {
		return 0, false, err
	}
	return distance, distance <= g.RadiusMeters, nil
}
