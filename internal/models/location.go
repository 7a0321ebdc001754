package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationRecord is one immutable observation of a device's position.
// Rows in location_history are append-only.
type LocationRecord struct {
	ID         uuid.UUID `json:"id"`
	DeviceID   uuid.UUID `json:"device_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Confidence *float64  `json:"confidence,omitempty"`
	StatusCode *int      `json:"status_code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}

// Location is the canonical shape returned to callers. Coordinates are
// pointers because the upstream may omit them.
type Location struct {
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	Confidence *float64  `json:"confidence,omitempty"`
	StatusCode *int      `json:"status_code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Location converts a stored record into the canonical response shape.
func (r *LocationRecord) Location() Location {
	lat, lon := r.Latitude, r.Longitude
	return Location{
		Latitude:   &lat,
		Longitude:  &lon,
		Confidence: r.Confidence,
		StatusCode: r.StatusCode,
		Timestamp:  r.Timestamp.UTC(),
	}
}
