package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceStatus is the lifecycle state the owner assigns to a tag.
type DeviceStatus string

const (
	DeviceStatusActive   DeviceStatus = "active"
	DeviceStatusInactive DeviceStatus = "inactive"
	DeviceStatusLost     DeviceStatus = "lost"
)

// Valid reports whether s is one of the known statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusActive, DeviceStatusInactive, DeviceStatusLost:
		return true
	}
	return false
}

// Device is one trackable tag. Rows are created and edited by the owner's
// dashboard; the lookup pipeline only reads them.
type Device struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	AccessoryID  string       `json:"accessory_id"`
	HashedAdvKey string       `json:"-"`
	PrivateKey   string       `json:"-"`
	OwnerID      uuid.UUID    `json:"owner_id"`
	Status       DeviceStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// HasKeys reports whether both key materials are present and non-blank.
func (d *Device) HasKeys() bool {
	return strings.TrimSpace(d.HashedAdvKey) != "" && strings.TrimSpace(d.PrivateKey) != ""
}

// OwnedBy reports whether userID owns the device.
func (d *Device) OwnedBy(userID uuid.UUID) bool {
	return d.OwnerID != uuid.Nil && d.OwnerID == userID
}
