package store

import (
	"context"
	"errors"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/google/uuid"
)

// ErrDeviceNotFound is returned when no device row matches the id.
var ErrDeviceNotFound = errors.New("device not found")

// History page bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// DeviceStore reads device rows. The lookup pipeline never writes them.
type DeviceStore interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
}

// DeviceKeys holds the key material columns of one device.
type DeviceKeys struct {
	DeviceID     uuid.UUID
	HashedAdvKey string
	PrivateKey   string
}

// KeyStore rewrites key material at rest. Only maintenance tooling uses it.
type KeyStore interface {
	ListDeviceKeys(ctx context.Context) ([]DeviceKeys, error)
	UpdateDeviceKeys(ctx context.Context, keys DeviceKeys) error
}

// LocationStore reads and appends location history.
type LocationStore interface {
	// LatestLocation returns the most recent record by timestamp, or nil
	// when the device has no history.
	LatestLocation(ctx context.Context, deviceID uuid.UUID) (*models.LocationRecord, error)
	AppendLocation(ctx context.Context, rec *models.LocationRecord) error
	// ListLocations returns records newest first. A non-nil before keeps
	// only records strictly older than it.
	ListLocations(ctx context.Context, deviceID uuid.UUID, limit int, before *time.Time) ([]models.LocationRecord, error)
}

// ClampLimit applies the default and maximum history page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
