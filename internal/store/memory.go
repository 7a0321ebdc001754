package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/google/uuid"
)

// Memory is an in-process DeviceStore and LocationStore. It backs tests and
// local runs without Postgres.
type Memory struct {
	mu        sync.RWMutex
	devices   map[uuid.UUID]models.Device
	locations map[uuid.UUID][]models.LocationRecord
}

func NewMemory() *Memory {
	return &Memory{
		devices:   make(map[uuid.UUID]models.Device),
		locations: make(map[uuid.UUID][]models.LocationRecord),
	}
}

// PutDevice inserts or replaces a device.
func (m *Memory) PutDevice(d models.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
}

func (m *Memory) GetDevice(_ context.Context, id uuid.UUID) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return &d, nil
}

func (m *Memory) LatestLocation(_ context.Context, deviceID uuid.UUID) (*models.LocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.locations[deviceID]
	if len(recs) == 0 {
		return nil, nil
	}
	latest := recs[0]
	for _, r := range recs[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return &latest, nil
}

func (m *Memory) AppendLocation(_ context.Context, rec *models.LocationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[rec.DeviceID] = append(m.locations[rec.DeviceID], *rec)
	return nil
}

func (m *Memory) ListLocations(_ context.Context, deviceID uuid.UUID, limit int, before *time.Time) ([]models.LocationRecord, error) {
	limit = ClampLimit(limit)

	m.mu.RLock()
	out := make([]models.LocationRecord, 0, len(m.locations[deviceID]))
	for _, r := range m.locations[deviceID] {
		if before != nil && !r.Timestamp.Before(*before) {
			continue
		}
		out = append(out, r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns how many records the device has.
func (m *Memory) Count(deviceID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.locations[deviceID])
}
