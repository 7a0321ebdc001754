package store

import (
	"context"
	"testing"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Devices(t *testing.T) {
	m := NewMemory()
	d := models.Device{ID: uuid.New(), OwnerID: uuid.New(), Status: models.DeviceStatusActive}
	m.PutDevice(d)

	got, err := m.GetDevice(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.OwnerID, got.OwnerID)

	_, err = m.GetDevice(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestMemory_LatestLocationByTimestamp(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	deviceID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	latest, err := m.LatestLocation(ctx, deviceID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	// Inserted out of order; latest is decided by timestamp, not insertion.
	require.NoError(t, m.AppendLocation(ctx, &models.LocationRecord{DeviceID: deviceID, Latitude: 2, Timestamp: base.Add(2 * time.Minute)}))
	require.NoError(t, m.AppendLocation(ctx, &models.LocationRecord{DeviceID: deviceID, Latitude: 1, Timestamp: base.Add(time.Minute)}))

	latest, err = m.LatestLocation(ctx, deviceID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2.0, latest.Latitude)
	assert.Equal(t, 2, m.Count(deviceID))
}

func TestMemory_ListLocations(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	deviceID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendLocation(ctx, &models.LocationRecord{DeviceID: deviceID, Latitude: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)}))
	}

	recs, err := m.ListLocations(ctx, deviceID, 2, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 4.0, recs[0].Latitude)
	assert.Equal(t, 3.0, recs[1].Latitude)

	before := base.Add(3 * time.Minute)
	recs, err = m.ListLocations(ctx, deviceID, 0, &before)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 2.0, recs[0].Latitude)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(0))
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(-3))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxHistoryLimit, ClampLimit(MaxHistoryLimit+1))
}
