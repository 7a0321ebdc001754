package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/google/uuid"
)

// Postgres implements DeviceStore and LocationStore on database/sql with lib/pq.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	var (
		d            models.Device
		hashedAdvKey sql.NullString
		privateKey   sql.NullString
		status       string
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, accessory_id, hashed_adv_key, private_key, owner_id, status, created_at, updated_at
		 FROM devices WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.AccessoryID, &hashedAdvKey, &privateKey, &d.OwnerID, &status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	d.HashedAdvKey = hashedAdvKey.String
	d.PrivateKey = privateKey.String
	d.Status = models.DeviceStatus(status)
	return &d, nil
}

func (p *Postgres) ListDeviceKeys(ctx context.Context) ([]DeviceKeys, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, hashed_adv_key, private_key FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list device keys: %w", err)
	}
	defer rows.Close()

	var keys []DeviceKeys
	for rows.Next() {
		var (
			k                  DeviceKeys
			hashedAdvKey, priv sql.NullString
		)
		if err := rows.Scan(&k.DeviceID, &hashedAdvKey, &priv); err != nil {
			return nil, fmt.Errorf("failed to scan device keys: %w", err)
		}
		k.HashedAdvKey = hashedAdvKey.String
		k.PrivateKey = priv.String
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device keys: %w", err)
	}
	return keys, nil
}

func (p *Postgres) UpdateDeviceKeys(ctx context.Context, keys DeviceKeys) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE devices SET hashed_adv_key = $2, private_key = $3, updated_at = NOW() WHERE id = $1`,
		keys.DeviceID, keys.HashedAdvKey, keys.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to update device keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update device keys: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (p *Postgres) LatestLocation(ctx context.Context, deviceID uuid.UUID) (*models.LocationRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, device_id, latitude, longitude, confidence, status_code, timestamp, created_at
		 FROM location_history WHERE device_id = $1
		 ORDER BY timestamp DESC LIMIT 1`, deviceID)
	rec, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest location: %w", err)
	}
	return rec, nil
}

func (p *Postgres) AppendLocation(ctx context.Context, rec *models.LocationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var confidence sql.NullFloat64
	if rec.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *rec.Confidence, Valid: true}
	}
	var statusCode sql.NullInt64
	if rec.StatusCode != nil {
		statusCode = sql.NullInt64{Int64: int64(*rec.StatusCode), Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO location_history (id, device_id, latitude, longitude, confidence, status_code, timestamp, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.DeviceID, rec.Latitude, rec.Longitude, confidence, statusCode, rec.Timestamp, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

func (p *Postgres) ListLocations(ctx context.Context, deviceID uuid.UUID, limit int, before *time.Time) ([]models.LocationRecord, error) {
	limit = ClampLimit(limit)

	query := `SELECT id, device_id, latitude, longitude, confidence, status_code, timestamp, created_at
		 FROM location_history WHERE device_id = $1`
	args := []interface{}{deviceID}
	if before != nil {
		query += ` AND timestamp < $2 ORDER BY timestamp DESC LIMIT $3`
		args = append(args, *before, limit)
	} else {
		query += ` ORDER BY timestamp DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	records := make([]models.LocationRecord, 0)
	for rows.Next() {
		rec, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locations: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLocation(s scanner) (*models.LocationRecord, error) {
	var (
		rec        models.LocationRecord
		confidence sql.NullFloat64
		statusCode sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &rec.DeviceID, &rec.Latitude, &rec.Longitude, &confidence, &statusCode, &rec.Timestamp, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if confidence.Valid {
		c := confidence.Float64
		rec.Confidence = &c
	}
	if statusCode.Valid {
		sc := int(statusCode.Int64)
		rec.StatusCode = &sc
	}
	return &rec, nil
}
