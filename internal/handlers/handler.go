package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/auth"
	"github.com/AnshRaj112/tagtrack-backend/internal/logging"
	"github.com/AnshRaj112/tagtrack-backend/internal/lookup"
	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/AnshRaj112/tagtrack-backend/internal/realtime"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocationService is the lookup pipeline as seen by the HTTP layer.
type LocationService interface {
	Authorize(ctx context.Context, token, rawDeviceID string) (*models.Device, *auth.Identity, error)
	Locate(ctx context.Context, token, rawDeviceID string) (*lookup.Result, error)
	Latest(ctx context.Context, token, rawDeviceID string) (*models.LocationRecord, error)
	History(ctx context.Context, token, rawDeviceID string, limit int, before *time.Time) ([]models.LocationRecord, error)
}

// Subscriber hands out live location streams per device.
type Subscriber interface {
	Subscribe(deviceID uuid.UUID) (<-chan realtime.Event, func())
}

type Handler struct {
	svc    LocationService
	hub    Subscriber
	logger *zap.Logger
}

func New(svc LocationService, hub Subscriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, hub: hub, logger: logger}
}

func bearer(r *http.Request) string {
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return token
}

func requestLogger(logger *zap.Logger, r *http.Request) *zap.Logger {
	return logging.WithRequestID(logger, chimw.GetReqID(r.Context()))
}
