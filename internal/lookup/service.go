package lookup

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/audit"
	"github.com/AnshRaj112/tagtrack-backend/internal/auth"
	"github.com/AnshRaj112/tagtrack-backend/internal/metrics"
	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/AnshRaj112/tagtrack-backend/internal/store"
	"github.com/AnshRaj112/tagtrack-backend/internal/upstream"
	"github.com/AnshRaj112/tagtrack-backend/pkg/sealer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is a completed lookup. Exactly one of Location and NoObservation
// is set.
type Result struct {
	Success       bool
	Location      *models.Location
	Cached        bool
	NoObservation *NoObservation
}

// NoObservation explains a reachable device without a usable position.
type NoObservation struct {
	Reason     string
	Message    string
	Suggestion string
}

// Fetcher is the upstream location API.
type Fetcher interface {
	Configured() bool
	Fetch(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// Publisher announces persisted records to live subscribers.
type Publisher interface {
	PublishLocation(ctx context.Context, rec models.LocationRecord) error
}

type Deps struct {
	Devices   store.DeviceStore
	Locations store.LocationStore
	Auth      auth.Provider
	Fetcher   Fetcher
	Policy    Policy
	Guard     Guard
	Sealer    *sealer.Sealer
	Publisher Publisher
	Audit     audit.Sink
	Metrics   metrics.Recorder
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service runs the location lookup pipeline.
type Service struct {
	devices   store.DeviceStore
	locations store.LocationStore
	auth      auth.Provider
	fetcher   Fetcher
	policy    Policy
	guard     Guard
	sealer    *sealer.Sealer
	publisher Publisher
	audit     audit.Sink
	metrics   metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		devices:   d.Devices,
		locations: d.Locations,
		auth:      d.Auth,
		fetcher:   d.Fetcher,
		policy:    d.Policy,
		guard:     d.Guard,
		sealer:    d.Sealer,
		publisher: d.Publisher,
		audit:     d.Audit,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Now,
	}
	if s.guard == nil {
		s.guard = NoopGuard{}
	}
	if s.audit == nil {
		s.audit = audit.NopSink{}
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ParseDeviceID accepts only the canonical 8-4-4-4-12 hex form, in any case.
func ParseDeviceID(raw string) (uuid.UUID, error) {
	if len(raw) != 36 {
		return uuid.Nil, newError(KindInvalidArgument, "Invalid device ID", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, newError(KindInvalidArgument, "Invalid device ID", err)
	}
	return id, nil
}

// Authorize validates the id, resolves the token and checks that the caller
// owns the device.
func (s *Service) Authorize(ctx context.Context, token, rawDeviceID string) (*models.Device, *auth.Identity, error) {
	deviceID, err := ParseDeviceID(rawDeviceID)
	if err != nil {
		return nil, nil, err
	}

	if token == "" {
		return nil, nil, newError(KindUnauthenticated, "Missing authorization header", nil)
	}
	identity, err := s.auth.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			return nil, nil, newError(KindUnauthenticated, "Unauthorized", err)
		}
		return nil, nil, newError(KindInternal, "Internal server error", err)
	}

	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return nil, nil, newError(KindNotFound, "Device not found", err)
		}
		return nil, nil, newError(KindInternal, "Internal server error", err)
	}
	if !device.OwnedBy(identity.UserID) {
		s.logger.Warn("device access denied",
			zap.String("device_id", device.ID.String()),
			zap.String("user_id", identity.UserID.String()))
		return nil, nil, newError(KindPermissionDenied, "Access denied", nil)
	}

	return device, identity, nil
}

// Locate runs the full pipeline for one request. Once ownership is
// established the lookup is detached from ctx cancellation.
func (s *Service) Locate(ctx context.Context, token, rawDeviceID string) (res *Result, err error) {
	defer func() { s.metrics.IncLookupOutcome(outcome(res, err)) }()

	device, identity, err := s.Authorize(ctx, token, rawDeviceID)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(zap.String("device_id", device.ID.String()))

	last, err := s.locations.LatestLocation(ctx, device.ID)
	if err != nil {
		return nil, newError(KindInternal, "Internal server error", err)
	}

	decision, retryAfter := s.policy.Evaluate(last, s.now())
	switch decision {
	case DecisionRateLimited:
		return nil, &Error{
			Kind:       KindRateLimited,
			Message:    "Please wait before refreshing again",
			RetryAfter: retryAfter,
		}
	case DecisionCached:
		s.metrics.IncCacheHits()
		logger.Debug("returning cached location", zap.Duration("age", s.now().Sub(last.Timestamp)))
		return cachedResult(last), nil
	}
	s.metrics.IncCacheMisses()

	// The snapshot may be stale by the time this caller holds the guard, so
	// the record is read again before going upstream.
	refresh := func(ctx context.Context) (*Result, error) {
		latest, err := s.locations.LatestLocation(ctx, device.ID)
		if err != nil {
			return nil, newError(KindInternal, "Internal server error", err)
		}
		if s.settled(latest, last) {
			s.metrics.IncCacheHits()
			return cachedResult(latest), nil
		}
		return s.refresh(ctx, logger, device, identity)
	}

	res, _, err = s.guard.Do(ctx, device.ID.String(), refresh)
	if err != nil || res != nil {
		return res, err
	}
	// Another instance refreshed this device while we waited.
	return refresh(ctx)
}

// settled reports whether latest, read after waiting for the guard, already
// answers the lookup: either it is inside a window or it is newer than the
// snapshot the caller started from.
func (s *Service) settled(latest, snapshot *models.LocationRecord) bool {
	if latest == nil {
		return false
	}
	if decision, _ := s.policy.Evaluate(latest, s.now()); decision != DecisionFetch {
		return true
	}
	return snapshot == nil || latest.Timestamp.After(snapshot.Timestamp)
}

// refresh calls upstream, normalizes the answer and persists it.
func (s *Service) refresh(ctx context.Context, logger *zap.Logger, device *models.Device, identity *auth.Identity) (*Result, error) {
	if !device.HasKeys() {
		return nil, newError(KindKeysMissing, "Device keys are invalid or missing", nil)
	}
	if !s.fetcher.Configured() {
		logger.Error("location API credentials not configured")
		return nil, newError(KindConfiguration, "Location API configuration not found", upstream.ErrNotConfigured)
	}

	req, err := s.unsealKeys(device)
	if err != nil {
		if errors.Is(err, sealer.ErrNoKey) {
			logger.Error("device keys are sealed but no key encryption key is configured")
			return nil, newError(KindConfiguration, "Location API configuration not found", err)
		}
		logger.Warn("failed to unseal device keys", zap.Error(err))
		return nil, newError(KindKeysMissing, "Device keys are invalid or missing", err)
	}

	start := s.now()
	resp, err := s.fetcher.Fetch(ctx, req)
	entry := audit.Entry{
		DeviceID: device.ID.String(),
		UserID:   identity.UserID.String(),
	}
	if err != nil {
		return nil, s.upstreamFailure(logger, entry, start, err)
	}

	obs := upstream.Normalize(resp.Body, s.now())
	entry.Attempts = resp.Attempts
	entry.StatusCode = resp.StatusCode
	entry.DurationMS = s.now().Sub(start).Milliseconds()

	if !obs.Found {
		logger.Info("no observation from location API", zap.String("reason", obs.Reason))
		entry.Outcome = audit.OutcomeNoObservation
		entry.Detail = obs.Reason
		s.audit.Record(entry)
		return &Result{NoObservation: noObservation(obs.Reason)}, nil
	}

	entry.Outcome = audit.OutcomeLocated
	s.audit.Record(entry)

	loc := obs.Location
	rec := models.LocationRecord{
		DeviceID:   device.ID,
		Latitude:   *loc.Latitude,
		Longitude:  *loc.Longitude,
		Confidence: loc.Confidence,
		StatusCode: loc.StatusCode,
		Timestamp:  loc.Timestamp,
	}
	s.persist(ctx, logger, rec)

	return &Result{Success: true, Location: &loc}, nil
}

// persist appends the record and announces it. Failures are logged only.
func (s *Service) persist(ctx context.Context, logger *zap.Logger, rec models.LocationRecord) {
	if err := s.locations.AppendLocation(ctx, &rec); err != nil {
		s.metrics.IncPersistFailures()
		logger.Error("failed to save location to history", zap.Error(err))
		return
	}
	logger.Debug("location saved to history")

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLocation(ctx, rec); err != nil {
		logger.Warn("failed to publish location event", zap.Error(err))
	}
}

func (s *Service) upstreamFailure(logger *zap.Logger, entry audit.Entry, start time.Time, err error) error {
	entry.Attempts = upstream.Attempts(err)
	entry.DurationMS = s.now().Sub(start).Milliseconds()
	entry.Detail = err.Error()

	if errors.Is(err, upstream.ErrNotConfigured) {
		return newError(KindConfiguration, "Location API configuration not found", err)
	}

	e := &Error{
		Kind:    KindUpstreamUnavailable,
		Message: "Error querying location API",
		Reason:  ReasonCommunication,
		Err:     err,
	}

	var se *upstream.StatusError
	if errors.As(err, &se) {
		entry.StatusCode = se.StatusCode
		entry.Outcome = audit.OutcomeExhausted
		if se.StatusCode >= 400 && se.StatusCode < 500 {
			entry.Outcome = audit.OutcomeClientError
		}
		e.UpstreamStatus = se.StatusCode
		if se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden {
			e.Reason = ReasonInvalidCredentials
		}
		logger.Error("location API error",
			zap.Int("status", se.StatusCode),
			zap.Int("attempts", se.Attempts),
			zap.ByteString("body", se.Body))
	} else {
		entry.Outcome = audit.OutcomeExhausted
		logger.Error("location API unreachable", zap.Error(err))
	}

	s.audit.Record(entry)
	return e
}

func (s *Service) unsealKeys(device *models.Device) (upstream.Request, error) {
	hashed, err := s.sealer.Open(device.HashedAdvKey)
	if err != nil {
		return upstream.Request{}, err
	}
	private, err := s.sealer.Open(device.PrivateKey)
	if err != nil {
		return upstream.Request{}, err
	}
	if hashed == "" || private == "" {
		return upstream.Request{}, sealer.ErrCorrupt
	}
	return upstream.Request{
		AccessoryID:  device.AccessoryID,
		HashedAdvKey: hashed,
		PrivateKey:   private,
	}, nil
}

// Latest returns the most recent stored record, or nil if there is none.
func (s *Service) Latest(ctx context.Context, token, rawDeviceID string) (*models.LocationRecord, error) {
	device, _, err := s.Authorize(ctx, token, rawDeviceID)
	if err != nil {
		return nil, err
	}
	rec, err := s.locations.LatestLocation(ctx, device.ID)
	if err != nil {
		return nil, newError(KindInternal, "Internal server error", err)
	}
	return rec, nil
}

// History returns stored records newest first.
func (s *Service) History(ctx context.Context, token, rawDeviceID string, limit int, before *time.Time) ([]models.LocationRecord, error) {
	device, _, err := s.Authorize(ctx, token, rawDeviceID)
	if err != nil {
		return nil, err
	}
	recs, err := s.locations.ListLocations(ctx, device.ID, store.ClampLimit(limit), before)
	if err != nil {
		return nil, newError(KindInternal, "Internal server error", err)
	}
	return recs, nil
}

func cachedResult(rec *models.LocationRecord) *Result {
	loc := rec.Location()
	return &Result{Success: true, Location: &loc, Cached: true}
}

func noObservation(reason string) *NoObservation {
	if reason == upstream.ReasonMissingCoordinates {
		return &NoObservation{
			Reason:     reason,
			Message:    "Location report has no coordinates",
			Suggestion: "The tag was seen but its position could not be resolved. Try again in a few minutes.",
		}
	}
	return &NoObservation{
		Reason:     upstream.ReasonNoResults,
		Message:    "No location available",
		Suggestion: "The tag has not been reported nearby yet. Keep it near a compatible phone and try again later.",
	}
}

func outcome(res *Result, err error) string {
	switch {
	case err != nil:
		return KindOf(err).String()
	case res == nil:
		return "internal"
	case res.NoObservation != nil:
		return "no_observation"
	case res.Cached:
		return "cached"
	default:
		return "located"
	}
}
