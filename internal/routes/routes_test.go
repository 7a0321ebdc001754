package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/auth"
	"github.com/AnshRaj112/tagtrack-backend/internal/handlers"
	"github.com/AnshRaj112/tagtrack-backend/internal/lookup"
	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/AnshRaj112/tagtrack-backend/internal/realtime"
	"github.com/AnshRaj112/tagtrack-backend/internal/store"
	"github.com/AnshRaj112/tagtrack-backend/internal/upstream"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "routes-test-secret"

type env struct {
	router   http.Handler
	mem      *store.Memory
	hub      *realtime.Hub
	device   models.Device
	token    string
	upstream *httptest.Server
	calls    *int32
	reply    atomic.Value // func(w http.ResponseWriter)
}

func signFor(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return tok
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{mem: store.NewMemory(), hub: realtime.NewHub(nil, nil), calls: new(int32)}
	e.reply.Store(func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"results":[{"lat":-3.73,"lon":-38.52,"conf":80,"status":1,"timestamp":"2024-01-01T00:00:00Z"}]}`))
	})
	e.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(e.calls, 1)
		e.reply.Load().(func(http.ResponseWriter))(w)
	}))
	t.Cleanup(e.upstream.Close)

	owner := uuid.New()
	e.device = models.Device{
		ID: uuid.New(), AccessoryID: "acc", HashedAdvKey: "h", PrivateKey: "p",
		OwnerID: owner, Status: models.DeviceStatusActive,
	}
	e.mem.PutDevice(e.device)
	e.token = signFor(t, owner)

	client := upstream.NewClient(upstream.Config{
		URL: e.upstream.URL, Username: "u", Password: "p",
		MaxAttempts: 3, RetryDelay: 0, AttemptTimeout: 2 * time.Second,
	}, nil, nil)

	svc := lookup.NewService(lookup.Deps{
		Devices:   e.mem,
		Locations: e.mem,
		Auth:      auth.NewJWTProvider(jwtSecret, ""),
		Fetcher:   client,
		Policy:    lookup.Policy{RateLimitWindow: time.Minute, CacheWindow: 5 * time.Minute},
		Guard:     lookup.NewLocalGuard(),
	})

	e.router = NewRouter(handlers.New(svc, e.hub, nil), Options{
		AllowedOrigins: []string{"*"},
		Health: map[string]handlers.Checker{
			"postgres": func(context.Context) error { return nil },
		},
	})
	return e
}

func (e *env) post(t *testing.T, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/locate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *env) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestLocate_EndToEnd(t *testing.T) {
	e := newEnv(t)

	rr := e.post(t, `{"deviceId":"`+e.device.ID.String()+`"}`, e.token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{
		"success": true,
		"cached": false,
		"location": {"latitude": -3.73, "longitude": -38.52, "confidence": 80, "status_code": 1, "timestamp": "2024-01-01T00:00:00Z"}
	}`, rr.Body.String())
	assert.Equal(t, 1, e.mem.Count(e.device.ID))
	assert.EqualValues(t, 1, atomic.LoadInt32(e.calls))
}

func TestLocate_LegacyTagID(t *testing.T) {
	e := newEnv(t)
	rr := e.post(t, `{"tagId":"`+e.device.ID.String()+`"}`, e.token)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLocate_Preflight(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/locate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rr.Body.String())

	req = httptest.NewRequest(http.MethodOptions, "/api/locate", nil)
	rr = httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestLocate_Errors(t *testing.T) {
	e := newEnv(t)
	id := e.device.ID.String()

	rr := e.post(t, `{"deviceId":"`+id+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Missing authorization header", decode(t, rr)["error"])

	rr = e.post(t, `{"deviceId":"`+id+`"}`, "forged")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.post(t, `{"deviceId":"nope"}`, e.token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.post(t, `not json`, e.token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.post(t, `{"deviceId":"`+uuid.NewString()+`"}`, e.token)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.post(t, `{"deviceId":"`+id+`"}`, signFor(t, uuid.New()))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	assert.Zero(t, atomic.LoadInt32(e.calls))
}

func TestLocate_RateLimited(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.AppendLocation(context.Background(), &models.LocationRecord{
		DeviceID: e.device.ID, Latitude: 1, Longitude: 2, Timestamp: time.Now().Add(-20 * time.Second),
	}))

	rr := e.post(t, `{"deviceId":"`+e.device.ID.String()+`"}`, e.token)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	body := decode(t, rr)
	retry, ok := body["retryAfter"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 40, retry, 1)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Zero(t, atomic.LoadInt32(e.calls))
}

func TestLocate_Cached(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.AppendLocation(context.Background(), &models.LocationRecord{
		DeviceID: e.device.ID, Latitude: 1, Longitude: 2, Timestamp: time.Now().Add(-2 * time.Minute),
	}))

	rr := e.post(t, `{"deviceId":"`+e.device.ID.String()+`"}`, e.token)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, true, body["cached"])
	assert.Zero(t, atomic.LoadInt32(e.calls))
}

func TestLocate_RepeatedInsideCacheWindow(t *testing.T) {
	e := newEnv(t)
	conf := 42.0
	require.NoError(t, e.mem.AppendLocation(context.Background(), &models.LocationRecord{
		DeviceID: e.device.ID, Latitude: 1, Longitude: 2, Confidence: &conf,
		Timestamp: time.Now().Add(-3 * time.Minute),
	}))

	body := `{"deviceId":"` + e.device.ID.String() + `"}`
	first := e.post(t, body, e.token)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, true, decode(t, first)["cached"])

	for i := 0; i < 3; i++ {
		rr := e.post(t, body, e.token)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, first.Body.String(), rr.Body.String())
	}
	assert.Zero(t, atomic.LoadInt32(e.calls))
	assert.Equal(t, 1, e.mem.Count(e.device.ID))
}

func TestLocate_UpstreamStatusPassedThrough(t *testing.T) {
	e := newEnv(t)
	e.reply.Store(func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"upstream secret"}`))
	})

	rr := e.post(t, `{"deviceId":"`+e.device.ID.String()+`"}`, e.token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotContains(t, rr.Body.String(), "upstream secret")
	details := decode(t, rr)["details"].(map[string]interface{})
	assert.Equal(t, "invalid credentials", details["reason"])
	assert.EqualValues(t, 1, atomic.LoadInt32(e.calls))
}

func TestLocate_UpstreamServerErrorsExhaust(t *testing.T) {
	e := newEnv(t)
	e.reply.Store(func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rr := e.post(t, `{"deviceId":"`+e.device.ID.String()+`"}`, e.token)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	details := decode(t, rr)["details"].(map[string]interface{})
	assert.Equal(t, "communication error", details["reason"])
	assert.EqualValues(t, 3, atomic.LoadInt32(e.calls))
	assert.Zero(t, e.mem.Count(e.device.ID))
}

func TestLocate_NoObservation(t *testing.T) {
	e := newEnv(t)
	e.reply.Store(func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	rr := e.post(t, `{"deviceId":"`+e.device.ID.String()+`"}`, e.token)
	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "no_results", details["reason"])
	assert.NotEmpty(t, details["suggestion"])
	assert.Zero(t, e.mem.Count(e.device.ID))
}

func TestDeviceReads(t *testing.T) {
	e := newEnv(t)
	base := "/api/devices/" + e.device.ID.String()

	rr := e.get(t, base+"/location")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, false, decode(t, rr)["success"])

	for i := 0; i < 3; i++ {
		require.NoError(t, e.mem.AppendLocation(context.Background(), &models.LocationRecord{
			DeviceID: e.device.ID, Latitude: float64(i), Longitude: 1, Timestamp: time.Now().Add(-time.Duration(3-i) * time.Hour),
		}))
	}

	rr = e.get(t, base+"/location")
	require.Equal(t, http.StatusOK, rr.Code)
	loc := decode(t, rr)["location"].(map[string]interface{})
	assert.EqualValues(t, 2, loc["latitude"])

	rr = e.get(t, base+"/history?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, decode(t, rr)["count"])

	rr = e.get(t, base+"/history?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.get(t, base+"/history?before=yesterday")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.get(t, "/api/devices/not-a-uuid/history")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok"}}`, rr.Body.String())
}

func TestLocationStream(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/locations?device_id=" + e.device.ID.String() + "&token=" + e.token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	require.Eventually(t, func() bool { return e.hub.Subscribers(e.device.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	e.hub.Dispatch(realtime.Event{
		Type:     "location",
		DeviceID: e.device.ID.String(),
		Location: models.LocationRecord{DeviceID: e.device.ID, Latitude: 7, Longitude: 8},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev realtime.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "location", ev.Type)
	assert.Equal(t, 7.0, ev.Location.Latitude)
}

func TestLocationStream_RejectsStranger(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/locations?device_id=" + e.device.ID.String() + "&token=" + signFor(t, uuid.New())
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
