package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AnshRaj112/tagtrack-backend/internal/lookup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid argument", &lookup.Error{Kind: lookup.KindInvalidArgument, Message: "Invalid device ID"}, http.StatusBadRequest},
		{"unauthenticated", &lookup.Error{Kind: lookup.KindUnauthenticated}, http.StatusUnauthorized},
		{"not found", &lookup.Error{Kind: lookup.KindNotFound}, http.StatusNotFound},
		{"permission denied", &lookup.Error{Kind: lookup.KindPermissionDenied}, http.StatusForbidden},
		{"keys missing", &lookup.Error{Kind: lookup.KindKeysMissing}, http.StatusBadRequest},
		{"configuration", &lookup.Error{Kind: lookup.KindConfiguration}, http.StatusInternalServerError},
		{"rate limited", &lookup.Error{Kind: lookup.KindRateLimited, RetryAfter: 12}, http.StatusTooManyRequests},
		{"upstream 4xx", &lookup.Error{Kind: lookup.KindUpstreamUnavailable, UpstreamStatus: 401}, http.StatusUnauthorized},
		{"upstream 5xx", &lookup.Error{Kind: lookup.KindUpstreamUnavailable, UpstreamStatus: 503}, http.StatusServiceUnavailable},
		{"upstream unreachable", &lookup.Error{Kind: lookup.KindUpstreamUnavailable}, http.StatusBadGateway},
		{"internal", &lookup.Error{Kind: lookup.KindInternal, Message: "db exploded"}, http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := MapError(tc.err)
			assert.Equal(t, tc.status, status)
		})
	}
}

func TestMapError_Bodies(t *testing.T) {
	_, body := MapError(&lookup.Error{Kind: lookup.KindRateLimited, Message: "wait", RetryAfter: 12})
	require.NotNil(t, body.RetryAfter)
	assert.Equal(t, 12, *body.RetryAfter)
	assert.Nil(t, body.Details)

	_, body = MapError(&lookup.Error{Kind: lookup.KindUpstreamUnavailable, Message: "Error querying location API", Reason: lookup.ReasonCommunication})
	require.NotNil(t, body.Details)
	assert.Equal(t, "communication error", body.Details.Reason)
	assert.Nil(t, body.RetryAfter)

	_, body = MapError(&lookup.Error{Kind: lookup.KindInternal, Message: "pq: relation does not exist"})
	assert.Equal(t, "Internal server error", body.Error)
}

func TestWriteError_SetsRetryAfterHeader(t *testing.T) {
	h := New(nil, nil, nil)
	rr := httptest.NewRecorder()
	h.writeError(rr, httptest.NewRequest(http.MethodPost, "/api/locate", nil),
		&lookup.Error{Kind: lookup.KindRateLimited, Message: "wait", RetryAfter: 7})

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "7", rr.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"wait","retryAfter":7}`, rr.Body.String())
}

func TestHealth_Degraded(t *testing.T) {
	h := Health(map[string]Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("refused") },
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"ok","redis":"unavailable"}}`, rr.Body.String())
}
