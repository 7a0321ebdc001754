package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/AnshRaj112/tagtrack-backend/internal/lookup"
	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// LocationResponse is returned for a successful lookup.
type LocationResponse struct {
	Success  bool             `json:"success"`
	Location *models.Location `json:"location"`
	Cached   bool             `json:"cached"`
}

// NoObservationResponse is a 200 for a reachable device without a position.
type NoObservationResponse struct {
	Success bool                  `json:"success"`
	Error   string                `json:"error"`
	Details *NoObservationDetails `json:"details,omitempty"`
}

type NoObservationDetails struct {
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error      string        `json:"error"`
	Details    *ErrorDetails `json:"details,omitempty"`
	RetryAfter *int          `json:"retryAfter,omitempty"`
}

type ErrorDetails struct {
	Reason string `json:"reason"`
}

// MapError turns a pipeline failure into a status code and body. Internal
// detail stays in the logs.
func MapError(err error) (int, ErrorResponse) {
	var e *lookup.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"}
	}

	body := ErrorResponse{Error: e.Message}
	switch e.Kind {
	case lookup.KindInvalidArgument, lookup.KindKeysMissing:
		return http.StatusBadRequest, body
	case lookup.KindUnauthenticated:
		return http.StatusUnauthorized, body
	case lookup.KindPermissionDenied:
		return http.StatusForbidden, body
	case lookup.KindNotFound:
		return http.StatusNotFound, body
	case lookup.KindConfiguration:
		return http.StatusInternalServerError, body
	case lookup.KindRateLimited:
		retryAfter := e.RetryAfter
		body.RetryAfter = &retryAfter
		return http.StatusTooManyRequests, body
	case lookup.KindUpstreamUnavailable:
		if e.Reason != "" {
			body.Details = &ErrorDetails{Reason: e.Reason}
		}
		if e.UpstreamStatus >= 400 && e.UpstreamStatus <= 599 {
			return e.UpstreamStatus, body
		}
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := MapError(err)
	if status >= http.StatusInternalServerError && lookup.KindOf(err) != lookup.KindUpstreamUnavailable {
		requestLogger(h.logger, r).Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	if body.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*body.RetryAfter))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
