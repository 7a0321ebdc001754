package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/go-chi/chi/v5"
)

type latestResponse struct {
	Success  bool             `json:"success"`
	Location *models.Location `json:"location"`
}

type historyResponse struct {
	Success   bool                    `json:"success"`
	Locations []models.LocationRecord `json:"locations"`
	Count     int                     `json:"count"`
}

// LatestLocation handles GET /api/devices/{id}/location.
func (h *Handler) LatestLocation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Latest(r.Context(), bearer(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, NoObservationResponse{
			Success: false,
			Error:   "No location recorded yet",
			Details: &NoObservationDetails{
				Reason:     "no_history",
				Suggestion: "Request a lookup to fetch the first position.",
			},
		})
		return
	}

	loc := rec.Location()
	writeJSON(w, http.StatusOK, latestResponse{Success: true, Location: &loc})
}

// History handles GET /api/devices/{id}/history?limit=&before=.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	var before *time.Time
	if v := q.Get("before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "before must be an RFC 3339 timestamp"})
			return
		}
		before = &ts
	}

	recs, err := h.svc.History(r.Context(), bearer(r), chi.URLParam(r, "id"), limit, before)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Locations: recs, Count: len(recs)})
}
