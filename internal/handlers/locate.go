package handlers

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// maxLocateBody bounds the POST /api/locate body.
const maxLocateBody = 16 << 10

type locateRequest struct {
	DeviceID string `json:"deviceId"`
	// TagID is the field name older clients send.
	TagID string `json:"tagId"`
}

// Locate handles POST /api/locate.
func (h *Handler) Locate(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	data, err := io.ReadAll(io.LimitReader(r.Body, maxLocateBody))
	if err == nil && len(data) > 0 {
		// A malformed body is reported as an invalid device id below.
		_ = json.Unmarshal(data, &req)
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = req.TagID
	}

	res, err := h.svc.Locate(r.Context(), bearer(r), deviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.NoObservation != nil {
		writeJSON(w, http.StatusOK, NoObservationResponse{
			Success: false,
			Error:   res.NoObservation.Message,
			Details: &NoObservationDetails{
				Reason:     res.NoObservation.Reason,
				Suggestion: res.NoObservation.Suggestion,
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, LocationResponse{
		Success:  true,
		Location: res.Location,
		Cached:   res.Cached,
	})
}

// Preflight answers a bare OPTIONS /api/locate. Real CORS preflights are
// answered by the CORS middleware before routing.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
