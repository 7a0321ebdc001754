package upstream

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/goccy/go-json"
)

// Reasons reported when a payload carries no usable observation.
const (
	ReasonNoResults          = "no_results"
	ReasonMissingCoordinates = "missing_coordinates"
)

// Observation is the normalized first result of an upstream payload.
// Found is false when there is nothing to persist; Reason says why.
type Observation struct {
	Location models.Location
	Found    bool
	Reason   string
}

var (
	latitudeKeys   = []string{"lat", "latitude"}
	longitudeKeys  = []string{"lon", "lng", "longitude"}
	confidenceKeys = []string{"conf", "confidence"}
	statusKeys     = []string{"status", "status_code"}
)

// Normalize decodes an upstream body and maps its first result to the
// canonical location shape. Any shape it does not recognise (bad JSON,
// results not a list, first entry not an object) counts as no results.
// The timestamp falls back to now when absent or unparsable.
func Normalize(body []byte, now time.Time) Observation {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Observation{Reason: ReasonNoResults}
	}
	results, ok := doc["results"].([]any)
	if !ok || len(results) == 0 {
		return Observation{Reason: ReasonNoResults}
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return Observation{Reason: ReasonNoResults}
	}

	loc := models.Location{
		Latitude:   lookupCoordinate(first, latitudeKeys, 90),
		Longitude:  lookupCoordinate(first, longitudeKeys, 180),
		Confidence: lookupFloat(first, confidenceKeys),
		StatusCode: lookupInt(first, statusKeys),
		Timestamp:  now.UTC(),
	}
	if ts, ok := parseTimestamp(first["timestamp"]); ok {
		loc.Timestamp = ts
	}

	if !loc.HasCoordinates() {
		return Observation{Location: loc, Reason: ReasonMissingCoordinates}
	}
	return Observation{Location: loc, Found: true}
}

func lookupFloat(m map[string]any, keys []string) *float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return &f
		}
	}
	return nil
}

// lookupCoordinate drops values outside [-limit, limit].
func lookupCoordinate(m map[string]any, keys []string, limit float64) *float64 {
	f := lookupFloat(m, keys)
	if f == nil || math.Abs(*f) > limit {
		return nil
	}
	return f
}

// lookupInt keeps whole numbers that fit the int32 status_code column.
func lookupInt(m map[string]any, keys []string) *int {
	f := lookupFloat(m, keys)
	if f == nil || *f != math.Trunc(*f) || *f < math.MinInt32 || *f > math.MaxInt32 {
		return nil
	}
	i := int(*f)
	return &i
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts ISO-8601 strings and unix epochs. Numbers above
// 1e11 are taken as milliseconds, anything smaller as seconds.
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f)
		}
	case float64:
		return epoch(t)
	}
	return time.Time{}, false
}

func epoch(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Unix(int64(f), 0).UTC(), true
}
