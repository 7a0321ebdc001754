package lookup

import (
	"testing"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPolicy_Evaluate(t *testing.T) {
	p := Policy{RateLimitWindow: 60 * time.Second, CacheWindow: 300 * time.Second}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(age time.Duration) *models.LocationRecord {
		return &models.LocationRecord{Timestamp: now.Add(-age)}
	}

	cases := []struct {
		name       string
		last       *models.LocationRecord
		decision   Decision
		retryAfter int
	}{
		{"no history", nil, DecisionFetch, 0},
		{"just written", at(0), DecisionRateLimited, 60},
		{"15s old", at(15 * time.Second), DecisionRateLimited, 45},
		{"partial second rounds up", at(59*time.Second + 500*time.Millisecond), DecisionRateLimited, 1},
		{"fractional age", at(10*time.Second + 200*time.Millisecond), DecisionRateLimited, 50},
		{"rate window boundary", at(60 * time.Second), DecisionCached, 0},
		{"inside cache window", at(299 * time.Second), DecisionCached, 0},
		{"cache window boundary", at(300 * time.Second), DecisionFetch, 0},
		{"stale", at(time.Hour), DecisionFetch, 0},
		{"future timestamp", at(-30 * time.Second), DecisionRateLimited, 60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, retry := p.Evaluate(tc.last, now)
			assert.Equal(t, tc.decision, d)
			assert.Equal(t, tc.retryAfter, retry)
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "fetch", DecisionFetch.String())
	assert.Equal(t, "rate_limited", DecisionRateLimited.String())
	assert.Equal(t, "cached", DecisionCached.String())
}
