package lookup

import (
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
)

// Decision is what the freshness policy says to do with a lookup.
type Decision int

const (
	DecisionFetch Decision = iota
	DecisionRateLimited
	DecisionCached
)

func (d Decision) String() string {
	switch d {
	case DecisionRateLimited:
		return "rate_limited"
	case DecisionCached:
		return "cached"
	default:
		return "fetch"
	}
}

// Policy applies both windows to the single most recent record.
// CacheWindow must be greater than RateLimitWindow.
type Policy struct {
	RateLimitWindow time.Duration
	CacheWindow     time.Duration
}

// Evaluate decides from the latest record's age. retryAfter is only set for
// DecisionRateLimited and is ceil((RateLimitWindow - age) / 1s). Records
// stamped in the future count as age zero.
func (p Policy) Evaluate(last *models.LocationRecord, now time.Time) (decision Decision, retryAfter int) {
	if last == nil {
		return DecisionFetch, 0
	}

	age := now.Sub(last.Timestamp)
	if age < 0 {
		age = 0
	}

	if age < p.RateLimitWindow {
		remaining := p.RateLimitWindow - age
		return DecisionRateLimited, int((remaining + time.Second - 1) / time.Second)
	}
	if age < p.CacheWindow {
		return DecisionCached, 0
	}
	return DecisionFetch, 0
}
