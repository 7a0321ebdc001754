package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/pkg/clientip"
	"golang.org/x/time/rate"
)

const (
	headerXContentTypeOptions     = "X-Content-Type-Options"
	headerXFrameOptions           = "X-Frame-Options"
	headerReferrerPolicy          = "Referrer-Policy"
	headerStrictTransportSecurity = "Strict-Transport-Security"
)

// SecurityHeaders sets security-related response headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerXContentTypeOptions, "nosniff")
		w.Header().Set(headerXFrameOptions, "DENY")
		w.Header().Set(headerReferrerPolicy, "no-referrer")
		w.Header().Set(headerStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterTTL             = 30 * time.Minute
)

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// IPLimiter is an in-process token bucket per client IP: requests tokens
// per window, refilled evenly.
type IPLimiter struct {
	mu         sync.Mutex
	entries    map[string]*limiterEntry
	every      time.Duration
	burst      int
	trustProxy bool
}

func NewIPLimiter(requests int, window time.Duration, trustProxy bool) *IPLimiter {
	if requests < 1 {
		requests = 1
	}
	return &IPLimiter{
		entries:    make(map[string]*limiterEntry),
		every:      window / time.Duration(requests),
		burst:      requests,
		trustProxy: trustProxy,
	}
}

func (l *IPLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.entries[ip] = e
	}
	e.lastUse = time.Now()
	return e.limiter
}

// Cleanup drops idle limiters until ctx is done.
func (l *IPLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		now := time.Now()
		for ip, e := range l.entries {
			if now.Sub(e.lastUse) > limiterTTL {
				delete(l.entries, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Handler returns 429 when the caller's bucket is empty.
func (l *IPLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientip.FromRequest(r, l.trustProxy)
		lim := l.get(ip)
		if !lim.Allow() {
			wait := int(l.every.Seconds())
			if wait < 1 {
				wait = 1
			}
			tooManyRequests(w, wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}
