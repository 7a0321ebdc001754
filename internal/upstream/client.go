package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/metrics"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned before any attempt when the endpoint or the
// Basic credentials are missing.
var ErrNotConfigured = errors.New("location API is not configured")

// maxBodyBytes caps how much of an upstream body is read per attempt.
const maxBodyBytes = 1 << 20

type Config struct {
	URL            string
	Username       string
	Password       string
	MaxAttempts    int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
}

// Request carries the device fields the upstream needs.
type Request struct {
	AccessoryID  string
	HashedAdvKey string
	PrivateKey   string
}

type payload struct {
	AccessoryID string   `json:"accessoryId"`
	HashedKeys  []string `json:"hashed_keys"`
	PrivKeys    []string `json:"priv_keys"`
}

// Response is a successful (2xx) upstream answer.
type Response struct {
	StatusCode int
	Body       []byte
	Attempts   int
}

// StatusError is a non-2xx answer: either a 4xx returned immediately or the
// last 5xx after retries ran out.
type StatusError struct {
	StatusCode int
	Body       []byte
	Attempts   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("location API returned status %d after %d attempt(s)", e.StatusCode, e.Attempts)
}

// TransportError means no attempt produced an HTTP response.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("location API unreachable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Attempts reports how many attempts err took, or 0 if it is not an
// upstream error.
func Attempts(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Attempts
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Attempts
	}
	return 0
}

// Client calls the third-party location API with bounded retries.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *zap.Logger
	metrics metrics.Recorder
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, logger *zap.Logger, rec metrics.Recorder) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Client{
		cfg: cfg,
		// Per-attempt deadlines come from the request context.
		http:    &http.Client{},
		logger:  logger,
		metrics: rec,
		sleep:   sleepContext,
	}
}

// Configured reports whether the endpoint and credentials are all set.
func (c *Client) Configured() bool {
	return c.cfg.URL != "" && c.cfg.Username != "" && c.cfg.Password != ""
}

// Fetch posts req to the upstream. Attempts are sequential; each has its own
// timeout. Transport errors and 5xx are retried with linear backoff
// (RetryDelay * (attempt+1)); a 4xx is returned at once.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(payload{
		AccessoryID: req.AccessoryID,
		HashedKeys:  []string{req.HashedAdvKey},
		PrivKeys:    []string{req.PrivateKey},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	start := time.Now()
	var (
		lastStatus int
		lastBody   []byte
		lastErr    error
		attempts   int
	)

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		attempts = attempt + 1
		status, respBody, err := c.attempt(ctx, body)

		switch {
		case err != nil:
			lastStatus, lastBody, lastErr = 0, nil, err
			c.logger.Warn("location API request failed",
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", c.cfg.MaxAttempts),
				zap.Error(err))
		case status >= 200 && status < 300:
			c.metrics.ObserveUpstreamCall(status, attempts, time.Since(start))
			return &Response{StatusCode: status, Body: respBody, Attempts: attempts}, nil
		case status >= 400 && status < 500:
			c.metrics.ObserveUpstreamCall(status, attempts, time.Since(start))
			return nil, &StatusError{StatusCode: status, Body: respBody, Attempts: attempts}
		default:
			lastStatus, lastBody, lastErr = status, respBody, nil
			c.logger.Warn("location API server error",
				zap.Int("status", status),
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", c.cfg.MaxAttempts))
		}

		if attempt < c.cfg.MaxAttempts-1 {
			if err := c.sleep(ctx, c.cfg.RetryDelay*time.Duration(attempt+1)); err != nil {
				lastErr = err
				break
			}
		}
	}

	c.metrics.ObserveUpstreamCall(lastStatus, attempts, time.Since(start))
	if lastStatus == 0 {
		if lastErr == nil {
			lastErr = errors.New("no response")
		}
		return nil, &TransportError{Attempts: attempts, Err: lastErr}
	}
	return nil, &StatusError{StatusCode: lastStatus, Body: lastBody, Attempts: attempts}
}

// attempt performs one bounded request. The body is read inside the
// attempt's deadline.
func (c *Client) attempt(ctx context.Context, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	httpReq.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read upstream body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
