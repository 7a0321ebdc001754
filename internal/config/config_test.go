package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.Upstream.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Upstream.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Upstream.AttemptTimeout)
	assert.Equal(t, 60*time.Second, cfg.Lookup.RateLimitWindow)
	assert.Equal(t, 5*time.Minute, cfg.Lookup.CacheWindow)
	assert.Equal(t, SingleFlightLocal, cfg.Lookup.SingleFlight)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.UpstreamConfigured())
	assert.False(t, cfg.RateLimit.TrustProxy)
}

func TestLoad_UpstreamFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOCATION_API_URL", "https://locate.example.com/query")
	t.Setenv("LOCATION_API_USERNAME", "svc")
	t.Setenv("LOCATION_API_PASSWORD", "pw")
	t.Setenv("LOCATION_API_RETRY_DELAY", "250")
	t.Setenv("LOCATION_API_ATTEMPT_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.UpstreamConfigured())
	assert.Equal(t, 250*time.Millisecond, cfg.Upstream.RetryDelay)
	assert.Equal(t, 3*time.Second, cfg.Upstream.AttemptTimeout)
}

func TestLoad_MissingUpstreamIsNotFatal(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOCATION_API_URL", "")

	_, err := Load()
	assert.NoError(t, err)
}

func TestLoad_CacheWindowMustExceedRateWindow(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOOKUP_RATE_WINDOW", "5m")
	t.Setenv("LOOKUP_CACHE_WINDOW", "5m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOOKUP_CACHE_WINDOW")
}

func TestLoad_JWTProviderNeedsSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_PROVIDER", "jwt")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_SessionProviderWithoutSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_PROVIDER", "session")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AuthProviderSession, cfg.Auth.Provider)
}

func TestValidate_UnknownSingleFlightPolicy(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOOKUP_SINGLEFLIGHT", "mutex")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_ZeroAttempts(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOCATION_API_MAX_ATTEMPTS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, parseOrigins(" https://a.example, ,https://b.example "))
}

func TestGetEnvAsDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvAsDuration("SOME_DURATION", time.Minute))
}

func TestLoad_TrustProxy(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RateLimit.TrustProxy)
}

func TestUpstreamWorstCase_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 33*time.Second, cfg.UpstreamWorstCase())
}

func TestValidate_RedisLockMustOutliveUpstream(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOOKUP_SINGLEFLIGHT", "redis")

	_, err := Load()
	require.NoError(t, err)

	t.Setenv("LOCATION_API_ATTEMPT_TIMEOUT", "20s")
	_, err = Load()
	assert.ErrorContains(t, err, "LOOKUP_LOCK_TTL")

	t.Setenv("LOOKUP_LOCK_TTL", "90s")
	_, err = Load()
	assert.NoError(t, err)
}

func TestValidate_LocalGuardIgnoresLockTTL(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LOCATION_API_ATTEMPT_TIMEOUT", "20s")

	_, err := Load()
	assert.NoError(t, err)
}
