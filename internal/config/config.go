package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/validate"
)

// Single-flight policies for concurrent lookups of the same device.
const (
	SingleFlightNone  = "none"
	SingleFlightLocal = "local"
	SingleFlightRedis = "redis"
)

// Identity providers for bearer credentials.
const (
	AuthProviderJWT     = "jwt"
	AuthProviderSession = "session"
)

type Config struct {
	ServiceName      string
	Port             string `validate:"required"`
	Environment      string // ENV: production, development, etc.
	LogLevel         string `validate:"required|in:debug,info,warn,error"`
	AllowedOrigins   []string
	PostgresURI      string `validate:"required"`
	RedisURI         string `validate:"required"`
	MongoURI         string // optional: enables the upstream audit log
	MongoDatabase    string
	MetricsEnabled   bool
	KeyEncryptionKey string // base64, 32 bytes; only needed when key columns hold sealed values

	Auth      AuthConfig
	Upstream  UpstreamConfig
	Lookup    LookupConfig
	RateLimit RateLimitConfig
}

// AuthConfig selects how bearer credentials are resolved to a user.
type AuthConfig struct {
	Provider    string `validate:"required|in:jwt,session"`
	JWTSecret   string
	JWTAudience string
}

// UpstreamConfig holds the third-party location API settings. URL and
// credentials may be empty; lookups then fail with a configuration error.
type UpstreamConfig struct {
	URL            string
	Username       string
	Password       string
	MaxAttempts    int `validate:"required|min:1"`
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
}

// LookupConfig holds the freshness windows and the duplicate-lookup policy.
type LookupConfig struct {
	RateLimitWindow time.Duration
	CacheWindow     time.Duration
	SingleFlight    string `validate:"required|in:none,local,redis"`
	LockTTL         time.Duration
}

// RateLimitConfig bounds requests per client IP across all API routes.
type RateLimitConfig struct {
	Requests   int `validate:"required|min:1"`
	Window     time.Duration
	TrustProxy bool // key on the first X-Forwarded-For entry
}

// Load reads the configuration from the environment once at startup.
func Load() (*Config, error) {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	cfg := &Config{
		ServiceName:      getEnv("SERVICE_NAME", "tagtrack-backend"),
		Port:             getEnv("PORT", "8080"),
		Environment:      env,
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins:   parseOrigins(getEnv("ALLOWED_ORIGINS", "*")),
		PostgresURI:      getEnv("POSTGRES_URI", "postgres://localhost:5432/tagtrack?sslmode=disable"),
		RedisURI:         getEnv("REDIS_URI", "redis://localhost:6379/0"),
		MongoURI:         getEnv("MONGODB_URI", ""),
		MongoDatabase:    getEnv("MONGODB_DATABASE", "tagtrack"),
		MetricsEnabled:   getEnvAsBool("METRICS_ENABLED", true),
		KeyEncryptionKey: getEnv("KEY_ENCRYPTION_KEY", ""),
		Auth: AuthConfig{
			Provider:    strings.ToLower(getEnv("AUTH_PROVIDER", AuthProviderJWT)),
			JWTSecret:   getEnv("JWT_SECRET", ""),
			JWTAudience: getEnv("JWT_AUDIENCE", "authenticated"),
		},
		Upstream: UpstreamConfig{
			URL:            getEnv("LOCATION_API_URL", ""),
			Username:       getEnv("LOCATION_API_USERNAME", ""),
			Password:       getEnv("LOCATION_API_PASSWORD", ""),
			MaxAttempts:    getEnvAsInt("LOCATION_API_MAX_ATTEMPTS", 3),
			RetryDelay:     getEnvAsDuration("LOCATION_API_RETRY_DELAY", time.Second),
			AttemptTimeout: getEnvAsDuration("LOCATION_API_ATTEMPT_TIMEOUT", 10*time.Second),
		},
		Lookup: LookupConfig{
			RateLimitWindow: getEnvAsDuration("LOOKUP_RATE_WINDOW", 60*time.Second),
			CacheWindow:     getEnvAsDuration("LOOKUP_CACHE_WINDOW", 5*time.Minute),
			SingleFlight:    strings.ToLower(getEnv("LOOKUP_SINGLEFLIGHT", SingleFlightLocal)),
			LockTTL:         getEnvAsDuration("LOOKUP_LOCK_TTL", 45*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests:   getEnvAsInt("IP_RATE_LIMIT_REQUESTS", 30),
			Window:     getEnvAsDuration("IP_RATE_LIMIT_WINDOW", time.Minute),
			TrustProxy: getEnvAsBool("TRUST_PROXY", false),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field rules and the cross-field invariants.
func Validate(cfg *Config) error {
	for name, target := range map[string]interface{}{
		"config":    cfg,
		"auth":      &cfg.Auth,
		"upstream":  &cfg.Upstream,
		"lookup":    &cfg.Lookup,
		"ratelimit": &cfg.RateLimit,
	} {
		v := validate.Struct(target)
		if !v.Validate() {
			return fmt.Errorf("invalid %s configuration: %s", name, v.Errors.Error())
		}
	}

	if cfg.Lookup.RateLimitWindow <= 0 {
		return fmt.Errorf("LOOKUP_RATE_WINDOW must be positive")
	}
	// The cache window must strictly contain the rate-limit window.
	if cfg.Lookup.CacheWindow <= cfg.Lookup.RateLimitWindow {
		return fmt.Errorf("LOOKUP_CACHE_WINDOW (%s) must be greater than LOOKUP_RATE_WINDOW (%s)",
			cfg.Lookup.CacheWindow, cfg.Lookup.RateLimitWindow)
	}
	if cfg.Upstream.AttemptTimeout <= 0 {
		return fmt.Errorf("LOCATION_API_ATTEMPT_TIMEOUT must be positive")
	}
	if cfg.Upstream.RetryDelay < 0 {
		return fmt.Errorf("LOCATION_API_RETRY_DELAY must not be negative")
	}
	if cfg.Auth.Provider == AuthProviderJWT && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_PROVIDER=jwt")
	}
	if cfg.Lookup.SingleFlight == SingleFlightRedis && cfg.Lookup.LockTTL <= 0 {
		return fmt.Errorf("LOOKUP_LOCK_TTL must be positive when LOOKUP_SINGLEFLIGHT=redis")
	}
	// The lock must outlive a refresh that exhausts every attempt.
	if worst := cfg.UpstreamWorstCase(); cfg.Lookup.SingleFlight == SingleFlightRedis && cfg.Lookup.LockTTL <= worst {
		return fmt.Errorf("LOOKUP_LOCK_TTL (%s) must exceed the worst-case upstream time (%s)", cfg.Lookup.LockTTL, worst)
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("IP_RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

// UpstreamWorstCase is the longest a refresh can spend upstream: every
// attempt timing out plus the linear backoff between attempts.
func (c *Config) UpstreamWorstCase() time.Duration {
	n := time.Duration(c.Upstream.MaxAttempts)
	return n*c.Upstream.AttemptTimeout + c.Upstream.RetryDelay*n*(n-1)/2
}

// UpstreamConfigured reports whether the location API can be called at all.
func (c *Config) UpstreamConfigured() bool {
	return c.Upstream.URL != "" && c.Upstream.Username != "" && c.Upstream.Password != ""
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("90s", "5m") or plain
// milliseconds ("1500").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
