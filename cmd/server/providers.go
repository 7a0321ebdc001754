package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/AnshRaj112/tagtrack-backend/internal/audit"
	"github.com/AnshRaj112/tagtrack-backend/internal/auth"
	"github.com/AnshRaj112/tagtrack-backend/internal/config"
	"github.com/AnshRaj112/tagtrack-backend/internal/database"
	"github.com/AnshRaj112/tagtrack-backend/internal/handlers"
	"github.com/AnshRaj112/tagtrack-backend/internal/lookup"
	"github.com/AnshRaj112/tagtrack-backend/internal/metrics"
	"github.com/AnshRaj112/tagtrack-backend/internal/middleware"
	"github.com/AnshRaj112/tagtrack-backend/internal/realtime"
	"github.com/AnshRaj112/tagtrack-backend/internal/routes"
	"github.com/AnshRaj112/tagtrack-backend/internal/store"
	"github.com/AnshRaj112/tagtrack-backend/internal/upstream"
	"github.com/AnshRaj112/tagtrack-backend/pkg/sealer"
)

const connectTimeout = 10 * time.Second

// RateLimit is the per-IP limiter applied to the API routes.
type RateLimit func(http.Handler) http.Handler

// ProvidePostgres connects, creates the schema and closes the pool on stop.
func ProvidePostgres(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := database.ConnectPostgres(ctx, cfg.PostgresURI)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("closing PostgreSQL pool")
			return db.Close()
		},
	})
	return db, nil
}

// ProvideRedis connects to Redis and closes the client on stop.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := database.ConnectRedis(ctx, cfg.RedisURI)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to Redis")

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func ProvideStore(db *sql.DB) *store.Postgres {
	return store.NewPostgres(db)
}

// ProvideRegistry creates a private registry carrying the Go and process
// collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(cfg *config.Config, reg *prometheus.Registry) metrics.Recorder {
	return metrics.New(cfg.MetricsEnabled, reg)
}

func ProvideUpstream(cfg *config.Config, logger *zap.Logger, rec metrics.Recorder) *upstream.Client {
	if !cfg.UpstreamConfigured() {
		logger.Warn("location API is not configured; lookups that need a fetch will fail")
	}
	return upstream.NewClient(upstream.Config{
		URL:            cfg.Upstream.URL,
		Username:       cfg.Upstream.Username,
		Password:       cfg.Upstream.Password,
		MaxAttempts:    cfg.Upstream.MaxAttempts,
		RetryDelay:     cfg.Upstream.RetryDelay,
		AttemptTimeout: cfg.Upstream.AttemptTimeout,
	}, logger, rec)
}

func ProvideAuth(cfg *config.Config, client *redis.Client) (auth.Provider, error) {
	switch cfg.Auth.Provider {
	case config.AuthProviderJWT:
		return auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience), nil
	case config.AuthProviderSession:
		return auth.NewSessionProvider(client), nil
	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.Auth.Provider)
	}
}

func ProvideGuard(cfg *config.Config, client *redis.Client, logger *zap.Logger) lookup.Guard {
	switch cfg.Lookup.SingleFlight {
	case config.SingleFlightRedis:
		return lookup.NewRedisGuard(client, cfg.Lookup.LockTTL, logger)
	case config.SingleFlightNone:
		return lookup.NoopGuard{}
	default:
		return lookup.NewLocalGuard()
	}
}

func ProvideSealer(cfg *config.Config, logger *zap.Logger) (*sealer.Sealer, error) {
	s, err := sealer.New(cfg.KeyEncryptionKey)
	if err != nil {
		return nil, err
	}
	if s == nil {
		logger.Info("KEY_ENCRYPTION_KEY not set; device keys are read as stored")
	}
	return s, nil
}

func ProvidePublisher(client *redis.Client) *realtime.Publisher {
	return realtime.NewPublisher(client)
}

// ProvideHub starts the shared Redis listener with the application.
func ProvideHub(lc fx.Lifecycle, client *redis.Client, logger *zap.Logger) *realtime.Hub {
	hub := realtime.NewHub(client, logger)
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			hub.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return hub
}

// ProvideAuditSink records upstream calls in MongoDB when MONGODB_URI is set.
func ProvideAuditSink(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (audit.Sink, error) {
	if cfg.MongoURI == "" {
		logger.Info("MONGODB_URI not set; upstream audit log disabled")
		return audit.NopSink{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	sink := audit.NewMongoSink(db, logger)
	if err := sink.EnsureIndexes(ctx); err != nil {
		logger.Warn("failed to create audit indexes", zap.Error(err))
	}
	logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return errors.Join(sink.Close(ctx), database.DisconnectMongo(ctx, db))
		},
	})
	return sink, nil
}

// ProvideRateLimit uses the in-process limiter in production and the shared
// Redis counter elsewhere.
func ProvideRateLimit(lc fx.Lifecycle, cfg *config.Config, client *redis.Client, logger *zap.Logger) RateLimit {
	rl := cfg.RateLimit
	if !cfg.IsProduction() {
		return middleware.NewRedisLimiter(client, rl.Requests, rl.Window, rl.TrustProxy, logger).Handler
	}

	limiter := middleware.NewIPLimiter(rl.Requests, rl.Window, rl.TrustProxy)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go limiter.Cleanup(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return limiter.Handler
}

type serviceParams struct {
	fx.In

	Config    *config.Config
	Store     *store.Postgres
	Auth      auth.Provider
	Upstream  *upstream.Client
	Guard     lookup.Guard
	Sealer    *sealer.Sealer
	Publisher *realtime.Publisher
	Audit     audit.Sink
	Metrics   metrics.Recorder
	Logger    *zap.Logger
}

func ProvideService(p serviceParams) *lookup.Service {
	return lookup.NewService(lookup.Deps{
		Devices:   p.Store,
		Locations: p.Store,
		Auth:      p.Auth,
		Fetcher:   p.Upstream,
		Policy: lookup.Policy{
			RateLimitWindow: p.Config.Lookup.RateLimitWindow,
			CacheWindow:     p.Config.Lookup.CacheWindow,
		},
		Guard:     p.Guard,
		Sealer:    p.Sealer,
		Publisher: p.Publisher,
		Audit:     p.Audit,
		Metrics:   p.Metrics,
		Logger:    p.Logger,
	})
}

func ProvideHandler(svc *lookup.Service, hub *realtime.Hub, logger *zap.Logger) *handlers.Handler {
	return handlers.New(svc, hub, logger)
}

type routerParams struct {
	fx.In

	Config    *config.Config
	Handler   *handlers.Handler
	DB        *sql.DB
	Redis     *redis.Client
	Registry  *prometheus.Registry
	Metrics   metrics.Recorder
	RateLimit RateLimit
	Logger    *zap.Logger
}

func ProvideRouter(p routerParams) *chi.Mux {
	opts := routes.Options{
		AllowedOrigins: p.Config.AllowedOrigins,
		Production:     p.Config.IsProduction(),
		Metrics:        p.Metrics,
		Health: map[string]handlers.Checker{
			"postgres": p.DB.PingContext,
			"redis": func(ctx context.Context) error {
				return p.Redis.Ping(ctx).Err()
			},
		},
		Logger:    p.Logger,
		RateLimit: p.RateLimit,
	}
	if p.Config.MetricsEnabled {
		opts.MetricsHandler = promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
	}
	return routes.NewRouter(p.Handler, opts)
}

func startServer(lc fx.Lifecycle, cfg *config.Config, router *chi.Mux, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}
			logger.Info("server listening",
				zap.String("addr", srv.Addr),
				zap.String("env", cfg.Environment),
				zap.String("single_flight", cfg.Lookup.SingleFlight))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
