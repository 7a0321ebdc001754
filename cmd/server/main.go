package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/AnshRaj112/tagtrack-backend/internal/config"
	"github.com/AnshRaj112/tagtrack-backend/internal/logging"
)

func main() {
	loadEnv()

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			config.Load,
			newLogger,
			ProvidePostgres,
			ProvideRedis,
			ProvideStore,
			ProvideRegistry,
			ProvideMetrics,
			ProvideUpstream,
			ProvideAuth,
			ProvideGuard,
			ProvideSealer,
			ProvidePublisher,
			ProvideHub,
			ProvideAuditSink,
			ProvideRateLimit,
			ProvideService,
			ProvideHandler,
			ProvideRouter,
		),
		fx.Invoke(startServer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tempLogger, _ := logging.NewLogger("tagtrack-backend", "info", false)
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("application did not start within 30s; check that PostgreSQL, Redis and MongoDB are reachable")
		}
		tempLogger.Fatal("failed to start application", zap.Error(err))
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}

// loadEnv loads the first .env found in the working directory or one of its
// two parents. A missing file is fine in containers.
func loadEnv() {
	paths := []string{".env", "../../.env"}
	if workDir, err := os.Getwd(); err == nil {
		parent := filepath.Dir(workDir)
		paths = append(paths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parent, ".env"),
			filepath.Join(filepath.Dir(parent), ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			abs, _ := filepath.Abs(path)
			fmt.Printf("Loaded environment from: %s\n", abs)
			return
		}
	}
	fmt.Println("No .env file found, using system environment variables")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel, cfg.IsProduction())
}
