// Command keytool performs maintenance on device key material and sessions.
//
//	keytool seal [-dry-run]        seal plaintext key columns with KEY_ENCRYPTION_KEY
//	keytool session -user <uuid>   issue a session token for AUTH_PROVIDER=session
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/AnshRaj112/tagtrack-backend/internal/auth"
	"github.com/AnshRaj112/tagtrack-backend/internal/database"
	"github.com/AnshRaj112/tagtrack-backend/internal/logging"
	"github.com/AnshRaj112/tagtrack-backend/internal/store"
	"github.com/AnshRaj112/tagtrack-backend/pkg/sealer"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger, err := logging.NewLogger("tagtrack-keytool", envOr("LOG_LEVEL", "info"), false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "seal":
		err = runSeal(ctx, logger, os.Args[2:])
	case "session":
		err = runSession(ctx, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("keytool failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool seal [-dry-run] | keytool session -user <uuid>")
}

func runSeal(ctx context.Context, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	postgresURI := fs.String("postgres", os.Getenv("POSTGRES_URI"), "PostgreSQL connection URI")
	dryRun := fs.Bool("dry-run", false, "report devices that would be sealed without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := sealer.New(os.Getenv("KEY_ENCRYPTION_KEY"))
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("KEY_ENCRYPTION_KEY is required to seal keys")
	}

	db, err := database.ConnectPostgres(ctx, *postgresURI)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := sealDeviceKeys(ctx, store.NewPostgres(db), s, *dryRun, logger)
	if err != nil {
		return err
	}
	logger.Info("device keys sealed", zap.Int("devices", n), zap.Bool("dry_run", *dryRun))
	return nil
}

func runSession(ctx context.Context, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	redisURI := fs.String("redis", os.Getenv("REDIS_URI"), "Redis connection URI")
	user := fs.String("user", "", "user id the session belongs to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("invalid -user: %w", err)
	}

	client, err := database.ConnectRedis(ctx, *redisURI)
	if err != nil {
		return err
	}
	defer client.Close()

	token, err := auth.NewSessionProvider(client).CreateSession(ctx, userID)
	if err != nil {
		return err
	}
	logger.Info("session created", zap.String("user_id", userID.String()), zap.Duration("expires_in", auth.SessionDuration))
	fmt.Println(token)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
