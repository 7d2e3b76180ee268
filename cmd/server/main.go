/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll hold service.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration (viper)
  2. Configure the zerolog logger
  3. Initialize SQLite store
  4. Pick the employee locker (Redis when redis_url is set)
  5. Wire calculator, ledger, workflow, processor and roster
  6. Configure HTTP router and start the server

COMMAND-LINE FLAGS:
  -config  Optional config file (yaml, json, toml or .env)
  -port    HTTP server port, overrides HOLDPAY_PORT
  -db      SQLite database path, overrides HOLDPAY_DB_PATH
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database and Redis connections
  4. Exit

EXAMPLES:
  # Development with an in-memory database and demo scenarios
  ./server -db=":memory:"

  # Production with a shared lock across instances
  HOLDPAY_ENV=production HOLDPAY_JWT_SECRET=... \
  HOLDPAY_REDIS_URL=redis://localhost:6379/0 ./server -db=/data/holdpay.db

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/holdpay/api"
	"github.com/warp/holdpay/auth"
	"github.com/warp/holdpay/config"
	"github.com/warp/holdpay/generic"
	"github.com/warp/holdpay/hold"
	"github.com/warp/holdpay/payroll"
	"github.com/warp/holdpay/store/redislock"
	"github.com/warp/holdpay/store/sqlite"
)

const devJWTSecret = "holdpay-development-secret"

func main() {
	// Flags
	configPath := flag.String("config", "", "Optional config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "holdpay").Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Employee locker
	var locker generic.Locker = generic.NewKeyedMutex()
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = redislock.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisLocker := redislock.New(rdb, cfg.LockTTL, redislock.DefaultRetryInterval)
		redisLocker.Logger = logger.With().Str("component", "redislock").Logger()
		locker = redisLocker
		logger.Info().Msg("using redis employee lock")
	} else {
		logger.Info().Msg("using in-process employee lock")
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = devJWTSecret
		logger.Warn().Msg("jwt_secret not set, using the development secret")
	}

	// Services
	calc := payroll.NewCalculator(cfg.DefaultHoldPercent)

	ledger := hold.NewLedger(store, logger.With().Str("component", "ledger").Logger())
	ledger.MaturityMonths = cfg.MaturityMonths

	workflow := hold.NewWorkflow(store, ledger, locker, logger.With().Str("component", "workflow").Logger())
	workflow.LockWait = cfg.LockWait

	processor := payroll.NewProcessor(store, calc, ledger, locker, logger.With().Str("component", "processor").Logger())
	processor.LockWait = cfg.LockWait

	roster := payroll.NewRoster(store, calc, logger.With().Str("component", "roster").Logger())

	handler := api.NewHandler(store, roster, processor, workflow, auth.NewTokens(secret), logger.With().Str("component", "api").Logger())
	handler.DevMode = cfg.IsDevelopment()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Int("port", cfg.Port).
			Str("db", cfg.DBPath).
			Str("env", cfg.Env).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
