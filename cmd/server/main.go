/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the recurring obligation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, optional .env) and apply flags
  2. Install telemetry exporters (when RECURRENCE_OTLP_ENDPOINT is set)
  3. Open the store and series locker, build the engine
  4. Configure HTTP router and start the sweeper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides RECURRENCE_ADDR)
  -db      Store DSN (overrides RECURRENCE_DSN)
           Use ":memory:" with the sqlite store for an in-memory database
  -env     Path to a .env file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush telemetry, close locker and store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/obligations.db"

  # Run against PostgreSQL with Redis locks
  RECURRENCE_STORE=postgres RECURRENCE_DSN=postgres://... \
  RECURRENCE_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Sweeper
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/api"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/config"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/internal/bootstrap"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/observability"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	port := flag.Int("port", 0, "HTTP server port")
	dsn := flag.String("db", "", "Store DSN (file path for sqlite and bolt)")
	envFile := flag.String("env", "", "Path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dsn != "" {
		cfg.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := bootstrap.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()
	telemetry, err := observability.Setup(ctx, observability.Config{
		ServiceName:    "recurrence-server",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
	}, logger)
	if err != nil {
		return err
	}

	engine, closeEngine, err := bootstrap.NewEngine(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer closeEngine()

	handler := api.NewHandler(engine, logger)
	var limiter *api.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	router := api.NewRouter(handler, api.RouterOptions{RateLimiter: limiter})

	sweeper := api.NewSweeper(engine, logger)
	sweeper.Interval = cfg.SweepInterval
	sweeper.Limiter = limiter
	sweeper.Start()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "store", cfg.Store, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		sweeper.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	telemetry.Shutdown(shutdownCtx)

	logger.Info("server stopped")
	return nil
}
