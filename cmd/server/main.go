/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (file, SETTLEMENT_* env, defaults)
  3. Build the zap logger
  4. Open the store (SQLite, or in-memory for demos)
  5. Build the engine and API handler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override config):
  -config  Path to a config file (default: search ., ./config, /etc/settlement)
  -port    HTTP server port
  -db      SQLite database path; ":memory:" for an in-memory database
  -store   sqlite or memory

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/school.db"
  ./server -store=memory -port=3000
  SETTLEMENT_LOG_FORMAT=json SETTLEMENT_SETTLEMENT_MAX_RETRIES=5 ./server

SEE ALSO:
  - config/config.go: configuration sections
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

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/generic/store"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	driver := flag.String("store", "", "store driver: sqlite or memory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}

	logger, err := logging.New(&logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	txStore, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeStore()

	engine := generic.NewEngine(txStore, generic.Options{
		Logger:     logger.Named("engine"),
		MaxRetries: cfg.Settlement.MaxRetries,
		MaxPeriods: cfg.Generation.MaxPeriods,
	})
	handler := api.NewHandler(engine, logger, nil)
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:          logger.Named("http"),
		AllowedOrigins:  cfg.HTTP.CORSAllowOrigins,
		MaxBodySize:     cfg.HTTP.MaxBodySize,
		EnableScenarios: cfg.HTTP.EnableScenarios,
	})
	server := api.NewServer(":"+cfg.App.Port, router, api.ServerTimeouts{
		Read:  cfg.HTTP.ReadTimeout,
		Write: cfg.HTTP.WriteTimeout,
		Idle:  cfg.HTTP.IdleTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("store", cfg.Database.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(cfg *config.Config) (generic.TxStore, func(), error) {
	if cfg.Database.Driver == "memory" {
		return store.NewTxMemory(), func() {}, nil
	}
	s, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}
