/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the sales KPI engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config.yaml + environment
  2. Build the zap logger
  3. Initialize SQLite store (runs migrations)
  4. Load thresholds.yaml and watch it for changes
  5. Choose the recomputation lock (Redis when configured, else in-process)
  6. Create API handler, router and pipeline scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file path (default: config.yaml)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the pipeline scheduler (waits for an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/sales.db"

  # Run with in-memory database and hourly pipeline
  PIPELINE_INTERVAL=1h ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

ENVIRONMENT:
  See config/config.go: SERVER_PORT, DB_PATH, LOG_LEVEL, REDIS_ADDR,
  PIPELINE_INTERVAL, THRESHOLDS_PATH, ...

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/sales-kpi-engine/api"
	"github.com/warp/sales-kpi-engine/config"
	"github.com/warp/sales-kpi-engine/lock"
	"github.com/warp/sales-kpi-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	// Flags
	configPath := flag.String("config", "config.yaml", "Config file path")
	port := flag.String("port", "", "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger.Named("sqlite")))
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()

	// Thresholds, hot reloaded
	thresholds, err := config.NewLoader(cfg.ThresholdsPath, logger.Named("thresholds"))
	if err != nil {
		logger.Fatal("Failed to load thresholds", zap.String("path", cfg.ThresholdsPath), zap.Error(err))
	}
	if stopWatch, err := thresholds.Watch(); err != nil {
		logger.Warn("Thresholds file not watched, changes need a restart", zap.Error(err))
	} else {
		defer stopWatch()
	}

	opts := []api.Option{api.WithSettings(api.SettingsFromConfig(cfg))}
	if cfg.Lock.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		locker, err := lock.NewRedis(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisDB, cfg.Lock.TTL, cfg.Lock.Wait, logger.Named("lock"))
		cancel()
		if err != nil {
			logger.Fatal("Failed to initialize recomputation lock", zap.Error(err))
		}
		defer locker.Close()
		opts = append(opts, api.WithLocker(locker))
		logger.Info("Using Redis recomputation lock", zap.String("addr", cfg.Lock.RedisAddr))
	}

	// Initialize handler
	handler := api.NewHandler(store, thresholds, logger, opts...)

	// Create router
	router := api.NewRouter(handler, cfg.Server.Origins())

	scheduler := api.NewPipelineScheduler(handler.Pipeline, cfg.Pipeline.Interval, cfg.Pipeline.HaltOnFail, logger.Named("scheduler"))
	handler.Scheduler = scheduler
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("addr", "http://localhost:"+cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("Server stopped")
}
