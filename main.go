package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/veridata-io/veridata-engine/pkg/config"
	"github.com/veridata-io/veridata-engine/pkg/handlers"
	"github.com/veridata-io/veridata-engine/pkg/middleware"
	"github.com/veridata-io/veridata-engine/pkg/pool"
	"github.com/veridata-io/veridata-engine/pkg/query"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	specs, err := config.LoadConnections(cfg.ConnectionsFile)
	if err != nil {
		log.Fatalf("Failed to load connections from %s: %v", cfg.ConnectionsFile, err)
	}

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("connections_file", cfg.ConnectionsFile),
		zap.Int("connections", len(specs)),
		zap.Int("pool_max_size", cfg.Pool.MaxSize))

	registry := pool.NewRegistry(logger)
	svc := query.New(specs, cfg.Pool, registry, logger)

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewConnectionsHandler(svc, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(svc, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	go func() {
		logger.Info("Starting veridata-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Close every pool before exiting so remote databases see clean disconnects
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Server shutdown error", zap.Error(err))
	}
	if err := registry.Close(); err != nil {
		logger.Warn("Registry close error", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
