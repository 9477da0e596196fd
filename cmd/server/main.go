package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kkuzar/pos_hub/internal/api"
	"github.com/kkuzar/pos_hub/internal/auth"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/logging"
	"github.com/kkuzar/pos_hub/internal/metrics"
	"github.com/kkuzar/pos_hub/internal/middleware"
	"github.com/kkuzar/pos_hub/internal/service"
	"github.com/kkuzar/pos_hub/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("Configuration warning", zap.String("detail", w))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Initialize Components ---
	auth.Init(&cfg.JWT)

	cacheAdapter := openCache(&cfg.Redis, logger)
	defer func() {
		if err := cacheAdapter.Close(); err != nil {
			logger.Warn("Error closing cache adapter", zap.Error(err))
		}
	}()

	storageAdapter, err := openStorage(ctx, &cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage adapter", zap.Error(err))
	}
	if storageAdapter != nil {
		defer func() {
			if err := storageAdapter.Close(); err != nil {
				logger.Warn("Error closing storage adapter", zap.Error(err))
			}
		}()
	}
	logger.Info("Storage adapter initialized", zap.String("type", cfg.Storage.Type))

	dbAdapter, err := openDatabase(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database adapter", zap.Error(err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := dbAdapter.Close(closeCtx); err != nil {
			logger.Warn("Error closing database adapter", zap.Error(err))
		}
	}()
	logger.Info("Database adapter initialized", zap.String("type", cfg.Database.Type))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hubMetrics := metrics.New(registry)

	appService := service.NewService(dbAdapter, storageAdapter, cacheAdapter, cfg, logger, service.WithMetrics(hubMetrics))

	wsHub := websocket.NewHub(logger, hubMetrics)
	go wsHub.Run()
	wsHandler := websocket.NewHandler(ctx, wsHub, appService, appService, cfg.Hub, cfg.Server.AllowedOrigins, logger, hubMetrics)
	go websocket.RunSweeper(ctx, wsHub, cfg.Hub.SweepInterval, cfg.Hub.IdleTimeout, logger.Named("sweeper"))
	logger.Info("WebSocket hub running")

	// --- Setup HTTP Server ---
	mux := http.NewServeMux()
	api.SetupRoutes(mux, appService, wsHub, wsHandler, registry, logger)
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           middleware.LoggingMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Start Server & Graceful Shutdown ---
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", serverAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Stop the sweeper and in-flight handler work, then close every socket.
	cancel()
	wsHub.Stop()

	logger.Info("Application shut down complete")
}
