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

	"go.uber.org/zap"

	"attendance-gateway/config"
	"attendance-gateway/internal/api"
	"attendance-gateway/internal/attendance"
	"attendance-gateway/internal/db"
	"attendance-gateway/internal/logger"
	"attendance-gateway/internal/mw"
	"attendance-gateway/internal/poller"
	"attendance-gateway/internal/store"
	"attendance-gateway/internal/terminal"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format, "attendanced")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	zl.Info("Configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, zl)
	if err != nil {
		zl.Fatal("Failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	sm := attendance.NewStateMachine(
		time.Duration(cfg.Attendance.StaleSessionHours)*time.Hour,
		cfg.Attendance.DefaultBreakMinutes,
	)
	pipeline := attendance.NewPipeline(appStore, sm, attendance.AllowAll{}, zl)

	dialer := &terminal.Dialer{
		Defaults: terminal.Config{
			Port:       cfg.Terminal.DefaultPort,
			DeviceCode: cfg.Terminal.DefaultDeviceCode,
			Timeout:    cfg.Terminal.Timeout,
			ChunkSize:  cfg.Terminal.ChunkSize,
		},
		Location: cfg.Terminal.Location,
		Logger:   zl,
	}
	guard := terminal.NewGuard()

	pollerSvc := poller.NewService(cfg.Poller, appStore, pipeline, poller.TerminalOpener(dialer), zl).UseGuard(guard)
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		pollerSvc.Run(ctx)
	}()

	handler := api.NewHandler(appStore, pipeline, api.TerminalOpener(dialer), api.Options{
		WebhookToken: cfg.Server.WebhookToken,
		Location:     cfg.Terminal.Location,
		Guard:        guard,
		Cache:        mw.NewResponseCache(time.Duration(cfg.Server.CacheTTLSeconds) * time.Second),
		Syncer:       pollerSvc,
	}, zl)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		zl.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	zl.Info("Shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP server Shutdown", zap.Error(err))
	}
	cancel()
	select {
	case <-pollerDone:
	case <-shutdownCtx.Done():
		zl.Warn("Poller did not stop before the shutdown deadline")
	}

	zl.Info("Server gracefully stopped")
}
