// Shepherd watches coding-agent terminal sessions, classifies what state
// they are in, and keeps them working or escalates to a human.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shepherd/shepherd/internal/common/config"
	"github.com/shepherd/shepherd/internal/common/httpmw"
	"github.com/shepherd/shepherd/internal/common/logger"
	"github.com/shepherd/shepherd/internal/events/bus"
	"github.com/shepherd/shepherd/internal/notifications"
	"github.com/shepherd/shepherd/internal/notifications/providers"
	"github.com/shepherd/shepherd/internal/session"
	"github.com/shepherd/shepherd/internal/session/local"
	"github.com/shepherd/shepherd/internal/session/tmux"
	"github.com/shepherd/shepherd/internal/supervisor"
	"github.com/shepherd/shepherd/internal/supervisor/api"
	"github.com/shepherd/shepherd/internal/supervisor/delivery"
	"github.com/shepherd/shepherd/internal/task/store"
	"github.com/shepherd/shepherd/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	log.Info("starting shepherd",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: NATS when configured, in-memory otherwise.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.String("url", cfg.NATS.URL), zap.Error(err))
		}
		eventBus = natsBus
		log.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("using in-memory event bus")
	}

	taskStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal("failed to open task store", zap.String("path", cfg.Database.Path), zap.Error(err))
	}

	notifier := notifications.NewService(log, map[string]interface{}{
		"urls": cfg.Notifications.AppriseURLs,
	})
	notifier.Register("bus", providers.NewBusProvider(eventBus))
	if len(cfg.Notifications.AppriseURLs) > 0 {
		notifier.Register("apprise", providers.NewAppriseProvider())
	}

	registry := session.NewRegistry()

	deliverer := delivery.New(delivery.Config{
		SettleInterval:     cfg.Supervisor.SettleInterval(),
		ConfirmationWindow: cfg.Supervisor.ConfirmationWindow(),
		MaxAttempts:        cfg.Supervisor.MaxDeliveryAttempts,
		BackoffBase:        cfg.Supervisor.BackoffBase(),
	}, log)

	controller := supervisor.NewController(registry, taskStore, deliverer, notifier, eventBus,
		supervisor.Config{MaxIterationsDefault: cfg.Supervisor.MaxIterationsDefault}, log)

	svc := supervisor.NewService(controller, eventBus, log)
	if err := svc.Start(ctx); err != nil {
		log.Fatal("failed to start supervisor service", zap.Error(err))
	}

	monitor := session.NewMonitor(registry, eventBus, session.MonitorConfig{
		Interval:      cfg.Supervisor.MonitorInterval(),
		IdleThreshold: cfg.Supervisor.IdleThreshold,
	}, log)
	go monitor.Run(ctx)

	// HTTP API
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "shepherd"))
	router.Use(httpmw.OtelTracing("shepherd"))

	handler := api.NewHandler(controller, taskStore, registry, eventBus, api.TransportConfig{
		Tmux: tmux.Config{
			SocketName:   cfg.Tmux.SocketName,
			CaptureLines: cfg.Tmux.CaptureLines,
		},
		Local: local.Config{
			Cols:        cfg.Supervisor.TerminalCols,
			Rows:        cfg.Supervisor.TerminalRows,
			WindowBytes: cfg.Supervisor.OutputWindowBytes,
		},
	}, log)
	handler.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	svc.Stop()

	for _, id := range registry.IDs() {
		registry.Remove(id)
	}

	if err := taskStore.Close(); err != nil {
		log.Error("task store close failed", zap.Error(err))
	}
	eventBus.Close()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", zap.Error(err))
	}

	log.Info("shepherd stopped")
}
