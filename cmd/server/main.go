package main

import (
	"context"
	"errors"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/taskledger/api/handler"
	"github.com/fastygo/taskledger/engine"
	"github.com/fastygo/taskledger/internal/config"
	"github.com/fastygo/taskledger/internal/middleware"
	"github.com/fastygo/taskledger/internal/router"
	"github.com/fastygo/taskledger/internal/services/lifecycle"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	"github.com/fastygo/taskledger/pkg/logger"
	"github.com/fastygo/taskledger/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	eng, err := engine.New(appCtx, cfg, engine.Options{Logger: zapLogger})
	if err != nil {
		zapLogger.Fatal("engine setup failed", zap.Error(err))
	}
	manager.Register("engine", eng.Close)

	if err := eng.Start(appCtx); err != nil {
		zapLogger.Fatal("engine start failed", zap.Error(err))
	}
	manager.Go(appCtx, "change_feed", eng.Run)
	manager.Go(appCtx, "sync_events", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-eng.Events():
				zapLogger.Warn("record not synced",
					zap.String("collection", ev.Collection),
					zap.String("id", ev.ID),
					zap.Int("attempts", ev.Attempts),
					zap.Bool("parked", ev.Parked),
					zap.Error(ev.Err))
			}
		}
	})

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Task:         apiHandler.NewTaskHandler(eng.Tasks, ctxAdapter, zapLogger),
		Evidence:     apiHandler.NewEvidenceHandler(eng.Evidence, ctxAdapter, zapLogger),
		Ledger:       apiHandler.NewLedgerHandler(eng.Ledger, ctxAdapter, zapLogger),
		Notification: apiHandler.NewNotificationHandler(eng.Notifications, ctxAdapter, zapLogger),
		Sync: apiHandler.NewSyncHandler(eng, map[string]apiHandler.UnsyncedLister{
			repository.CollectionTasks:         eng.Tasks,
			repository.CollectionEvidence:      eng.Evidence,
			repository.CollectionLedgerEntries: eng.Ledger,
			repository.CollectionNotifications: eng.Notifications,
		}, ctxAdapter, zapLogger),
		Health: apiHandler.NewHealthHandler(eng.Monitor, ctxAdapter, zapLogger),
	}

	var registry *prometheus.Registry
	if cfg.HTTP.EnableMetrics {
		registry = eng.Registry()
	}

	authMiddleware := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer, zapLogger)
	r := router.New(handlers, authMiddleware, registry)

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	<-appCtx.Done()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.Context.ShutdownTimeout)
	defer waitCancel()
	if err := manager.Wait(waitCtx); err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Error("background worker failed", zap.Error(err))
	}

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
