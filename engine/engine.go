// Package engine wires the record store, the asynchronous write path and the
// task, evidence, settlement and notification use cases into one unit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/internal/config"
	"github.com/fastygo/taskledger/internal/infrastructure/buffer"
	"github.com/fastygo/taskledger/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/taskledger/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/taskledger/internal/infrastructure/redis"
	"github.com/fastygo/taskledger/internal/metrics"
	"github.com/fastygo/taskledger/internal/retry"
	"github.com/fastygo/taskledger/internal/services"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/repository/memory"
	"github.com/fastygo/taskledger/repository/postgres"
	redisRepo "github.com/fastygo/taskledger/repository/redis"
	"github.com/fastygo/taskledger/repository/sqlite"
	"github.com/fastygo/taskledger/usecase"
	"github.com/fastygo/taskledger/usecase/evidence"
	"github.com/fastygo/taskledger/usecase/notification"
	"github.com/fastygo/taskledger/usecase/settlement"
	"github.com/fastygo/taskledger/usecase/task"
)

const eventBufferSize = 256

// Options overrides the components New would otherwise build from Config.
type Options struct {
	// Store replaces the configured driver.
	Store repository.RecordStore
	// Redis enables the shared notification suppressor with an existing client.
	Redis    *redislib.Client
	Registry *prometheus.Registry
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Engine is a running task-settlement pipeline.
type Engine struct {
	Tasks         *task.UseCase
	Evidence      *evidence.UseCase
	Ledger        *settlement.UseCase
	Notifications *notification.Dispatcher
	Monitor       *monitor.Monitor
	Metrics       *metrics.Metrics

	store     repository.RecordStore
	buffer    *buffer.Store
	writer    *services.Writer
	processor *services.SyncProcessor
	bridge    *services.RemoteBridge
	events    *usecase.EventBus
	feed      *usecase.Feed
	registry  *prometheus.Registry
	logger    *zap.Logger

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// New builds every component. Nothing talks to the remote store until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (eng *Engine, err error) {
	if cfg == nil {
		return nil, errors.New("engine: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Engine{
		registry: registry,
		logger:   logger,
		Metrics:  metrics.New(registry),
		events:   usecase.NewEventBus(eventBufferSize, logger),
	}
	defer func() {
		if err != nil {
			_ = e.closeResources(context.Background())
		}
	}()

	if e.store, err = e.openStore(ctx, cfg, opts.Store); err != nil {
		return nil, err
	}
	if e.buffer, err = buffer.Open(cfg.Buffer.Path, cfg.Buffer.Bucket); err != nil {
		return nil, fmt.Errorf("open sync buffer: %w", err)
	}
	e.onClose("buffer", func(context.Context) error { return e.buffer.Close() })

	redisClient := opts.Redis
	if redisClient == nil && cfg.Redis.Enabled {
		if redisClient, err = redisInfra.NewClient(ctx, cfg.Redis); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		e.onClose("redis", func(context.Context) error { return redisClient.Close() })
	}

	e.Monitor = monitor.New(e.store, redisClient, e.buffer, e.Metrics, cfg.Buffer.MonitorPeriod, logger.Named("monitor"))

	rc := retry.New(retry.Config{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay}, logger.Named("retry"), e.Metrics)
	e.writer = services.NewWriter(e.store, rc, e.buffer, logger.Named("writer"), e.Metrics)
	e.processor = services.NewSyncProcessor(e.buffer, e.writer, e.Monitor, logger.Named("sync"), e.Metrics, services.ProcessorConfig{
		Interval:  cfg.Buffer.SyncInterval,
		BatchSize: cfg.Buffer.BatchSize,
	})
	e.bridge = services.NewRemoteBridge(e.writer, e.processor)

	notifyOpts := []notification.Option{notification.WithMetrics(e.Metrics), notification.WithClock(opts.Clock)}
	if redisClient != nil {
		notifyOpts = append(notifyOpts, notification.WithSuppressor(redisRepo.NewSuppressor(redisClient)))
	}
	e.Notifications = notification.New(e.bridge, e.events, cfg.Notification.SuppressionWindow, logger.Named("notification"), notifyOpts...)
	e.Ledger = settlement.New(e.bridge, e.events, e.Notifications, logger.Named("settlement"),
		settlement.WithMetrics(e.Metrics), settlement.WithClock(opts.Clock))
	e.Tasks = task.New(e.bridge, e.events, e.Notifications, logger.Named("task"), task.WithClock(opts.Clock))
	if e.Evidence, err = evidence.New(e.bridge, e.events, e.Tasks, e.Ledger, e.Notifications, logger.Named("evidence"),
		evidence.WithClock(opts.Clock), evidence.WithMaxPayloadBytes(cfg.Evidence.MaxPayloadBytes)); err != nil {
		return nil, err
	}

	e.feed = usecase.NewFeed(e.store, logger.Named("feed"))
	e.feed.Register(repository.CollectionTasks, e.Tasks.Reconcile)
	e.feed.Register(repository.CollectionEvidence, e.Evidence.Reconcile)
	e.feed.Register(repository.CollectionLedgerEntries, e.Ledger.Reconcile)
	e.feed.Register(repository.CollectionNotifications, e.Notifications.Reconcile)

	return e, nil
}

func (e *Engine) openStore(ctx context.Context, cfg *config.Config, override repository.RecordStore) (repository.RecordStore, error) {
	if override != nil {
		return override, nil
	}
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Store.SQLitePath, sqlite.WithPollInterval(cfg.Store.PollInterval))
		if err != nil {
			return nil, err
		}
		e.onClose("sqlite", func(context.Context) error { return store.Close() })
		return store, nil
	case config.DriverPostgres:
		if err := pgInfra.RunMigrations(cfg, e.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		pool, err := pgInfra.NewPool(ctx, cfg.Database, e.logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		e.onClose("postgres", func(context.Context) error {
			pgInfra.Close(pool, e.logger)
			return nil
		})
		return postgres.NewRecordStore(pool, e.logger.Named("records")), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Start restores parked mutations, loads the remote state and starts the
// monitor and the periodic sync. An unreachable store is not fatal: the
// engine keeps serving its local state and syncs once the store returns.
func (e *Engine) Start(ctx context.Context) error {
	restorers := []struct {
		name string
		fn   func() error
	}{
		{repository.CollectionTasks, e.Tasks.Restore},
		{repository.CollectionEvidence, e.Evidence.Restore},
		{repository.CollectionLedgerEntries, e.Ledger.Restore},
		{repository.CollectionNotifications, e.Notifications.Restore},
	}
	for _, r := range restorers {
		if err := r.fn(); err != nil {
			return fmt.Errorf("restore %s: %w", r.name, err)
		}
	}

	e.Monitor.Start()
	if e.Monitor.IsOnline() {
		if err := e.feed.Load(ctx); err != nil {
			e.logger.Warn("initial load failed, serving local state", zap.Error(err))
		}
	} else {
		e.logger.Warn("record store unreachable at start, serving local state")
	}
	e.processor.Start()
	return nil
}

// Run follows the change feed until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	return e.feed.Run(ctx)
}

// Sync drains the sync buffer now.
func (e *Engine) Sync(ctx context.Context) (usecase.SyncSummary, error) {
	return e.bridge.Sync(ctx)
}

// Events reports remote writes that failed.
func (e *Engine) Events() <-chan usecase.SyncEvent {
	return e.events.Events()
}

// Registry holds the engine's metrics.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Settle blocks until every scheduled remote write has finished.
func (e *Engine) Settle() {
	e.writer.Wait()
}

// Close stops the background work, parks unfinished writes and releases
// every resource, in reverse order of acquisition.
func (e *Engine) Close(ctx context.Context) error {
	e.processor.Stop(ctx)
	e.Monitor.Stop()
	var errs []error
	if err := e.writer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("writer: %w", err))
	}
	e.Evidence.Close()
	if err := e.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) onClose(name string, fn func(ctx context.Context) error) {
	e.closers = append(e.closers, closer{name: name, fn: fn})
}

func (e *Engine) closeResources(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		c := e.closers[i]
		if err := c.fn(ctx); err != nil {
			e.logger.Error("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
