package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fastygo/taskledger/internal/infrastructure/buffer"
	"github.com/fastygo/taskledger/internal/metrics"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// ProcessorConfig controls how frequently the sync buffer is drained.
type ProcessorConfig struct {
	Interval  time.Duration
	BatchSize int
}

// SyncReport summarizes one drain of the sync buffer.
type SyncReport struct {
	Replayed  int
	Failed    int
	Discarded int
	Remaining int
	Skipped   bool
}

// SyncProcessor replays parked mutations through the Writer. Parked
// mutations are never dropped for having failed too often; they stay parked
// until a replay succeeds or a newer write replaces them.
type SyncProcessor struct {
	store   *buffer.Store
	writer  *Writer
	monitor ConnectionHealth
	logger  *zap.Logger
	metrics *metrics.Metrics
	cron    *cron.Cron
	cfg     ProcessorConfig
	group   singleflight.Group
}

func NewSyncProcessor(
	store *buffer.Store,
	writer *Writer,
	monitor ConnectionHealth,
	logger *zap.Logger,
	m *metrics.Metrics,
	cfg ProcessorConfig,
) *SyncProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sp := &SyncProcessor{
		store:   store,
		writer:  writer,
		monitor: monitor,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", max(1, int(cfg.Interval.Seconds())))
	_, _ = sp.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if _, err := sp.Sync(ctx); err != nil {
			sp.logger.Error("sync drain failed", zap.Error(err))
		}
	})

	return sp
}

// Start launches the cron scheduler.
func (sp *SyncProcessor) Start() {
	if sp == nil || sp.cron == nil {
		return
	}
	sp.cron.Start()
	sp.logger.Info("sync processor started", zap.Duration("interval", sp.cfg.Interval))
}

// Stop gracefully stops the scheduler.
func (sp *SyncProcessor) Stop(ctx context.Context) {
	if sp == nil || sp.cron == nil {
		return
	}
	stopCtx := sp.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	sp.logger.Info("sync processor stopped")
}

// Sync drains the buffer. Concurrent callers share one drain.
func (sp *SyncProcessor) Sync(ctx context.Context) (SyncReport, error) {
	if sp == nil || sp.store == nil {
		return SyncReport{}, nil
	}
	v, err, _ := sp.group.Do("drain", func() (interface{}, error) {
		return sp.Drain(ctx)
	})
	if err != nil {
		return SyncReport{}, err
	}
	return v.(SyncReport), nil
}

// Drain replays up to BatchSize parked mutations synchronously.
func (sp *SyncProcessor) Drain(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if sp.monitor != nil && !sp.monitor.IsOnline() {
		sp.logger.Debug("skipping sync drain (offline)")
		report.Skipped = true
		report.Remaining = sp.Size()
		return report, nil
	}

	items, err := sp.store.GetBatch(sp.cfg.BatchSize)
	if err != nil {
		return report, err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		res := sp.writer.Replay(ctx, item)
		switch {
		case res.Superseded:
			report.Discarded++
		case res.Err != nil:
			report.Failed++
			sp.logger.Warn("parked mutation still failing",
				zap.String("key", item.Key()),
				zap.Int("retries", item.Retries+1),
				zap.Error(res.Err))
		default:
			report.Replayed++
		}
	}

	report.Remaining = sp.Size()
	sp.metrics.SetSyncBufferSize(report.Remaining)
	if report.Replayed > 0 || report.Failed > 0 {
		sp.logger.Info("sync drain finished",
			zap.Int("replayed", report.Replayed),
			zap.Int("failed", report.Failed),
			zap.Int("discarded", report.Discarded),
			zap.Int("remaining", report.Remaining))
	}
	return report, ctx.Err()
}

// Parked returns the parked mutations of collection.
func (sp *SyncProcessor) Parked(collection string) ([]buffer.Item, error) {
	if sp == nil || sp.store == nil {
		return nil, nil
	}
	items, err := sp.store.List()
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, item := range items {
		if item.Collection == collection {
			out = append(out, item)
		}
	}
	return out, nil
}

// Size returns the number of parked mutations.
func (sp *SyncProcessor) Size() int {
	if sp == nil || sp.store == nil {
		return 0
	}
	size, err := sp.store.Size()
	if err != nil {
		return 0
	}
	return size
}
