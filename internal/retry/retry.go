package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Config bounds a retry sequence.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Op is a single logical remote operation.
type Op func(ctx context.Context) error

// Controller runs operations with a fixed delay between attempts and a hard
// attempt ceiling. Only transient failures are retried.
type Controller struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a Controller; zero values fall back to 3 attempts and 2s.
func New(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger, metrics: m}
}

// MaxAttempts returns the configured attempt ceiling.
func (c *Controller) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

// Do runs op until it succeeds, fails with a non-transient error, ctx is done,
// or the attempt ceiling is reached. It returns the number of attempts made.
// Exhaustion is reported as *domain.ExhaustedRetriesError.
func (c *Controller) Do(ctx context.Context, name string, op Op) (int, error) {
	var (
		attempts int
		lastErr  error
	)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.BaseDelay), uint64(c.cfg.MaxAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		c.metrics.IncRetryAttempt(name)
		c.logger.Debug("retrying remote operation",
			zap.String("op", name),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})

	switch {
	case err == nil:
		return attempts, nil
	case ctx.Err() != nil:
		return attempts, ctx.Err()
	case domain.IsTransient(lastErr):
		c.metrics.IncRetryExhausted(name)
		c.logger.Warn("remote operation exhausted retries",
			zap.String("op", name),
			zap.Int("attempts", attempts),
			zap.Error(lastErr))
		return attempts, &domain.ExhaustedRetriesError{Attempts: attempts, Err: lastErr}
	default:
		return attempts, err
	}
}
