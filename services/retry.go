package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/repositories"
)

// RetryConfig bounds the exponential backoff applied to store calls
type RetryConfig struct {
	Attempts         int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	OperationTimeout time.Duration
}

// RetryObserver is notified about retries and exhausted budgets
type RetryObserver interface {
	RecordRetry(op string)
	RecordUnavailable(op string)
}

// Retrier runs store operations with bounded exponential backoff. Outcomes
// that retrying cannot change (missing records, domain errors, cancelled
// contexts) stop immediately.
type Retrier struct {
	cfg      RetryConfig
	logger   *zap.Logger
	observer RetryObserver
}

// NewRetrier creates a retrier. observer may be nil.
func NewRetrier(cfg RetryConfig, logger *zap.Logger, observer RetryObserver) *Retrier {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	return &Retrier{cfg: cfg, logger: logger, observer: observer}
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.Attempts-1)), ctx)
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. Exhaustion is reported as ErrStoreUnavailable wrapping the last error.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := func() error {
		callCtx := ctx
		if r.cfg.OperationTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.OperationTimeout)
			defer cancel()
		}
		err := fn(callCtx)
		if err != nil && isPermanent(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if r.observer != nil {
			r.observer.RecordRetry(op)
		}
		r.logger.Warn("store call failed, retrying",
			zap.String("op", op),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(attempt, r.policy(ctx), notify)
	if err == nil || isPermanent(ctx, err) {
		return err
	}

	if r.observer != nil {
		r.observer.RecordUnavailable(op)
	}
	r.logger.Error("store unavailable", zap.String("op", op), zap.Error(err))
	return WrapUnavailable(op, err)
}

// isPermanent reports errors that another attempt would not fix.
func isPermanent(ctx context.Context, err error) bool {
	if errors.Is(err, repositories.ErrNotFound) {
		return true
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return true
	}
	return ctx.Err() != nil
}
