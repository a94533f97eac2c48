package state

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/metrics"
)

// Retrying wraps a Storage with capped exponential backoff. Not-found and
// context errors are returned at once.
type Retrying struct {
	inner   Storage
	cfg     config.RetryConfig
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewRetrying wraps inner. A nil logger or registry is allowed.
func NewRetrying(inner Storage, cfg config.RetryConfig, logger *zap.Logger, reg *metrics.Registry) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Retrying{inner: inner, cfg: cfg, logger: logger, metrics: reg}
}

// Unwrap returns the wrapped backend.
func (r *Retrying) Unwrap() Storage {
	return r.inner
}

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)
}

func (r *Retrying) do(ctx context.Context, op, path string, fn func() error) error {
	attempt := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.metrics.RecordStoreRetry(op)
		r.logger.Warn("state store operation failed, retrying",
			zap.String("op", op),
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(attempt, r.policy(ctx), notify)
}

func (r *Retrying) Write(ctx context.Context, path string, data []byte) error {
	return r.do(ctx, "write", path, func() error {
		return r.inner.Write(ctx, path, data)
	})
}

func (r *Retrying) Read(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "read", path, func() error {
		data, err := r.inner.Read(ctx, path)
		out = data
		return err
	})
	return out, err
}

// Close closes the wrapped backend when it holds resources.
func (r *Retrying) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
