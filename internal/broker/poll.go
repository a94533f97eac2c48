package broker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/notifier"
)

// Symbols returns the configured symbols plus any symbol with an open
// position, sorted.
func (e *Executor) Symbols() []string {
	symbols := slices.Clone(e.cfg.Live.Symbols)
	for _, pos := range e.ledger.Positions() {
		symbols = append(symbols, pos.Symbol)
	}
	slices.Sort(symbols)
	return slices.Compact(symbols)
}

func (e *Executor) lookback() int {
	return max(e.cfg.Simulation.WarmupBars, e.source.Warmup()) + 1
}

// Poll runs one evaluation pass over every symbol. The pass is bounded by
// the poll interval; a symbol that fails is logged and the others still
// run.
func (e *Executor) Poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Live.PollInterval)
	defer cancel()

	var errs []error
	for _, symbol := range e.Symbols() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		history, err := e.quotes.History(ctx, symbol, e.lookback())
		if err == nil && len(history) < e.lookback() {
			e.logger.Debug("waiting for warm-up history",
				zap.String("symbol", symbol),
				zap.Int("bars", len(history)),
			)
			continue
		}
		if err == nil {
			err = e.Evaluate(ctx, symbol, history)
		}
		if err != nil {
			e.logger.Warn("symbol poll failed", zap.String("symbol", symbol), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}

	e.metrics.SetOpenPositions(e.ledger.OpenCount())
	return errors.Join(errs...)
}

// Run polls every cfg.Live.PollInterval until ctx is cancelled. A failed
// poll is reported to the notifiers once per distinct error.
func (e *Executor) Run(ctx context.Context) error {
	interval := e.cfg.Live.PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("live executor started",
		zap.Strings("symbols", e.cfg.Live.Symbols),
		zap.String("mode", string(e.mode)),
		zap.Duration("interval", interval),
	)

	// lastErr suppresses repeats of the same failure until a poll succeeds.
	var lastErr string
	for {
		err := e.Poll(ctx)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			e.logger.Warn("poll finished with errors", zap.Error(err))
			if msg := err.Error(); msg != lastErr {
				lastErr = msg
				e.notify(ctx, notifier.Event{
					Kind:   notifier.EventError,
					Reason: msg,
					Time:   e.now(),
				})
			}
		default:
			lastErr = ""
		}

		select {
		case <-ctx.Done():
			e.logger.Info("live executor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
