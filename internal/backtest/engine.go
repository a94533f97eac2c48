// Package backtest replays bar history through a strategy under the risk
// policy and records the resulting trades and equity curve.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

// Engine runs single-instrument simulations. An Engine holds no run state
// and may be reused; every Run owns a fresh ledger and capital.
type Engine struct {
	cfg     *config.Config
	policy  risk.Policy
	source  strategy.Source
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records runs, buy decisions and closed trades.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) {
		e.metrics = reg
	}
}

// New creates an Engine. cfg is treated as immutable.
func New(cfg *config.Config, source strategy.Source, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		policy: risk.NewPolicy(cfg),
		source: source,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Warmup is the index of the first traded bar.
func (e *Engine) Warmup() int {
	return max(e.cfg.Simulation.WarmupBars, e.source.Warmup())
}

// run is the mutable state of one simulation.
type run struct {
	symbol     string
	cash       float64
	maxCapital float64
	ledger     *ledger.Ledger
	result     *Result
}

// Run simulates trading symbol over bars, which must be in strictly
// ascending time order. Bars before Warmup only seed history.
func (e *Engine) Run(ctx context.Context, symbol string, bars []core.Bar) (*Result, error) {
	start := time.Now()
	res, err := e.run(ctx, symbol, bars)
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordSimulation(status, time.Since(start).Seconds())
	return res, err
}

func (e *Engine) run(ctx context.Context, symbol string, bars []core.Bar) (*Result, error) {
	warmup := e.Warmup()
	if len(bars) <= warmup {
		return nil, core.WrapError(core.ErrInsufficientData,
			fmt.Errorf("%s: %d bars, warm-up needs more than %d", symbol, len(bars), warmup))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return nil, core.WrapError(core.ErrNoData,
				fmt.Errorf("%s: bar %d at %s is not after %s", symbol, i, bars[i].Time, bars[i-1].Time))
		}
	}

	capital := e.cfg.Simulation.InitialCapital
	r := &run{
		symbol:     symbol,
		cash:       capital,
		maxCapital: capital,
		ledger:     ledger.New(ledger.WithLogger(e.logger), ledger.WithMetrics(e.metrics)),
		result: &Result{
			Strategy:       e.source.Name(),
			Symbol:         symbol,
			StartDate:      bars[warmup].Time,
			InitialCapital: capital,
			Equity:         make([]EquitySample, 0, len(bars)-warmup),
		},
	}

	var (
		lastPrice float64
		lastTime  time.Time
	)
	for i := warmup; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bar := bars[i]
		if !bar.HasPrice() {
			e.logger.Debug("skipping bar without price",
				zap.String("symbol", symbol),
				zap.Time("time", bar.Time),
			)
			r.result.SkippedBars++
			continue
		}
		lastPrice, lastTime = bar.Close, bar.Time

		if err := e.step(ctx, r, bars[:i+1]); err != nil {
			return nil, err
		}
	}

	if lastPrice == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s: no priced bars after warm-up", symbol))
	}
	if err := e.closeAll(ctx, r, lastTime, lastPrice); err != nil {
		return nil, err
	}

	res := r.result
	res.EndDate = lastTime
	res.FinalCapital = r.cash
	res.MaxCapital = r.maxCapital
	res.Trades = r.ledger.ClosedTrades()
	res.Events = r.ledger.Events()
	res.Metrics = r.ledger.PortfolioMetrics()

	e.logger.Info("simulation complete",
		zap.String("symbol", symbol),
		zap.String("strategy", res.Strategy),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("final_capital", res.FinalCapital),
	)
	return res, nil
}

// step processes the last bar of history: record equity, apply risk exits,
// then strategy exits, then entries. Any exit ends the bar.
func (e *Engine) step(ctx context.Context, r *run, history []core.Bar) error {
	bar := history[len(history)-1]
	price := bar.Close

	r.result.Equity = append(r.result.Equity, e.sample(r, bar.Time, price))

	if opt := r.ledger.Get(r.symbol); opt.IsSome() {
		pos := opt.Unwrap()

		upd := e.policy.UpdateTrailing(pos, price)
		if err := r.ledger.Update(ctx, r.symbol, upd.StopUpdate()); err != nil {
			return err
		}
		pos.StopLoss, pos.HighWater, pos.StopKind = upd.Stop, upd.HighWater, upd.Kind

		if reason := e.policy.CheckExit(pos, price, bar.Time); reason.IsSome() {
			return e.exit(ctx, r, pos, price, bar.Time, reason.Unwrap())
		}

		sig := e.source.Sell(history, pos)
		if sig.Kind == core.SignalSell {
			r.result.Signals.Sell++
			return e.exit(ctx, r, pos, price, bar.Time, ledger.ExitStrategySignal)
		}
		return nil
	}

	sig := e.source.Buy(history)
	if sig.Kind != core.SignalBuy {
		return nil
	}
	r.result.Signals.Buy++

	if err := e.enter(ctx, r, sig, price, bar.Time); err != nil {
		r.result.Signals.Rejected++
		if isVeto(err) {
			return nil
		}
		return err
	}
	r.result.Signals.Accepted++
	return nil
}

func (e *Engine) enter(ctx context.Context, r *run, sig core.Signal, price float64, at time.Time) error {
	open := r.ledger.Positions()
	capital := r.cash + marketValue(open, r.symbol, price)

	if check := e.policy.CheckEntryAllowed(capital, open); !check.Allowed {
		e.logger.Info("buy signal vetoed",
			zap.String("symbol", r.symbol),
			zap.String("reason", check.Reason),
		)
		e.metrics.RecordBuySignal("vetoed")
		return core.WrapError(core.ErrPositionLimit, errors.New(check.Reason))
	}

	value, lots := e.policy.SizePosition(capital, price, open)
	if lots == 0 {
		e.logger.Info("insufficient capital for one lot",
			zap.String("symbol", r.symbol),
			zap.Float64("price", price),
			zap.Float64("cash", r.cash),
		)
		e.metrics.RecordBuySignal("insufficient_capital")
		return core.WrapError(core.ErrInsufficientCapital, fmt.Errorf("%s at %.4f", r.symbol, price))
	}

	commission := e.policy.Commission(value)
	stop, take := e.policy.InitialStops(price, true)
	_, err := r.ledger.Open(ctx, r.symbol, ledger.EntryInfo{
		Price:      price,
		Quantity:   lots,
		LotSize:    e.policy.LotSize,
		Time:       at,
		Commission: commission,
		StopLoss:   stop,
		TakeProfit: take,
		Signal: ledger.EntrySignal{
			Strategy: sig.Strategy,
			Strength: sig.Strength,
			Reasons:  sig.Reasons,
			Snapshot: sig.Snapshot,
		},
	})
	if err != nil {
		e.metrics.RecordBuySignal("rejected")
		return err
	}

	r.cash -= value + commission
	e.metrics.RecordBuySignal("accepted")
	return nil
}

func (e *Engine) exit(ctx context.Context, r *run, pos ledger.Position, price float64, at time.Time, reason ledger.ExitReason) error {
	commission := e.policy.Commission(pos.MarketValue(price))
	if _, err := r.ledger.Close(ctx, pos.Symbol, ledger.ExitInfo{
		Price:      price,
		Time:       at,
		Reason:     reason,
		Commission: commission,
	}); err != nil {
		return err
	}

	r.cash += pos.MarketValue(price) - commission
	r.maxCapital = max(r.maxCapital, r.cash)
	return nil
}

// closeAll force-closes what is still open at the last priced bar and
// rewrites the final equity sample with the realized balance, so the curve
// always ends at FinalCapital.
func (e *Engine) closeAll(ctx context.Context, r *run, at time.Time, price float64) error {
	open := r.ledger.Positions()
	for _, pos := range open {
		if err := e.exit(ctx, r, pos, price, at, ledger.ExitEndOfPeriod); err != nil {
			return err
		}
	}
	if len(r.result.Equity) > 0 {
		last := &r.result.Equity[len(r.result.Equity)-1]
		*last = e.sample(r, last.Time, price)
	}
	return nil
}

func (e *Engine) sample(r *run, at time.Time, price float64) EquitySample {
	open := r.ledger.Positions()
	value := marketValue(open, r.symbol, price)
	return EquitySample{
		Time:          at,
		Equity:        r.cash + value,
		Cash:          r.cash,
		PositionValue: value,
		Active:        len(open) > 0,
	}
}

// marketValue marks positions in symbol at price and everything else at
// entry.
func marketValue(open []ledger.Position, symbol string, price float64) float64 {
	var v float64
	for _, pos := range open {
		if pos.Symbol == symbol {
			v += pos.MarketValue(price)
		} else {
			v += pos.EntryValue()
		}
	}
	return v
}

// isVeto reports policy violations that cancel an entry without failing
// the run.
func isVeto(err error) bool {
	return errors.Is(err, core.ErrPositionLimit) ||
		errors.Is(err, core.ErrInsufficientCapital) ||
		errors.Is(err, core.ErrAlreadyOpen)
}

// RunSource loads symbol's bars in [from, to) from src and runs them.
func (e *Engine) RunSource(ctx context.Context, src BarSource, symbol string, from, to time.Time) (*Result, error) {
	bars, err := Collect(src.Bars(ctx, symbol, from, to))
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, symbol, bars)
}
