// Package optimizer searches strategy and risk parameters by running
// independent simulations per parameter combination.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/performance"
	"github.com/newthinker/tradecore/internal/strategy"
)

// ProgressFunc is called after each finished combination.
type ProgressFunc func(done, total int)

// Optimizer runs grid searches and walk-forward analyses. Every trial gets
// its own configuration, strategy instance, engine and ledger.
type Optimizer struct {
	cfg      *config.Config
	registry *strategy.Registry
	workers  int
	logger   *zap.Logger
	metrics  *metrics.Registry
	progress ProgressFunc
}

// Option configures an Optimizer.
type Option func(*Optimizer)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(reg *metrics.Registry) Option {
	return func(o *Optimizer) {
		o.metrics = reg
	}
}

// WithWorkers overrides optimizer.workers. One runs trials sequentially;
// zero or less means one per CPU.
func WithWorkers(n int) Option {
	return func(o *Optimizer) {
		o.workers = n
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(o *Optimizer) {
		o.progress = fn
	}
}

// New creates an Optimizer over base configuration cfg, which is never
// modified.
func New(cfg *config.Config, registry *strategy.Registry, opts ...Option) *Optimizer {
	o := &Optimizer{
		cfg:      cfg,
		registry: registry,
		workers:  cfg.Optimizer.Workers,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	}
	return o
}

// Workers is the number of concurrent trials.
func (o *Optimizer) Workers() int {
	return o.workers
}

// Ranges returns the configured parameter ranges, falling back to the
// defaults of the configured strategies.
func (o *Optimizer) Ranges() []config.ParamRange {
	if len(o.cfg.Optimizer.ParamRanges) > 0 {
		return o.cfg.Clone().Optimizer.ParamRanges
	}
	return o.registry.DefaultParamRanges(o.cfg.Strategy.Names...)
}

// span is the traded slice [start, end) of bars. Bars before start serve as
// warm-up history.
type span struct {
	bars       []core.Bar
	start, end int
}

func (s span) slice(warmup int) []core.Bar {
	return s.bars[max(0, s.start-warmup):s.end]
}

func spanOf(bars []core.Bar, p Period) span {
	return span{bars: bars, start: lowerBound(bars, p.From), end: lowerBound(bars, p.To)}
}

func lowerBound(bars []core.Bar, t time.Time) int {
	i, _ := slices.BinarySearchFunc(bars, t, func(b core.Bar, t time.Time) int {
		return b.Time.Compare(t)
	})
	return i
}

// GridSearch runs every combination of ranges over bars and keeps the one
// that scores best on metric. Failed combinations are recorded and
// skipped. If ctx is cancelled the trials finished so far are returned
// together with the context error.
func (o *Optimizer) GridSearch(ctx context.Context, symbol string, bars []core.Bar, ranges []config.ParamRange, metric string) (*GridResult, error) {
	if err := o.check(bars, ranges, metric); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := o.logger.With(zap.String("run_id", runID), zap.String("symbol", symbol))
	log.Info("starting grid search",
		zap.Int("combinations", Count(ranges)),
		zap.Int("workers", o.workers),
		zap.String("metric", metric),
	)

	res, err := o.grid(ctx, symbol, span{bars: bars, end: len(bars)}, Combinations(ranges), metric, o.progress)
	res.RunID = runID
	if res.Best.IsSome() {
		best := res.Best.Unwrap()
		o.metrics.SetBestMetric(metric, best.Value)
		log.Info("grid search complete",
			zap.Any("best_params", best.Params),
			zap.Float64("best_value", best.Value),
			zap.Int("failed", res.Failed),
			zap.Duration("duration", res.Duration),
		)
	} else {
		log.Warn("grid search found no usable combination",
			zap.Int("trials", len(res.Trials)),
			zap.Int("failed", res.Failed),
		)
	}
	return res, err
}

func (o *Optimizer) check(bars []core.Bar, ranges []config.ParamRange, metric string) error {
	if !performance.IsKnownMetric(metric) {
		return core.WrapError(core.ErrUnknownMetric, fmt.Errorf("%q", metric))
	}
	if len(bars) == 0 {
		return core.ErrNoData
	}
	for _, pr := range ranges {
		if !config.IsKnownParam(pr.Name) {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown parameter %q", pr.Name))
		}
		if len(pr.Values) == 0 {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("parameter %q has no values", pr.Name))
		}
	}
	return nil
}

// grid evaluates combos over s. The result is never nil.
func (o *Optimizer) grid(ctx context.Context, symbol string, s span, combos []map[string]any, metric string, progress ProgressFunc) (*GridResult, error) {
	start := time.Now()
	t := &tracker{metric: metric}

	var err error
	if o.workers <= 1 || len(combos) <= 1 {
		err = o.sequential(ctx, symbol, s, combos, metric, t, progress)
	} else {
		err = o.parallel(ctx, symbol, s, combos, metric, t, progress)
	}

	slices.SortFunc(t.trials, func(a, b Trial) int {
		return a.Index - b.Index
	})
	res := &GridResult{
		Symbol:       symbol,
		Metric:       metric,
		Combinations: len(combos),
		Trials:       t.trials,
		Failed:       t.failed,
		Duration:     time.Since(start),
	}
	if t.best != nil {
		res.Best = optional.Some(*t.best)
	}
	return res, err
}

func (o *Optimizer) sequential(ctx context.Context, symbol string, s span, combos []map[string]any, metric string, t *tracker, progress ProgressFunc) error {
	for i, params := range combos {
		if err := ctx.Err(); err != nil {
			return err
		}
		trial := o.evaluate(ctx, i, symbol, s, params, metric)
		if err := ctx.Err(); err != nil && trial.Err != nil {
			return err
		}
		t.add(trial)
		if progress != nil {
			progress(len(t.trials), len(combos))
		}
	}
	return nil
}

// parallel fans combinations out to a fixed pool of workers. The calling
// goroutine is the only one that touches t.
func (o *Optimizer) parallel(ctx context.Context, symbol string, s span, combos []map[string]any, metric string, t *tracker, progress ProgressFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	results := make(chan Trial)

	g.Go(func() error {
		defer close(jobs)
		for i := range combos {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range min(o.workers, len(combos)) {
		g.Go(func() error {
			for i := range jobs {
				trial := o.evaluate(gctx, i, symbol, s, combos[i], metric)
				if err := gctx.Err(); err != nil && trial.Err != nil {
					return err
				}
				select {
				case results <- trial:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
		close(results)
	}()

	for trial := range results {
		t.add(trial)
		if progress != nil {
			progress(len(t.trials), len(combos))
		}
	}

	if err := <-done; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// evaluate runs one combination. Errors are reported in the trial.
func (o *Optimizer) evaluate(ctx context.Context, index int, symbol string, s span, params map[string]any, metric string) Trial {
	start := time.Now()
	trial := Trial{Index: index, Params: params}
	defer func() {
		trial.Duration = time.Since(start)
		status := "ok"
		if trial.Err != nil {
			status = "error"
		}
		o.metrics.RecordTrial(status, trial.Duration.Seconds())
	}()

	cfg, err := config.Overlay(o.cfg, params)
	if err != nil {
		trial.Err = err
		return trial
	}
	source, err := o.registry.Build(cfg.Strategy)
	if err != nil {
		trial.Err = err
		return trial
	}

	engine := backtest.New(cfg, source,
		backtest.WithLogger(o.logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))),
		backtest.WithMetrics(o.metrics),
	)
	res, err := engine.Run(ctx, symbol, s.slice(engine.Warmup()))
	if err != nil {
		o.logger.Debug("trial failed",
			zap.Int("index", index),
			zap.Any("params", params),
			zap.Error(err),
		)
		trial.Err = err
		return trial
	}

	report := performance.New(cfg).AnalyzeResult(res)
	value, err := report.Metric(metric)
	if err != nil {
		trial.Err = err
		return trial
	}
	if math.IsNaN(value) {
		trial.Err = fmt.Errorf("%s is NaN", metric)
		return trial
	}

	trial.Result = res
	trial.Report = report
	trial.Value = value
	return trial
}

// WalkForward grid-searches each training window and validates the winner
// on the following window. The overall range runs from the first bar up
// to and including the last one. Window sizes come from
// optimizer.walk_forward. If ctx is cancelled the windows finished so far
// are returned together with the context error.
func (o *Optimizer) WalkForward(ctx context.Context, symbol string, bars []core.Bar, ranges []config.ParamRange, metric string) (*WalkForwardResult, error) {
	if err := o.check(bars, ranges, metric); err != nil {
		return nil, err
	}

	wf := o.cfg.Optimizer.WalkForward
	from := bars[0].Time
	to := bars[len(bars)-1].Time.Add(time.Nanosecond)
	windows := Windows(from, to, wf.WindowDays, wf.StepDays)
	if len(windows) == 0 {
		return nil, core.WrapError(core.ErrInsufficientData,
			fmt.Errorf("%s: range %s to %s is shorter than one %d-day window", symbol,
				from.Format(time.DateOnly), bars[len(bars)-1].Time.Format(time.DateOnly), wf.WindowDays))
	}

	runID := uuid.NewString()
	log := o.logger.With(zap.String("run_id", runID), zap.String("symbol", symbol))
	log.Info("starting walk-forward analysis",
		zap.Int("windows", len(windows)),
		zap.Int("window_days", wf.WindowDays),
		zap.Int("step_days", wf.StepDays),
		zap.Int("combinations", Count(ranges)),
	)

	start := time.Now()
	combos := Combinations(ranges)
	res := &WalkForwardResult{RunID: runID, Symbol: symbol, Metric: metric}

	finish := func() {
		res.Duration = time.Since(start)
		var winners []map[string]any
		for i, w := range res.Windows {
			if !w.OK() {
				continue
			}
			winners = append(winners, w.BestParams)
			if res.BestWindow.IsNone() || betterValue(metric, w.ValidationValue, res.Windows[res.BestWindow.Unwrap()].ValidationValue) {
				res.BestWindow = optional.Some(i)
			}
		}
		res.Stability = Stability(winners)
		o.metrics.SetStability(res.Stability)
	}

	for _, w := range windows {
		wr, err := o.window(ctx, symbol, bars, w, combos, metric)
		if err != nil {
			finish()
			return res, err
		}
		res.Windows = append(res.Windows, wr)
		o.metrics.RecordWalkForwardWindow()
		if o.progress != nil {
			o.progress(len(res.Windows), len(windows))
		}

		log.Info("walk-forward window complete",
			zap.Int("window", w.Index),
			zap.Time("train_from", w.Train.From),
			zap.Time("validation_to", w.Validation.To),
			zap.Any("best_params", wr.BestParams),
			zap.Float64("train_value", wr.TrainValue),
			zap.Float64("validation_value", wr.ValidationValue),
			zap.String("error", wr.Error),
		)
	}

	finish()
	log.Info("walk-forward analysis complete",
		zap.Float64("stability", res.Stability),
		zap.Any("best_params", res.BestParams()),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// window trains and validates one window. Only context errors are
// returned; other failures are recorded in the result.
func (o *Optimizer) window(ctx context.Context, symbol string, bars []core.Bar, w Window, combos []map[string]any, metric string) (WindowResult, error) {
	wr := WindowResult{Window: w}

	grid, err := o.grid(ctx, symbol, spanOf(bars, w.Train), combos, metric, nil)
	if err != nil {
		return wr, err
	}
	wr.Trials = len(grid.Trials)
	if grid.Best.IsNone() {
		wr.Error = "no combination completed in the training window"
		return wr, nil
	}

	best := grid.Best.Unwrap()
	wr.BestParams = best.Params
	wr.TrainValue = best.Value

	val := o.evaluate(ctx, best.Index, symbol, spanOf(bars, w.Validation), best.Params, metric)
	if err := ctx.Err(); err != nil {
		return wr, err
	}
	wr.ValidationTrial = val
	if val.Err != nil {
		wr.Error = val.Err.Error()
		if errors.Is(val.Err, core.ErrInsufficientData) {
			wr.Error = "validation window has no tradable bars"
		}
		return wr, nil
	}
	wr.ValidationValue = val.Value
	return wr, nil
}

func betterValue(metric string, a, b float64) bool {
	if performance.HigherIsBetter(metric) {
		return a > b
	}
	return a < b
}
