package optimizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/strategy"
)

// entrySource buys once, on the bar whose index in history equals at.
type entrySource struct {
	at int
}

func (s entrySource) Name() string { return "entry" }
func (s entrySource) Warmup() int  { return 0 }

func (s entrySource) Buy(history []core.Bar) core.Signal {
	if len(history)-1 != s.at {
		return core.NoSignal()
	}
	return core.Signal{Kind: core.SignalBuy, Strategy: "entry", Strength: 0.5, Reasons: []string{"scheduled entry"}}
}

func (s entrySource) Sell([]core.Bar, ledger.Position) core.Signal {
	return core.NoSignal()
}

func testRegistry() *strategy.Registry {
	r := strategy.NewRegistry(nil)
	r.Register("entry", func(p strategy.Params) (strategy.Source, error) {
		at, err := p.Int("at", -1)
		if err != nil {
			return nil, err
		}
		return entrySource{at: at}, nil
	}, []config.ParamRange{{Name: "strategy.at", Values: []any{1, 2}}})
	return r
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Strategy.Names = []string{"entry"}
	cfg.Simulation.WarmupBars = 0
	cfg.Risk.TakeProfitPercent = 0
	cfg.Risk.MaxHoldingDays = 0
	return cfg
}

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// rising returns n daily bars priced 100, 101, 102, ...
func rising(n int) []core.Bar {
	bars := make([]core.Bar, n)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = core.Bar{Symbol: "SBER", Time: day0.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p}
	}
	return bars
}

// Earlier entries on a rising series earn more; stop losses of 150% fail
// validation.
var sweep = []config.ParamRange{
	{Name: "strategy.at", Values: []any{5, 1, 3}},
	{Name: "stop_loss_percent", Values: []any{2.0, 150.0}},
}

func TestCombinations(t *testing.T) {
	combos := Combinations(sweep)
	require.Len(t, combos, 6)
	assert.Equal(t, 6, Count(sweep))
	assert.Equal(t, map[string]any{"strategy.at": 5, "stop_loss_percent": 2.0}, combos[0])
	assert.Equal(t, map[string]any{"strategy.at": 5, "stop_loss_percent": 150.0}, combos[1])
	assert.Equal(t, map[string]any{"strategy.at": 1, "stop_loss_percent": 2.0}, combos[2])
	assert.Equal(t, map[string]any{"strategy.at": 3, "stop_loss_percent": 150.0}, combos[5])

	assert.Equal(t, []map[string]any{{}}, Combinations(nil))
	assert.Empty(t, Combinations([]config.ParamRange{{Name: "a", Values: nil}}))
}

func TestGridSearch(t *testing.T) {
	for _, workers := range []int{1, 4} {
		o := New(testConfig(), testRegistry(), WithWorkers(workers))

		res, err := o.GridSearch(context.Background(), "SBER", rising(30), sweep, "total_return")
		require.NoError(t, err)

		assert.NotEmpty(t, res.RunID)
		assert.Equal(t, 6, res.Combinations)
		require.Len(t, res.Trials, 6)
		for i, trial := range res.Trials {
			assert.Equal(t, i, trial.Index)
		}
		assert.Equal(t, 3, res.Failed)
		assert.ErrorIs(t, res.Trials[1].Err, core.ErrConfigInvalid)

		require.True(t, res.Best.IsSome())
		best := res.Best.Unwrap()
		assert.Equal(t, 2, best.Index)
		assert.Equal(t, map[string]any{"strategy.at": 1, "stop_loss_percent": 2.0}, res.BestParams())
		assert.Greater(t, best.Value, res.Trials[4].Value)
		assert.Greater(t, res.Trials[4].Value, res.Trials[0].Value)
		assert.Equal(t, 1, best.Report.Trades.TotalTrades)
	}
}

func TestGridSearchParallelMatchesSequential(t *testing.T) {
	bars := rising(40)
	ranges := []config.ParamRange{
		{Name: "strategy.at", Values: []any{1, 2, 3, 4, 5, 6, 7, 8}},
		{Name: "trailing_stop_percent", Values: []any{1.0, 2.0, 3.0}},
	}

	seq, err := New(testConfig(), testRegistry(), WithWorkers(1)).
		GridSearch(context.Background(), "SBER", bars, ranges, "sharpe_ratio")
	require.NoError(t, err)
	par, err := New(testConfig(), testRegistry(), WithWorkers(8)).
		GridSearch(context.Background(), "SBER", bars, ranges, "sharpe_ratio")
	require.NoError(t, err)

	require.Len(t, par.Trials, len(seq.Trials))
	for i := range seq.Trials {
		assert.Equal(t, seq.Trials[i].Params, par.Trials[i].Params)
		assert.Equal(t, seq.Trials[i].Value, par.Trials[i].Value)
	}
	assert.Equal(t, seq.Best.Unwrap().Index, par.Best.Unwrap().Index)
}

func TestGridSearchTieKeepsFirst(t *testing.T) {
	// trailing_stop_percent never matters on a rising series, so all three
	// combinations score the same.
	ranges := []config.ParamRange{
		{Name: "strategy.at", Values: []any{2}},
		{Name: "trailing_stop_percent", Values: []any{3.0, 1.0, 2.0}},
	}

	for _, workers := range []int{1, 3} {
		res, err := New(testConfig(), testRegistry(), WithWorkers(workers)).
			GridSearch(context.Background(), "SBER", rising(20), ranges, "total_return")
		require.NoError(t, err)
		require.True(t, res.Best.IsSome())
		assert.Equal(t, 0, res.Best.Unwrap().Index)
		assert.Equal(t, 3.0, res.BestParams()["trailing_stop_percent"])
	}
}

func TestGridSearchLowerIsBetter(t *testing.T) {
	ranges := []config.ParamRange{{Name: "strategy.at", Values: []any{3, -1}}}

	res, err := New(testConfig(), testRegistry(), WithWorkers(1)).
		GridSearch(context.Background(), "SBER", rising(20), ranges, "volatility")
	require.NoError(t, err)
	// never entering keeps the curve flat
	assert.Equal(t, 1, res.Best.Unwrap().Index)
	assert.Zero(t, res.Best.Unwrap().Value)
}

func TestGridSearchProgress(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][2]int
	)
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int{done, total})
	}

	o := New(testConfig(), testRegistry(), WithWorkers(3), WithProgress(progress))
	_, err := o.GridSearch(context.Background(), "SBER", rising(30), sweep, "total_return")
	require.NoError(t, err)

	require.Len(t, calls, 6)
	assert.Equal(t, [2]int{6, 6}, calls[5])
}

func TestGridSearchRecordsMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	o := New(testConfig(), testRegistry(), WithWorkers(2), WithMetrics(reg))

	_, err := o.GridSearch(context.Background(), "SBER", rising(30), sweep, "total_return")
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tradecore_optimizer_trials_total"])
	assert.True(t, names["tradecore_optimizer_best_metric"])
}

func TestGridSearchCancelled(t *testing.T) {
	for _, workers := range []int{1, 4} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := New(testConfig(), testRegistry(), WithWorkers(workers)).
			GridSearch(ctx, "SBER", rising(30), sweep, "total_return")
		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, res)
		for _, trial := range res.Trials {
			assert.NotErrorIs(t, trial.Err, context.Canceled)
		}
	}
}

func TestGridSearchErrors(t *testing.T) {
	o := New(testConfig(), testRegistry())
	ctx := context.Background()

	tests := []struct {
		name   string
		bars   []core.Bar
		ranges []config.ParamRange
		metric string
		want   error
	}{
		{"unknown metric", rising(10), sweep, "alpha", core.ErrUnknownMetric},
		{"no bars", nil, sweep, "total_return", core.ErrNoData},
		{"unknown parameter", rising(10), []config.ParamRange{{Name: "leverage", Values: []any{2}}}, "total_return", core.ErrConfigInvalid},
		{"empty values", rising(10), []config.ParamRange{{Name: "strategy.at", Values: nil}}, "total_return", core.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.GridSearch(ctx, "SBER", tt.bars, tt.ranges, tt.metric)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGridSearchAllFail(t *testing.T) {
	res, err := New(testConfig(), testRegistry(), WithWorkers(1)).
		GridSearch(context.Background(), "SBER", rising(30),
			[]config.ParamRange{{Name: "stop_loss_percent", Values: []any{150.0}}}, "total_return")
	require.NoError(t, err)
	assert.True(t, res.Best.IsNone())
	assert.Nil(t, res.BestParams())
	assert.Equal(t, 1, res.Failed)
}

func TestRanges(t *testing.T) {
	o := New(testConfig(), testRegistry())
	assert.Equal(t, []config.ParamRange{{Name: "strategy.at", Values: []any{1, 2}}}, o.Ranges())

	cfg := testConfig()
	cfg.Optimizer.ParamRanges = sweep
	assert.Equal(t, sweep, New(cfg, testRegistry()).Ranges())
}

func TestWorkersDefault(t *testing.T) {
	cfg := testConfig()
	cfg.Optimizer.Workers = 0
	assert.Positive(t, New(cfg, testRegistry()).Workers())

	cfg.Optimizer.Workers = 3
	assert.Equal(t, 3, New(cfg, testRegistry()).Workers())
	assert.Equal(t, 1, New(cfg, testRegistry(), WithWorkers(1)).Workers())
}

func TestBetterValueDirection(t *testing.T) {
	for _, metric := range []string{"max_drawdown", "volatility", "var", "cvar"} {
		assert.True(t, betterValue(metric, 0.1, 0.2), metric)
		assert.False(t, betterValue(metric, 0.2, 0.1), metric)
	}
	assert.True(t, betterValue("sharpe_ratio", 1.5, 1.0))
	assert.False(t, betterValue("sharpe_ratio", 1.5, 1.5), "ties are not better")
	assert.True(t, better("max_drawdown", Trial{Index: 2, Value: 3}, Trial{Index: 0, Value: 5}))
	assert.True(t, better("max_drawdown", Trial{Index: 0, Value: 5}, Trial{Index: 2, Value: 5}), "ties keep grid order")
}
