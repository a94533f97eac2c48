package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
)

func TestWindows(t *testing.T) {
	from := day0
	to := from.AddDate(0, 0, 365)

	windows := Windows(from, to, 90, 30)
	require.Len(t, windows, (365-90)/30+1)

	for i, w := range windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, from.AddDate(0, 0, 30*i), w.Train.From)
		assert.Equal(t, w.Train.From.AddDate(0, 0, 90), w.Train.To)
		assert.Equal(t, w.Train.To, w.Validation.From)
		assert.False(t, w.Validation.To.After(to))
		if i > 0 {
			assert.False(t, w.Validation.From.Before(windows[i-1].Validation.To),
				"validation windows %d and %d overlap", i-1, i)
		}
	}

	last := windows[len(windows)-1]
	assert.Equal(t, from.AddDate(0, 0, 360), last.Validation.From)
	assert.Equal(t, to, last.Validation.To)
}

func TestWindowsEdgeCases(t *testing.T) {
	assert.Empty(t, Windows(day0, day0.AddDate(0, 0, 89), 90, 30))
	assert.Len(t, Windows(day0, day0.AddDate(0, 0, 90), 90, 30), 1)
	assert.Empty(t, Windows(day0, day0.AddDate(0, 0, 365), 0, 30))
	assert.Empty(t, Windows(day0, day0.AddDate(0, 0, 365), 90, 0))
}

func TestStability(t *testing.T) {
	tests := []struct {
		name    string
		winners []map[string]any
		want    float64
	}{
		{"no windows", nil, 1},
		{"one window", []map[string]any{{"a": 10}}, 1},
		{"identical", []map[string]any{{"a": 10}, {"a": 10}, {"a": 10}}, 1},
		{
			"one varying parameter",
			[]map[string]any{{"a": 10, "b": 1.0}, {"a": 20, "b": 1.0}},
			(2 - 1.0/3) / 2,
		},
		{"wild values floor at zero", []map[string]any{{"a": 0}, {"a": 0}, {"a": 10}}, 0},
		{"zero mean", []map[string]any{{"a": -1}, {"a": 1}}, 1},
		{"non-numeric ignored", []map[string]any{{"a": "x"}, {"a": 5}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Stability(tt.winners)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestWalkForward(t *testing.T) {
	cfg := testConfig()
	cfg.Optimizer.WalkForward = config.WalkForwardConfig{WindowDays: 60, StepDays: 30}
	ranges := []config.ParamRange{{Name: "strategy.at", Values: []any{4, 1, 2}}}

	for _, workers := range []int{1, 3} {
		var progress []int
		o := New(cfg, testRegistry(), WithWorkers(workers), WithProgress(func(done, _ int) {
			progress = append(progress, done)
		}))

		res, err := o.WalkForward(context.Background(), "SBER", rising(200), ranges, "total_return")
		require.NoError(t, err)

		assert.NotEmpty(t, res.RunID)
		require.Len(t, res.Windows, 5)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)
		for _, w := range res.Windows {
			require.True(t, w.OK(), w.Error)
			assert.Equal(t, map[string]any{"strategy.at": 1}, w.BestParams)
			assert.Equal(t, 3, w.Trials)
			assert.Positive(t, w.TrainValue)
			assert.Positive(t, w.ValidationValue)
			assert.Equal(t, w.Validation.From, w.Train.To)
			assert.Equal(t, w.ValidationValue, w.ValidationTrial.Value)
		}
		assert.Equal(t, 1.0, res.Stability)
		require.True(t, res.BestWindow.IsSome())
		assert.Equal(t, map[string]any{"strategy.at": 1}, res.BestParams())
	}
}

func TestWalkForwardShortValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Optimizer.WalkForward = config.WalkForwardConfig{WindowDays: 20, StepDays: 10}
	ranges := []config.ParamRange{{Name: "strategy.at", Values: []any{1}}}

	// 21 bars: one window whose validation period holds only the last bar
	res, err := New(cfg, testRegistry(), WithWorkers(1)).
		WalkForward(context.Background(), "SBER", rising(21), ranges, "total_return")
	require.NoError(t, err)
	require.Len(t, res.Windows, 1)
	assert.True(t, res.Windows[0].OK())
	assert.True(t, res.BestWindow.IsSome())
	assert.Equal(t, 1.0, res.Stability)
}

func TestWalkForwardTooShort(t *testing.T) {
	cfg := testConfig()
	cfg.Optimizer.WalkForward = config.WalkForwardConfig{WindowDays: 90, StepDays: 30}

	_, err := New(cfg, testRegistry()).
		WalkForward(context.Background(), "SBER", rising(60), nil, "total_return")
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestWalkForwardCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Optimizer.WalkForward = config.WalkForwardConfig{WindowDays: 60, StepDays: 30}
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	res, err := New(cfg, testRegistry(), WithWorkers(1)).
		WalkForward(ctx, "SBER", rising(200), nil, "total_return")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Empty(t, res.Windows)
}
