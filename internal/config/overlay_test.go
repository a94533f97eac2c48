package config

import (
	"errors"
	"math"
	"testing"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlay(t *testing.T) {
	base := Defaults()

	cfg, err := Overlay(base, map[string]any{
		"stop_loss_percent":          2.5,
		"risk.take_profit_percent":   6,
		"max_holding_days":           10,
		"strategy.fast_period":       8,
		"strategy.min_volume_ratio":  1.5,
		"simulation.commission_rate": 0.001,
		"simulation.lot_size":        10,
		"simulation.warmup_bars":     50,
	})
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.Risk.StopLossPercent)
	assert.Equal(t, 6.0, cfg.Risk.TakeProfitPercent)
	assert.Equal(t, 10, cfg.Risk.MaxHoldingDays)
	assert.Equal(t, 8, cfg.Strategy.Params["fast_period"])
	assert.Equal(t, 1.5, cfg.Strategy.Params["min_volume_ratio"])
	assert.Equal(t, 0.001, cfg.Simulation.CommissionRate)
	assert.Equal(t, int64(10), cfg.Simulation.LotSize)
	assert.Equal(t, 50, cfg.Simulation.WarmupBars)

	// base untouched
	assert.Equal(t, 2.0, base.Risk.StopLossPercent)
	assert.Equal(t, int64(1), base.Simulation.LotSize)
	assert.Empty(t, base.Strategy.Params)
}

func TestOverlay_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"unknown field", map[string]any{"leverage": 2}},
		{"non-numeric", map[string]any{"stop_loss_percent": "two"}},
		{"fractional integer field", map[string]any{"max_positions": 1.5}},
		{"out of range", map[string]any{"max_position_fraction": 1.5}},
		{"nan", map[string]any{"stop_loss_percent": math.NaN()}},
		{"empty strategy key", map[string]any{"strategy.": 3}},
		{"unqualified simulation field", map[string]any{"lot_size": 10}},
		{"fractional lot size", map[string]any{"simulation.lot_size": 2.5}},
		{"commission out of range", map[string]any{"simulation.commission_rate": 1.2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Overlay(Defaults(), tt.params)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestIsKnownParam(t *testing.T) {
	assert.True(t, IsKnownParam("stop_loss_percent"))
	assert.True(t, IsKnownParam("risk.max_positions"))
	assert.True(t, IsKnownParam("strategy.fast_period"))
	assert.True(t, IsKnownParam("simulation.warmup_bars"))
	assert.False(t, IsKnownParam("warmup_bars"))
	assert.False(t, IsKnownParam("strategy."))
	assert.False(t, IsKnownParam("leverage"))
}

func TestToInt(t *testing.T) {
	tests := []struct {
		in     any
		want   int
		wantOK bool
	}{
		{5, 5, true},
		{int64(7), 7, true},
		{8.0, 8, true},
		{8.5, 0, false},
		{"8", 0, false},
	}
	for _, tt := range tests {
		got, ok := ToInt(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ToInt(%v) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
