package config

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/newthinker/tradecore/internal/core"
)

// StrategyPrefix marks overlay keys that go to strategy parameters.
const StrategyPrefix = "strategy."

type overlayField struct {
	integer bool
	set     func(*Config, float64)
}

var overlayFields = map[string]overlayField{
	"risk.stop_loss_percent":       {set: func(c *Config, v float64) { c.Risk.StopLossPercent = v }},
	"risk.take_profit_percent":     {set: func(c *Config, v float64) { c.Risk.TakeProfitPercent = v }},
	"risk.trailing_stop_percent":   {set: func(c *Config, v float64) { c.Risk.TrailingStopPercent = v }},
	"risk.max_position_fraction":   {set: func(c *Config, v float64) { c.Risk.MaxPositionFraction = v }},
	"risk.max_capital_utilization": {set: func(c *Config, v float64) { c.Risk.MaxCapitalUtilization = v }},
	"risk.max_positions":           {integer: true, set: func(c *Config, v float64) { c.Risk.MaxPositions = int(v) }},
	"risk.max_holding_days":        {integer: true, set: func(c *Config, v float64) { c.Risk.MaxHoldingDays = int(v) }},

	"simulation.commission_rate": {set: func(c *Config, v float64) { c.Simulation.CommissionRate = v }},
	"simulation.lot_size":        {integer: true, set: func(c *Config, v float64) { c.Simulation.LotSize = int64(v) }},
	"simulation.warmup_bars":     {integer: true, set: func(c *Config, v float64) { c.Simulation.WarmupBars = int(v) }},
}

// lookupField resolves a qualified name. Unqualified names are risk fields.
func lookupField(name string) (overlayField, bool) {
	if f, ok := overlayFields[name]; ok {
		return f, true
	}
	f, ok := overlayFields["risk."+name]
	return f, ok
}

// Overlay applies a mapping of parameter name to value on a clone of base
// and validates the result. Risk fields are addressed by their config name,
// optionally prefixed with "risk."; simulation fields need the
// "simulation." prefix and strategy parameters use "strategy.".
// The base config is never modified.
func Overlay(base *Config, params map[string]any) (*Config, error) {
	cfg := base.Clone()
	for _, name := range slices.Sorted(maps.Keys(params)) {
		if err := cfg.set(name, params[name]); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsKnownParam reports whether Overlay accepts the name.
func IsKnownParam(name string) bool {
	if key, ok := strings.CutPrefix(name, StrategyPrefix); ok {
		return key != ""
	}
	_, ok := lookupField(name)
	return ok
}

func (c *Config) set(name string, value any) error {
	num, ok := ToFloat(value)
	if !ok {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("parameter %q: non-numeric value %v", name, value))
	}

	if key, ok := strings.CutPrefix(name, StrategyPrefix); ok {
		if key == "" {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("empty strategy parameter name"))
		}
		c.Strategy.Params[key] = value
		return nil
	}

	f, ok := lookupField(name)
	if !ok {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown parameter %q", name))
	}
	if f.integer && num != math.Trunc(num) {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("parameter %q: expected integer, got %v", name, value))
	}
	f.set(c, num)
	return nil
}

// ToFloat converts a numeric parameter value decoded from YAML or code.
// NaN and infinities are rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToInt converts a whole-number parameter value.
func ToInt(v any) (int, bool) {
	f, ok := ToFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
