package risk

import (
	"math/rand"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/ledger"
)

func testPolicy() Policy {
	return Policy{
		StopLossPercent:       2,
		TakeProfitPercent:     4,
		TrailingStopPercent:   2,
		MaxPositionFraction:   0.9,
		MaxPositions:          1,
		MaxHoldingDays:        7,
		MaxCapitalUtilization: 0.9,
		CommissionRate:        0.003,
		LotSize:               1,
	}
}

func openAt(p Policy, entry float64, at time.Time) ledger.Position {
	stop, take := p.InitialStops(entry, true)
	return ledger.Position{
		Symbol:     "SBER",
		Quantity:   10,
		LotSize:    1,
		EntryPrice: entry,
		EntryTime:  at,
		StopLoss:   stop,
		TakeProfit: take,
		HighWater:  entry,
		StopKind:   ledger.StopFixed,
	}
}

func TestNewPolicy(t *testing.T) {
	cfg := config.Defaults()
	p := NewPolicy(cfg)

	assert.Equal(t, cfg.Risk.StopLossPercent, p.StopLossPercent)
	assert.Equal(t, cfg.Risk.TrailingStopPercent, p.TrailingStopPercent)
	assert.Equal(t, cfg.Risk.MaxCapitalUtilization, p.MaxCapitalUtilization)
	assert.Equal(t, cfg.Simulation.CommissionRate, p.CommissionRate)
	assert.Equal(t, cfg.Simulation.LotSize, p.LotSize)
}

func TestInitialStops(t *testing.T) {
	p := testPolicy()

	stop, take := p.InitialStops(100, true)
	assert.InDelta(t, 98.0, stop, 1e-9)
	require.True(t, take.IsSome())
	assert.InDelta(t, 104.0, take.Unwrap(), 1e-9)

	stop, take = p.InitialStops(100, false)
	assert.InDelta(t, 102.0, stop, 1e-9)
	assert.InDelta(t, 96.0, take.Unwrap(), 1e-9)

	p.TakeProfitPercent = 0
	_, take = p.InitialStops(100, true)
	assert.True(t, take.IsNone())
}

func TestSizePosition(t *testing.T) {
	tests := []struct {
		name      string
		capital   float64
		price     float64
		lotSize   int64
		open      []ledger.Position
		wantLots  int64
		wantValue float64
	}{
		{"fraction of capital", 50000, 500, 1, nil, 89, 44500},
		{"lot aligned", 50000, 500, 10, nil, 8, 40000},
		{"used capital deducted", 50000, 500, 1,
			[]ledger.Position{{Symbol: "GAZP", Quantity: 400, LotSize: 1, EntryPrice: 100}}, 19, 9500},
		{"cannot afford one lot", 1000, 2000, 1, nil, 0, 0},
		{"no free capital", 50000, 10, 1,
			[]ledger.Position{{Symbol: "GAZP", Quantity: 500, LotSize: 1, EntryPrice: 100}}, 0, 0},
		{"zero price", 50000, 0, 1, nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPolicy()
			p.LotSize = tt.lotSize
			value, lots := p.SizePosition(tt.capital, tt.price, tt.open)
			assert.Equal(t, tt.wantLots, lots)
			assert.InDelta(t, tt.wantValue, value, 1e-6)
		})
	}
}

func TestSizePosition_NeverExceedsBudget(t *testing.T) {
	p := testPolicy()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		capital := 1000 + rng.Float64()*100000
		price := 1 + rng.Float64()*1000
		value, lots := p.SizePosition(capital, price, nil)
		if lots == 0 {
			continue
		}
		assert.LessOrEqual(t, value*(1+p.CommissionRate), p.MaxPositionFraction*capital+1e-6)
	}
}

func TestUpdateTrailing_Scenario(t *testing.T) {
	p := testPolicy()
	pos := openAt(p, 100, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))

	u := p.UpdateTrailing(pos, 101)
	assert.False(t, u.Triggered)
	assert.True(t, u.Raised)
	assert.InDelta(t, 98.98, u.Stop, 1e-9)
	assert.Equal(t, 101.0, u.HighWater)
	assert.Equal(t, ledger.StopTrailing, u.Kind)
	pos.StopLoss, pos.HighWater, pos.StopKind = u.Stop, u.HighWater, u.Kind

	u = p.UpdateTrailing(pos, 99)
	assert.False(t, u.Triggered)
	assert.False(t, u.Raised)
	assert.InDelta(t, 98.98, u.Stop, 1e-9)
	pos.StopLoss, pos.HighWater, pos.StopKind = u.Stop, u.HighWater, u.Kind

	u = p.UpdateTrailing(pos, 97)
	assert.True(t, u.Triggered)
	assert.Greater(t, u.Stop, 98.0)

	reason := p.CheckExit(pos, 97, pos.EntryTime.Add(72*time.Hour))
	require.True(t, reason.IsSome())
	assert.Equal(t, ledger.ExitStopLoss, reason.Unwrap())
}

func TestUpdateTrailing_TriggerUsesExistingStop(t *testing.T) {
	p := testPolicy()
	pos := openAt(p, 100, time.Now())
	pos.HighWater = 110
	pos.StopLoss = 98

	// Candidate would be 107.8 but the trigger compares with the held stop.
	u := p.UpdateTrailing(pos, 99)
	assert.False(t, u.Triggered)
	assert.InDelta(t, 107.8, u.Stop, 1e-9)
}

func TestUpdateTrailing_Disabled(t *testing.T) {
	p := testPolicy()
	p.TrailingStopPercent = 0
	pos := openAt(p, 100, time.Now())

	u := p.UpdateTrailing(pos, 150)
	assert.False(t, u.Raised)
	assert.Equal(t, 98.0, u.Stop)
	assert.Equal(t, 150.0, u.HighWater)
	assert.Equal(t, ledger.StopFixed, u.Kind)
}

func TestUpdateTrailing_StopMonotonic(t *testing.T) {
	p := testPolicy()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		pos := openAt(p, 100, time.Now())
		price := 100.0
		for bar := 0; bar < 200; bar++ {
			price *= 1 + (rng.Float64()-0.5)*0.04
			prev := pos.StopLoss
			u := p.UpdateTrailing(pos, price)
			require.GreaterOrEqual(t, u.Stop, prev)
			if u.Triggered {
				break
			}
			pos.StopLoss, pos.HighWater, pos.StopKind = u.Stop, u.HighWater, u.Kind
		}
	}
}

func TestCheckExit(t *testing.T) {
	p := testPolicy()
	entry := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		setup func(*ledger.Position)
		price float64
		now   time.Time
		want  optional.Option[ledger.ExitReason]
	}{
		{"hold", nil, 100, entry.Add(24 * time.Hour), optional.None[ledger.ExitReason]()},
		{"stop at level", nil, 98, entry.Add(time.Hour), optional.Some(ledger.ExitStopLoss)},
		{"take profit at level", nil, 104, entry.Add(time.Hour), optional.Some(ledger.ExitTakeProfit)},
		{"stop wins over target", func(pos *ledger.Position) {
			pos.StopLoss = 110
			pos.TakeProfit = optional.Some(105.0)
		}, 108, entry.Add(time.Hour), optional.Some(ledger.ExitStopLoss)},
		{"target wins over holding", nil, 105, entry.Add(30 * 24 * time.Hour), optional.Some(ledger.ExitTakeProfit)},
		{"holding time reached", nil, 100, entry.Add(7 * 24 * time.Hour), optional.Some(ledger.ExitMaxHoldingTime)},
		{"holding time not reached", nil, 100, entry.Add(7*24*time.Hour - time.Minute), optional.None[ledger.ExitReason]()},
		{"no target", func(pos *ledger.Position) {
			pos.TakeProfit = optional.None[float64]()
		}, 1000, entry.Add(time.Hour), optional.None[ledger.ExitReason]()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := openAt(p, 100, entry)
			if tt.setup != nil {
				tt.setup(&pos)
			}
			got := p.CheckExit(pos, tt.price, tt.now)
			assert.Equal(t, tt.want.IsSome(), got.IsSome())
			if tt.want.IsSome() && got.IsSome() {
				assert.Equal(t, tt.want.Unwrap(), got.Unwrap())
			}
		})
	}
}

func TestCheckExit_HoldingDisabled(t *testing.T) {
	p := testPolicy()
	p.MaxHoldingDays = 0
	entry := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	pos := openAt(p, 100, entry)

	assert.True(t, p.CheckExit(pos, 100, entry.Add(365*24*time.Hour)).IsNone())
}

func TestCheckEntryAllowed(t *testing.T) {
	p := testPolicy()
	p.MaxPositions = 2
	held := ledger.Position{Symbol: "GAZP", Quantity: 10, LotSize: 1, EntryPrice: 100}

	res := p.CheckEntryAllowed(10000, nil)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)

	res = p.CheckEntryAllowed(10000, []ledger.Position{held, held})
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "max open positions")

	big := ledger.Position{Symbol: "LKOH", Quantity: 95, LotSize: 1, EntryPrice: 100}
	res = p.CheckEntryAllowed(10000, []ledger.Position{big})
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "utilization")

	exact := ledger.Position{Symbol: "LKOH", Quantity: 90, LotSize: 1, EntryPrice: 100}
	assert.True(t, p.CheckEntryAllowed(10000, []ledger.Position{exact}).Allowed)

	assert.False(t, p.CheckEntryAllowed(0, nil).Allowed)
}

func TestHoldingDays(t *testing.T) {
	entry := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, HoldingDays(entry, entry.Add(23*time.Hour)))
	assert.Equal(t, 1, HoldingDays(entry, entry.Add(24*time.Hour)))
	assert.Equal(t, 0, HoldingDays(entry, entry.Add(-48*time.Hour)))
}
