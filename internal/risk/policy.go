// Package risk implements the position sizing, stop placement and exit rules
// shared by the simulation engine and the live executor.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/ledger"
)

// Policy is an immutable set of risk parameters. Percent fields are in
// percent units (2 means 2%); fractions are in [0, 1].
type Policy struct {
	StopLossPercent       float64
	TakeProfitPercent     float64
	TrailingStopPercent   float64
	MaxPositionFraction   float64
	MaxPositions          int
	MaxHoldingDays        int
	MaxCapitalUtilization float64
	CommissionRate        float64
	LotSize               int64
}

// NewPolicy builds a Policy from the risk and simulation sections of cfg.
func NewPolicy(cfg *config.Config) Policy {
	return Policy{
		StopLossPercent:       cfg.Risk.StopLossPercent,
		TakeProfitPercent:     cfg.Risk.TakeProfitPercent,
		TrailingStopPercent:   cfg.Risk.TrailingStopPercent,
		MaxPositionFraction:   cfg.Risk.MaxPositionFraction,
		MaxPositions:          cfg.Risk.MaxPositions,
		MaxHoldingDays:        cfg.Risk.MaxHoldingDays,
		MaxCapitalUtilization: cfg.Risk.MaxCapitalUtilization,
		CommissionRate:        cfg.Simulation.CommissionRate,
		LotSize:               cfg.Simulation.LotSize,
	}
}

func (p Policy) lot() int64 {
	if p.LotSize <= 0 {
		return 1
	}
	return p.LotSize
}

// UsedCapital sums the entry value of open positions.
func UsedCapital(open []ledger.Position) float64 {
	var used float64
	for _, pos := range open {
		used += pos.EntryValue()
	}
	return used
}

// SizePosition returns the cash value and lot count of a new entry at price.
// The budget is the smaller of free capital and MaxPositionFraction of
// capital; commission is reserved out of it. Returns (0, 0) when not even
// one lot is affordable.
func (p Policy) SizePosition(capital, price float64, open []ledger.Position) (float64, int64) {
	if capital <= 0 || price <= 0 || math.IsNaN(price) {
		return 0, 0
	}
	budget := math.Min(capital-UsedCapital(open), p.MaxPositionFraction*capital)
	if budget <= 0 {
		return 0, 0
	}

	lot := p.lot()
	unit := decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(lot)).
		Mul(decimal.NewFromFloat(1 + p.CommissionRate))
	lots := decimal.NewFromFloat(budget).Div(unit).Floor().IntPart()
	if lots < 1 {
		return 0, 0
	}

	value, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(lots * lot)).Float64()
	return value, lots
}

// Commission returns the commission charged on a fill of value.
func (p Policy) Commission(value float64) float64 {
	return value * p.CommissionRate
}

// InitialStops returns the stop-loss and take-profit for a new position.
// Take-profit is None when TakeProfitPercent is zero.
func (p Policy) InitialStops(entry float64, isLong bool) (float64, optional.Option[float64]) {
	sl := p.StopLossPercent / 100
	tp := p.TakeProfitPercent / 100
	if !isLong {
		sl, tp = -sl, -tp
	}

	stop := entry * (1 - sl)
	if p.TakeProfitPercent <= 0 {
		return stop, optional.None[float64]()
	}
	return stop, optional.Some(entry * (1 + tp))
}

// TrailingUpdate is the outcome of UpdateTrailing.
type TrailingUpdate struct {
	// Triggered is true when price is at or below the stop held before
	// this update.
	Triggered bool
	Stop      float64
	HighWater float64
	Kind      ledger.StopKind
	// Raised reports that Stop is strictly above the previous stop.
	Raised bool
}

// StopUpdate converts the outcome into a ledger update.
func (u TrailingUpdate) StopUpdate() ledger.StopUpdate {
	return ledger.StopUpdate{StopLoss: u.Stop, HighWater: u.HighWater, StopKind: u.Kind}
}

// UpdateTrailing tracks the high-water mark of pos and ratchets its stop.
// The trigger test uses the existing stop, never the candidate, so the stop
// never moves down while the position is held.
func (p Policy) UpdateTrailing(pos ledger.Position, price float64) TrailingUpdate {
	kind := pos.StopKind
	if kind == "" {
		kind = ledger.StopFixed
	}
	out := TrailingUpdate{
		Stop:      pos.StopLoss,
		HighWater: math.Max(pos.HighWater, price),
		Kind:      kind,
	}

	if price <= pos.StopLoss {
		out.Triggered = true
		return out
	}
	if p.TrailingStopPercent <= 0 {
		return out
	}

	candidate := out.HighWater * (1 - p.TrailingStopPercent/100)
	if candidate > pos.StopLoss {
		out.Stop = candidate
		out.Kind = ledger.StopTrailing
		out.Raised = true
	}
	return out
}

// CheckExit reports the first exit rule that fires, in order stop-loss,
// take-profit, holding time.
func (p Policy) CheckExit(pos ledger.Position, price float64, now time.Time) optional.Option[ledger.ExitReason] {
	if price <= pos.StopLoss {
		return optional.Some(ledger.ExitStopLoss)
	}
	if pos.TakeProfit.IsSome() && price >= pos.TakeProfit.Unwrap() {
		return optional.Some(ledger.ExitTakeProfit)
	}
	if p.MaxHoldingDays > 0 && HoldingDays(pos.EntryTime, now) >= p.MaxHoldingDays {
		return optional.Some(ledger.ExitMaxHoldingTime)
	}
	return optional.None[ledger.ExitReason]()
}

// HoldingDays counts whole elapsed 24h periods between entry and now.
func HoldingDays(entry, now time.Time) int {
	if now.Before(entry) {
		return 0
	}
	return int(now.Sub(entry) / (24 * time.Hour))
}

// CheckResult is the outcome of an entry gate.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// CheckEntryAllowed rejects a new entry when the position limit is reached
// or when used capital already exceeds MaxCapitalUtilization of capital.
func (p Policy) CheckEntryAllowed(capital float64, open []ledger.Position) CheckResult {
	if len(open) >= p.MaxPositions {
		return CheckResult{
			Allowed: false,
			Reason:  fmt.Sprintf("max open positions reached: %d >= %d", len(open), p.MaxPositions),
		}
	}
	if capital <= 0 {
		return CheckResult{Allowed: false, Reason: "no capital"}
	}

	used := UsedCapital(open)
	utilization := used / capital
	if utilization > p.MaxCapitalUtilization {
		return CheckResult{
			Allowed: false,
			Reason: fmt.Sprintf("capital utilization too high: %.2f%% > %.2f%%",
				utilization*100, p.MaxCapitalUtilization*100),
		}
	}

	return CheckResult{Allowed: true}
}
