package ledger

import (
	"time"

	"github.com/moznion/go-optional"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "stop_loss"
	ExitTakeProfit     ExitReason = "take_profit"
	ExitMaxHoldingTime ExitReason = "max_holding_time"
	ExitStrategySignal ExitReason = "strategy_signal"
	ExitEndOfPeriod    ExitReason = "end_of_period"
)

// ExitReasons lists every reason in reporting order.
var ExitReasons = []ExitReason{
	ExitStopLoss,
	ExitTakeProfit,
	ExitMaxHoldingTime,
	ExitStrategySignal,
	ExitEndOfPeriod,
}

// StopKind tells whether the stop is still the initial level or has been
// raised by the trailing rule.
type StopKind string

const (
	StopFixed    StopKind = "fixed"
	StopTrailing StopKind = "trailing"
)

// EntrySignal is the metadata of the signal that opened a position.
type EntrySignal struct {
	Strategy string             `json:"strategy"`
	Strength float64            `json:"strength"`
	Reasons  []string           `json:"reasons,omitempty"`
	Snapshot map[string]float64 `json:"snapshot,omitempty"`
}

// Position is one open long exposure in one instrument.
type Position struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	// Quantity is counted in lots; LotSize shares per lot.
	Quantity        int64     `json:"quantity"`
	LotSize         int64     `json:"lot_size"`
	EntryPrice      float64   `json:"entry_price"`
	EntryTime       time.Time `json:"entry_time"`
	EntryCommission float64   `json:"entry_commission"`
	StopLoss        float64   `json:"stop_loss"`
	// TakeProfit is None when the policy sets no profit target.
	TakeProfit optional.Option[float64] `json:"take_profit"`
	// HighWater is the highest price seen since entry.
	HighWater float64     `json:"high_water"`
	StopKind  StopKind    `json:"stop_kind"`
	Signal    EntrySignal `json:"signal"`
}

// Shares returns the quantity in units of the instrument.
func (p Position) Shares() int64 {
	lot := p.LotSize
	if lot <= 0 {
		lot = 1
	}
	return p.Quantity * lot
}

// EntryValue is the notional paid at entry, excluding commission.
func (p Position) EntryValue() float64 {
	return p.EntryPrice * float64(p.Shares())
}

// MarketValue marks the position at price.
func (p Position) MarketValue(price float64) float64 {
	return price * float64(p.Shares())
}

// UnrealizedPnL is the mark-to-market gain before exit commission.
func (p Position) UnrealizedPnL(price float64) float64 {
	return p.MarketValue(price) - p.EntryValue() - p.EntryCommission
}

// EntryInfo describes a fill that opens a position.
type EntryInfo struct {
	Price      float64
	Quantity   int64
	LotSize    int64
	Time       time.Time
	Commission float64
	StopLoss   float64
	TakeProfit optional.Option[float64]
	Signal     EntrySignal
}

// ExitInfo describes a fill that closes a position.
type ExitInfo struct {
	Price      float64
	Time       time.Time
	Reason     ExitReason
	Commission float64
}

// StopUpdate carries the trailing-stop fields Update may change.
type StopUpdate struct {
	StopLoss  float64
	HighWater float64
	StopKind  StopKind
}

// ClosedTrade is the immutable record of a closed position.
type ClosedTrade struct {
	Position       Position      `json:"position"`
	ExitPrice      float64       `json:"exit_price"`
	ExitTime       time.Time     `json:"exit_time"`
	Reason         ExitReason    `json:"reason"`
	ExitCommission float64       `json:"exit_commission"`
	Profit         float64       `json:"profit"`
	ProfitPercent  float64       `json:"profit_percent"`
	Holding        time.Duration `json:"holding"`
}

// CloseValue is the notional received at exit, excluding commission.
func (t ClosedTrade) CloseValue() float64 {
	return t.ExitPrice * float64(t.Position.Shares())
}

// Commission is the total paid on both legs.
func (t ClosedTrade) Commission() float64 {
	return t.Position.EntryCommission + t.ExitCommission
}

// IsWin reports a strictly positive realized profit.
func (t ClosedTrade) IsWin() bool {
	return t.Profit > 0
}

// IsLoss reports a strictly negative realized profit. Break-even trades are
// neither wins nor losses.
func (t ClosedTrade) IsLoss() bool {
	return t.Profit < 0
}

// EventKind distinguishes ledger history entries.
type EventKind string

const (
	EventOpen  EventKind = "open"
	EventClose EventKind = "close"
)

// Event is one append-only history entry.
type Event struct {
	Kind       EventKind  `json:"kind"`
	PositionID string     `json:"position_id"`
	Symbol     string     `json:"symbol"`
	Price      float64    `json:"price"`
	Quantity   int64      `json:"quantity"`
	Commission float64    `json:"commission"`
	Reason     ExitReason `json:"reason,omitempty"`
	Time       time.Time  `json:"time"`
}

// Metrics aggregates closed-trade performance.
type Metrics struct {
	TotalTrades     int     `json:"total_trades" yaml:"total_trades"`
	WinningTrades   int     `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades    int     `json:"losing_trades" yaml:"losing_trades"`
	WinRate         float64 `json:"win_rate" yaml:"win_rate"` // percent
	AverageWin      float64 `json:"average_win" yaml:"average_win"`
	AverageLoss     float64 `json:"average_loss" yaml:"average_loss"` // negative or zero
	TotalProfit     float64 `json:"total_profit" yaml:"total_profit"`
	TotalCommission float64 `json:"total_commission" yaml:"total_commission"`
	// ProfitFactor is +Inf when there are trades but no losses.
	ProfitFactor   float64       `json:"profit_factor" yaml:"profit_factor"`
	AverageHolding time.Duration `json:"average_holding" yaml:"average_holding"`
}
