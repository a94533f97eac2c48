package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
)

// PositionRisk is the exposure of one open position marked at a price.
type PositionRisk struct {
	Symbol        string  `json:"symbol" yaml:"symbol"`
	EntryPrice    float64 `json:"entry_price" yaml:"entry_price"`
	Price         float64 `json:"price" yaml:"price"`
	StopLoss      float64 `json:"stop_loss" yaml:"stop_loss"`
	Value         float64 `json:"value" yaml:"value"`
	UnrealizedPnL float64 `json:"unrealized_pnl" yaml:"unrealized_pnl"`
	// StopDistance is the percent the price must fall to hit the stop.
	StopDistance float64 `json:"stop_distance" yaml:"stop_distance"`
	RiskAmount   float64 `json:"risk_amount" yaml:"risk_amount"`
	RiskPercent  float64 `json:"risk_percent" yaml:"risk_percent"`
}

// Report summarizes portfolio exposure against capital.
type Report struct {
	TotalPositions  int            `json:"total_positions" yaml:"total_positions"`
	TotalExposure   float64        `json:"total_exposure" yaml:"total_exposure"`
	TotalRisk       float64        `json:"total_risk" yaml:"total_risk"`
	ExposurePercent float64        `json:"exposure_percent" yaml:"exposure_percent"`
	RiskPercent     float64        `json:"risk_percent" yaml:"risk_percent"`
	Positions       []PositionRisk `json:"positions" yaml:"positions"`
}

// Report marks each position at prices[symbol], falling back to its entry
// price, and measures the loss taken if every stop were hit.
func (p Policy) Report(open []ledger.Position, prices map[string]float64, capital float64) Report {
	rep := Report{TotalPositions: len(open), Positions: make([]PositionRisk, 0, len(open))}

	for _, pos := range open {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			price = pos.EntryPrice
		}
		value := pos.MarketValue(price)
		rep.TotalExposure += value

		pr := PositionRisk{
			Symbol:        pos.Symbol,
			EntryPrice:    pos.EntryPrice,
			Price:         price,
			StopLoss:      pos.StopLoss,
			Value:         value,
			UnrealizedPnL: pos.UnrealizedPnL(price),
		}
		if price > 0 && pos.StopLoss > 0 {
			pr.StopDistance = (price - pos.StopLoss) / price * 100
			pr.RiskAmount = math.Max(0, (price-pos.StopLoss)*float64(pos.Shares()))
		}
		if capital > 0 {
			pr.RiskPercent = pr.RiskAmount / capital * 100
		}
		rep.TotalRisk += pr.RiskAmount
		rep.Positions = append(rep.Positions, pr)
	}

	if capital > 0 {
		rep.ExposurePercent = rep.TotalExposure / capital * 100
		rep.RiskPercent = rep.TotalRisk / capital * 100
	}
	return rep
}

// TradeRisk describes the risk and reward of a proposed entry.
type TradeRisk struct {
	Price        float64 `json:"price" yaml:"price"`
	StopLoss     float64 `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit   float64 `json:"take_profit,omitempty" yaml:"take_profit,omitempty"`
	Value        float64 `json:"value" yaml:"value"`
	RiskPercent  float64 `json:"risk_percent" yaml:"risk_percent"`
	RiskAmount   float64 `json:"risk_amount" yaml:"risk_amount"`
	RewardAmount float64 `json:"reward_amount" yaml:"reward_amount"`
	// RewardRisk is zero when there is no target or no risk.
	RewardRisk float64 `json:"reward_risk" yaml:"reward_risk"`
}

// TradeRisk evaluates an entry of value at price using the policy's stops.
func (p Policy) TradeRisk(price, value float64) TradeRisk {
	stop, take := p.InitialStops(price, true)
	tr := TradeRisk{Price: price, StopLoss: stop, Value: value}
	if price <= 0 {
		return tr
	}
	tr.RiskPercent = math.Abs(price-stop) / price * 100
	tr.RiskAmount = round2(value * tr.RiskPercent / 100)
	if take.IsSome() {
		tr.TakeProfit = take.Unwrap()
		tr.RewardAmount = round2(value * (tr.TakeProfit - price) / price)
		if tr.RiskAmount > 0 {
			tr.RewardRisk = tr.RewardAmount / tr.RiskAmount
		}
	}
	return tr
}

// ValidateStops checks that a long position has its stop below entry and its
// target above entry.
func ValidateStops(pos ledger.Position) error {
	if pos.StopLoss <= 0 || pos.StopLoss >= pos.EntryPrice {
		return core.WrapError(core.ErrInvalidFill,
			fmt.Errorf("%s: stop loss %.4f not below entry %.4f", pos.Symbol, pos.StopLoss, pos.EntryPrice))
	}
	if pos.TakeProfit.IsSome() && pos.TakeProfit.Unwrap() <= pos.EntryPrice {
		return core.WrapError(core.ErrInvalidFill,
			fmt.Errorf("%s: take profit %.4f not above entry %.4f", pos.Symbol, pos.TakeProfit.Unwrap(), pos.EntryPrice))
	}
	return nil
}

// FixStops replaces invalid stops with the policy's initial levels.
func (p Policy) FixStops(pos ledger.Position) ledger.Position {
	stop, take := p.InitialStops(pos.EntryPrice, true)
	if pos.StopLoss <= 0 || pos.StopLoss >= pos.EntryPrice {
		pos.StopLoss = stop
		pos.StopKind = ledger.StopFixed
	}
	if pos.TakeProfit.IsSome() && pos.TakeProfit.Unwrap() <= pos.EntryPrice {
		pos.TakeProfit = take
	}
	return pos
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
