// Package price_band buys near the bottom of the recent trading range and
// sells near its top.
package price_band

import (
	"fmt"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/strategy"
)

const Name = "price_band"

// PriceBand places the close within the high/low range of the last lookback
// bars: 0 is the low, 1 the high.
type PriceBand struct {
	lookback      int
	lowThreshold  float64
	highThreshold float64
}

func New(lookback int, lowThreshold, highThreshold float64) (*PriceBand, error) {
	if lookback < 2 || lowThreshold < 0 || highThreshold > 1 || lowThreshold >= highThreshold {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("price_band: lookback %d, band %.2f-%.2f", lookback, lowThreshold, highThreshold))
	}
	return &PriceBand{lookback: lookback, lowThreshold: lowThreshold, highThreshold: highThreshold}, nil
}

func Factory(params strategy.Params) (strategy.Source, error) {
	lookback, err := params.Int("band_lookback", 20)
	if err != nil {
		return nil, err
	}
	low, err := params.Float("band_low", 0.1)
	if err != nil {
		return nil, err
	}
	high, err := params.Float("band_high", 0.9)
	if err != nil {
		return nil, err
	}
	return New(lookback, low, high)
}

func DefaultRanges() []config.ParamRange {
	return []config.ParamRange{
		{Name: config.StrategyPrefix + "band_lookback", Values: []any{10, 20, 40}},
		{Name: config.StrategyPrefix + "band_low", Values: []any{0.05, 0.1, 0.2}},
	}
}

func (p *PriceBand) Name() string { return Name }

func (p *PriceBand) Description() string {
	return fmt.Sprintf("Price Band (%d bars, low: %.2f, high: %.2f)", p.lookback, p.lowThreshold, p.highThreshold)
}

func (p *PriceBand) Warmup() int { return p.lookback }

// position returns where the current close sits in the range, or false
// when the range is flat or history is short.
func (p *PriceBand) position(history []core.Bar) (pos, lo, hi float64, ok bool) {
	if len(history) < p.lookback {
		return 0, 0, 0, false
	}
	prices := indicator.Closes(strategy.Tail(history, p.lookback))
	hi = indicator.Highest(prices, p.lookback)[len(prices)-1]
	lo = indicator.Lowest(prices, p.lookback)[len(prices)-1]
	if hi <= lo {
		return 0, lo, hi, false
	}
	return (prices[len(prices)-1] - lo) / (hi - lo), lo, hi, true
}

func (p *PriceBand) Buy(history []core.Bar) core.Signal {
	pos, lo, hi, ok := p.position(history)
	if !ok || pos >= p.lowThreshold {
		return core.NoSignal()
	}
	return p.signal(core.SignalBuy, history, pos, lo, hi,
		fmt.Sprintf("Close in bottom of %d-bar range (%.2f < %.2f)", p.lookback, pos, p.lowThreshold),
		p.calculateConfidence(pos, p.lowThreshold, true))
}

func (p *PriceBand) Sell(history []core.Bar, _ ledger.Position) core.Signal {
	pos, lo, hi, ok := p.position(history)
	if !ok || pos <= p.highThreshold {
		return core.NoSignal()
	}
	return p.signal(core.SignalSell, history, pos, lo, hi,
		fmt.Sprintf("Close in top of %d-bar range (%.2f > %.2f)", p.lookback, pos, p.highThreshold),
		p.calculateConfidence(pos, p.highThreshold, false))
}

func (p *PriceBand) signal(kind core.SignalKind, history []core.Bar, pos, lo, hi float64, reason string, strength float64) core.Signal {
	bar := history[len(history)-1]
	return core.Signal{
		Kind:     kind,
		Symbol:   bar.Symbol,
		Strategy: Name,
		Strength: strength,
		Reasons:  []string{reason},
		Snapshot: map[string]float64{"band_position": pos, "range_low": lo, "range_high": hi},
		Time:     bar.Time,
	}
}

func (p *PriceBand) calculateConfidence(pos, threshold float64, isBuy bool) float64 {
	var diff float64
	if isBuy {
		diff = threshold - pos
	} else {
		diff = pos - threshold
	}
	confidence := 0.5 + (diff * 2)
	if confidence > 0.9 {
		confidence = 0.9
	}
	if confidence < 0.5 {
		confidence = 0.5
	}
	return confidence
}
