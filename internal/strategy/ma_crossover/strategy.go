package ma_crossover

import (
	"fmt"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/indicator"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/strategy"
)

// Name is the registry key.
const Name = "ma_crossover"

// MACrossover implements a moving average crossover strategy
type MACrossover struct {
	fastPeriod int
	slowPeriod int
}

// New creates a new MA Crossover strategy
func New(fastPeriod, slowPeriod int) (*MACrossover, error) {
	if fastPeriod < 1 || slowPeriod <= fastPeriod {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("ma_crossover: need 1 <= fast_period < slow_period, got %d/%d", fastPeriod, slowPeriod))
	}
	return &MACrossover{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
	}, nil
}

// Factory builds the strategy from strategy.fast_period and
// strategy.slow_period.
func Factory(params strategy.Params) (strategy.Source, error) {
	fast, err := params.Int("fast_period", 5)
	if err != nil {
		return nil, err
	}
	slow, err := params.Int("slow_period", 20)
	if err != nil {
		return nil, err
	}
	return New(fast, slow)
}

// DefaultRanges is the default optimizer sweep.
func DefaultRanges() []config.ParamRange {
	return []config.ParamRange{
		{Name: config.StrategyPrefix + "fast_period", Values: []any{5, 10}},
		{Name: config.StrategyPrefix + "slow_period", Values: []any{20, 30}},
	}
}

func (m *MACrossover) Name() string {
	return Name
}

func (m *MACrossover) Description() string {
	return fmt.Sprintf("MA Crossover (%d/%d)", m.fastPeriod, m.slowPeriod)
}

// Warmup needs one bar beyond the slow window to see a cross.
func (m *MACrossover) Warmup() int {
	return m.slowPeriod + 1
}

func (m *MACrossover) fastKey() string { return fmt.Sprintf("sma_%d", m.fastPeriod) }
func (m *MACrossover) slowKey() string { return fmt.Sprintf("sma_%d", m.slowPeriod) }

// averages returns current and previous fast and slow averages. Columns
// attached upstream as sma_<period> are preferred over recomputing.
func (m *MACrossover) averages(history []core.Bar) (currFast, prevFast, currSlow, prevSlow float64, ok bool) {
	if len(history) < 2 {
		return 0, 0, 0, 0, false
	}
	curr, prev := history[len(history)-1], history[len(history)-2]
	cf, pf := curr.Indicator(m.fastKey()), prev.Indicator(m.fastKey())
	cs, ps := curr.Indicator(m.slowKey()), prev.Indicator(m.slowKey())
	if cf.IsSome() && pf.IsSome() && cs.IsSome() && ps.IsSome() {
		return cf.Unwrap(), pf.Unwrap(), cs.Unwrap(), ps.Unwrap(), true
	}

	if len(history) < m.Warmup() {
		return 0, 0, 0, 0, false
	}
	prices := indicator.Closes(strategy.Tail(history, m.Warmup()))
	var okFast, okSlow bool
	currFast, prevFast, okFast = indicator.Last(indicator.SMA(prices, m.fastPeriod))
	currSlow, prevSlow, okSlow = indicator.Last(indicator.SMA(prices, m.slowPeriod))
	return currFast, prevFast, currSlow, prevSlow, okFast && okSlow
}

// Buy fires on a golden cross: fast crosses above slow.
func (m *MACrossover) Buy(history []core.Bar) core.Signal {
	currFast, prevFast, currSlow, prevSlow, ok := m.averages(history)
	if !ok || !(prevFast <= prevSlow && currFast > currSlow) {
		return core.NoSignal()
	}
	return m.signal(core.SignalBuy, history, currFast, currSlow,
		fmt.Sprintf("Golden Cross: MA%d (%.2f) crossed above MA%d (%.2f)", m.fastPeriod, currFast, m.slowPeriod, currSlow))
}

// Sell fires on a death cross: fast crosses below slow.
func (m *MACrossover) Sell(history []core.Bar, _ ledger.Position) core.Signal {
	currFast, prevFast, currSlow, prevSlow, ok := m.averages(history)
	if !ok || !(prevFast >= prevSlow && currFast < currSlow) {
		return core.NoSignal()
	}
	return m.signal(core.SignalSell, history, currFast, currSlow,
		fmt.Sprintf("Death Cross: MA%d (%.2f) crossed below MA%d (%.2f)", m.fastPeriod, currFast, m.slowPeriod, currSlow))
}

func (m *MACrossover) signal(kind core.SignalKind, history []core.Bar, fast, slow float64, reason string) core.Signal {
	bar := history[len(history)-1]
	return core.Signal{
		Kind:     kind,
		Symbol:   bar.Symbol,
		Strategy: Name,
		Strength: m.calculateConfidence(fast, slow),
		Reasons:  []string{reason},
		Snapshot: map[string]float64{
			"fast_ma": fast,
			"slow_ma": slow,
			"close":   bar.Close,
		},
		Time: bar.Time,
	}
}

// calculateConfidence returns higher confidence for larger divergence
func (m *MACrossover) calculateConfidence(fast, slow float64) float64 {
	if slow == 0 {
		return core.DefaultStrength
	}
	diff := (fast - slow) / slow
	if diff < 0 {
		diff = -diff
	}

	// Scale to 0.5-0.9 range based on divergence
	confidence := 0.5 + (diff * 10)
	if confidence > 0.9 {
		confidence = 0.9
	}
	return confidence
}
