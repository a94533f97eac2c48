package performance

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/newthinker/tradecore/internal/backtest"
)

// DrawdownPeriod is one stretch below a previous equity peak.
type DrawdownPeriod struct {
	Start  time.Time `json:"start" yaml:"start"`
	Trough time.Time `json:"trough" yaml:"trough"`
	// End is the recovery sample, or the last sample when Ongoing.
	End       time.Time     `json:"end" yaml:"end"`
	Peak      float64       `json:"peak" yaml:"peak"`
	TroughVal float64       `json:"trough_value" yaml:"trough_value"`
	Depth     float64       `json:"depth" yaml:"depth"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Ongoing   bool          `json:"ongoing" yaml:"ongoing"`
}

// DrawdownPeriods segments the curve into drawdowns, deepest first. A
// period starts at the first sample below the running peak and ends at the
// first sample back at or above it.
func DrawdownPeriods(samples []backtest.EquitySample) []DrawdownPeriod {
	var (
		out  []DrawdownPeriod
		cur  *DrawdownPeriod
		peak float64
	)
	for i, s := range samples {
		if i == 0 {
			peak = s.Equity
			continue
		}
		if s.Equity >= peak {
			if cur != nil {
				cur.End = s.Time
				cur.Duration = cur.End.Sub(cur.Start)
				out = append(out, *cur)
				cur = nil
			}
			peak = s.Equity
			continue
		}
		if peak <= 0 {
			continue
		}

		depth := (peak - s.Equity) / peak
		if cur == nil {
			cur = &DrawdownPeriod{Start: s.Time, Peak: peak}
		}
		if depth > cur.Depth {
			cur.Depth = depth
			cur.Trough = s.Time
			cur.TroughVal = s.Equity
		}
	}
	if cur != nil {
		last := samples[len(samples)-1]
		cur.End = last.Time
		cur.Duration = cur.End.Sub(cur.Start)
		cur.Ongoing = true
		out = append(out, *cur)
	}

	slices.SortStableFunc(out, func(a, b DrawdownPeriod) int {
		return cmp.Compare(b.Depth, a.Depth)
	})
	return out
}

// MonthlyReturn is the equity change over one calendar month.
type MonthlyReturn struct {
	Month  string  `json:"month" yaml:"month"`
	Return float64 `json:"return" yaml:"return"`
}

// MonthlyReturns measures each month from the previous month's last sample
// to its own last sample. The first month starts from its first sample.
func MonthlyReturns(samples []backtest.EquitySample) []MonthlyReturn {
	var out []MonthlyReturn
	if len(samples) == 0 {
		return out
	}

	base := samples[0].Equity
	month := monthKey(samples[0].Time)
	for i, s := range samples {
		key := monthKey(s.Time)
		if key != month {
			end := samples[i-1].Equity
			out = append(out, MonthlyReturn{Month: month, Return: ratio(end, base)})
			base, month = end, key
		}
	}
	out = append(out, MonthlyReturn{Month: month, Return: ratio(samples[len(samples)-1].Equity, base)})
	return out
}

func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

func ratio(end, base float64) float64 {
	if base == 0 {
		return 0
	}
	return end/base - 1
}

// RollingPoint holds statistics over the window ending at Time.
type RollingPoint struct {
	Time        time.Time `json:"time" yaml:"time"`
	Return      float64   `json:"return" yaml:"return"`
	Volatility  float64   `json:"volatility" yaml:"volatility"`
	Sharpe      float64   `json:"sharpe" yaml:"sharpe"`
	MaxDrawdown float64   `json:"max_drawdown" yaml:"max_drawdown"`
}

// Rolling computes window-length statistics over the returns of samples.
// Only complete windows are reported.
func Rolling(samples []backtest.EquitySample, window int) []RollingPoint {
	equity := equityValues(samples)
	returns := Returns(equity)
	if window <= 1 || len(returns) < window {
		return nil
	}

	out := make([]RollingPoint, 0, len(returns)-window+1)
	for end := window; end <= len(returns); end++ {
		w := returns[end-window : end]
		var sharpe float64
		if std := stddev(w); std >= flat {
			sharpe = mean(w) / std * math.Sqrt(TradingDays)
		}
		out = append(out, RollingPoint{
			// returns[k] ends at samples[k+1]
			Time:        samples[end].Time,
			Return:      TotalReturn(w),
			Volatility:  stddev(w) * math.Sqrt(float64(window)),
			Sharpe:      sharpe,
			MaxDrawdown: MaxDrawdown(equity[end-window : end+1]),
		})
	}
	return out
}

func equityValues(samples []backtest.EquitySample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Equity
	}
	return out
}
