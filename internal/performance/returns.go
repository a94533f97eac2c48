package performance

import (
	"math"
	"slices"
)

// TradingDays is the annualization convention.
const TradingDays = 252

// flat is the deviation below which a series is treated as constant.
const flat = 1e-12

// Returns computes pairwise simple returns. The result has one element
// fewer than equity; a zero previous value yields a zero return.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out[i-1] = equity[i]/equity[i-1] - 1
	}
	return out
}

// TotalReturn compounds a return series.
func TotalReturn(returns []float64) float64 {
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	return growth - 1
}

// AnnualizedReturn scales total over n daily samples to a year.
func AnnualizedReturn(total float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	if total <= -1 {
		return -1
	}
	return math.Pow(1+total, float64(TradingDays)/float64(n)) - 1
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of
// the peak, in [0, 1] for non-negative equity.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}

	var maxDD float64
	peak := equity[0]
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Volatility is the annualized sample standard deviation of returns.
func Volatility(returns []float64) float64 {
	return stddev(returns) * math.Sqrt(TradingDays)
}

// DailyRate converts an annual rate to a daily one.
func DailyRate(annual float64) float64 {
	return math.Pow(1+annual, 1.0/TradingDays) - 1
}

// Sharpe is the annualized mean excess return over the sample standard
// deviation. Zero when returns do not vary.
func Sharpe(returns []float64, riskFree float64) float64 {
	std := stddev(returns)
	if std < flat {
		return 0
	}
	return (mean(returns) - DailyRate(riskFree)) / std * math.Sqrt(TradingDays)
}

// Sortino is Sharpe with the deviation of negative returns only.
func Sortino(returns []float64, riskFree float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	std := stddev(downside)
	if std < flat {
		return 0
	}
	return (mean(returns) - DailyRate(riskFree)) / std * math.Sqrt(TradingDays)
}

// Calmar is annualized return over max drawdown, zero without drawdown.
func Calmar(annual, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return annual / maxDrawdown
}

// VaR is the empirical loss not exceeded with the given confidence,
// reported as a positive fraction. Negative when even the tail gains.
func VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return -percentile(returns, 1-confidence)
}

// CVaR is the mean loss of returns at or below the VaR percentile.
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cutoff := percentile(returns, 1-confidence)
	var sum float64
	var n int
	for _, r := range returns {
		if r <= cutoff {
			sum += r
			n++
		}
	}
	return -sum / float64(n)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation, zero below two values.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var variance float64
	for _, x := range xs {
		variance += (x - m) * (x - m)
	}
	return math.Sqrt(variance / float64(len(xs)-1))
}

// percentile interpolates linearly between closest ranks; q is in [0, 1].
func percentile(xs []float64, q float64) float64 {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
