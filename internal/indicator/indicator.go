// Package indicator computes price series aligned index-for-index with the
// bars they are derived from.
package indicator

import (
	"fmt"
	"math"

	"github.com/newthinker/tradecore/internal/core"
)

// SMA calculates Simple Moving Average.
// Returns a slice of len(prices); the first period-1 entries are NaN.
func SMA(prices []float64, period int) []float64 {
	result := nanSeries(len(prices))
	if period <= 0 || len(prices) < period {
		return result
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	result[period-1] = sum / float64(period)

	// Rolling calculation
	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		result[i] = sum / float64(period)
	}

	return result
}

// EMA calculates Exponential Moving Average seeded with the SMA of the first
// period prices. Alignment matches SMA.
func EMA(prices []float64, period int) []float64 {
	result := nanSeries(len(prices))
	if period <= 0 || len(prices) < period {
		return result
	}

	multiplier := 2.0 / float64(period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)
	result[period-1] = ema

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
		result[i] = ema
	}

	return result
}

// Highest returns the rolling maximum over period bars.
func Highest(prices []float64, period int) []float64 {
	return rolling(prices, period, math.Max)
}

// Lowest returns the rolling minimum over period bars.
func Lowest(prices []float64, period int) []float64 {
	return rolling(prices, period, math.Min)
}

func rolling(prices []float64, period int, pick func(a, b float64) float64) []float64 {
	result := nanSeries(len(prices))
	if period <= 0 {
		return result
	}
	for i := period - 1; i < len(prices); i++ {
		v := prices[i-period+1]
		for _, p := range prices[i-period+2 : i+1] {
			v = pick(v, p)
		}
		result[i] = v
	}
	return result
}

// Closes extracts closing prices.
func Closes(bars []core.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Attach returns copies of bars with series[i] stored under name on bar i.
// The input bars are not modified.
func Attach(bars []core.Bar, name string, series []float64) ([]core.Bar, error) {
	if len(series) != len(bars) {
		return nil, fmt.Errorf("indicator %s: %d values for %d bars", name, len(series), len(bars))
	}
	out := make([]core.Bar, len(bars))
	for i, b := range bars {
		out[i] = b.WithIndicator(name, series[i])
	}
	return out, nil
}

// Last returns the final two values of series, the current and previous.
// ok is false when either is NaN or the series is too short.
func Last(series []float64) (curr, prev float64, ok bool) {
	n := len(series)
	if n < 2 {
		return 0, 0, false
	}
	curr, prev = series[n-1], series[n-2]
	if math.IsNaN(curr) || math.IsNaN(prev) {
		return 0, 0, false
	}
	return curr, prev, true
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
