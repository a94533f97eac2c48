package optimizer

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/newthinker/tradecore/internal/config"
)

// Windows lays out walk-forward windows over [from, to). Each training
// window spans windowDays and is followed by a validation window of
// stepDays, truncated at to. Windows advance by stepDays until a training
// window would end after to, so validation windows never overlap.
func Windows(from, to time.Time, windowDays, stepDays int) []Window {
	if windowDays <= 0 || stepDays <= 0 {
		return nil
	}

	var out []Window
	for start := from; ; start = start.AddDate(0, 0, stepDays) {
		trainEnd := start.AddDate(0, 0, windowDays)
		if trainEnd.After(to) {
			break
		}
		valEnd := trainEnd.AddDate(0, 0, stepDays)
		if valEnd.After(to) {
			valEnd = to
		}
		out = append(out, Window{
			Index:      len(out),
			Train:      Period{From: start, To: trainEnd},
			Validation: Period{From: trainEnd, To: valEnd},
		})
	}
	return out
}

// Stability scores how consistent the winning parameters are across
// windows, in [0, 1]. Each parameter scores max(0, 1 - cv) where cv is the
// coefficient of variation of its numeric winning values; the result is
// the mean over parameters. Fewer than two windows score 1.
func Stability(winners []map[string]any) float64 {
	if len(winners) < 2 {
		return 1
	}

	names := make(map[string]struct{})
	for _, w := range winners {
		for name := range w {
			names[name] = struct{}{}
		}
	}
	if len(names) == 0 {
		return 1
	}

	var sum float64
	for _, name := range slices.Sorted(maps.Keys(names)) {
		var values []float64
		for _, w := range winners {
			if f, ok := config.ToFloat(w[name]); ok {
				values = append(values, f)
			}
		}
		sum += paramStability(values)
	}
	return sum / float64(len(names))
}

func paramStability(values []float64) float64 {
	if len(values) < 2 {
		return 1
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if mean == 0 {
		return 1
	}

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)))

	cv := std / math.Abs(mean)
	return max(0, 1-min(cv, 1))
}
