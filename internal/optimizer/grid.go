package optimizer

import (
	"maps"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/performance"
)

// Combinations expands ranges into their Cartesian product. The last range
// varies fastest. No ranges yield a single empty combination; a range with
// no values yields none.
func Combinations(ranges []config.ParamRange) []map[string]any {
	total := Count(ranges)
	out := make([]map[string]any, 0, total)
	if total == 0 {
		return out
	}

	idx := make([]int, len(ranges))
	for range total {
		combo := make(map[string]any, len(ranges))
		for i, pr := range ranges {
			combo[pr.Name] = pr.Values[idx[i]]
		}
		out = append(out, combo)

		for i := len(ranges) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(ranges[i].Values) {
				break
			}
			idx[i] = 0
		}
	}
	return out
}

// Count is the number of combinations in ranges.
func Count(ranges []config.ParamRange) int {
	n := 1
	for _, pr := range ranges {
		n *= len(pr.Values)
	}
	return n
}

// better reports whether a beats b on metric. Equal values keep the
// combination found first in grid order.
func better(metric string, a, b Trial) bool {
	if a.Value == b.Value {
		return a.Index < b.Index
	}
	if performance.HigherIsBetter(metric) {
		return a.Value > b.Value
	}
	return a.Value < b.Value
}

// tracker owns the running best of a sweep. It is used from one goroutine.
type tracker struct {
	metric string
	best   *Trial
	trials []Trial
	failed int
}

func (t *tracker) add(trial Trial) {
	t.trials = append(t.trials, trial)
	if !trial.OK() {
		t.failed++
		return
	}
	if t.best == nil || better(t.metric, trial, *t.best) {
		best := trial
		best.Params = maps.Clone(trial.Params)
		t.best = &best
	}
}
