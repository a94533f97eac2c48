package performance

import (
	"cmp"
	"slices"
	"time"

	"github.com/moznion/go-optional"

	"github.com/newthinker/tradecore/internal/ledger"
)

// MonthStats aggregates the trades that exited in one month.
type MonthStats struct {
	Month  string  `json:"month" yaml:"month"`
	Count  int     `json:"count" yaml:"count"`
	Wins   int     `json:"wins" yaml:"wins"`
	Losses int     `json:"losses" yaml:"losses"`
	Profit float64 `json:"profit" yaml:"profit"`
}

// TradeStats describes a list of closed trades.
type TradeStats struct {
	ledger.Metrics `yaml:",inline"`

	BreakEven         int `json:"break_even" yaml:"break_even"`
	LongestWinStreak  int `json:"longest_win_streak" yaml:"longest_win_streak"`
	LongestLossStreak int `json:"longest_loss_streak" yaml:"longest_loss_streak"`

	Best  optional.Option[ledger.ClosedTrade] `json:"best" yaml:"-"`
	Worst optional.Option[ledger.ClosedTrade] `json:"worst" yaml:"-"`

	ExitReasons map[ledger.ExitReason]int `json:"exit_reasons" yaml:"exit_reasons"`
	Monthly     []MonthStats              `json:"monthly" yaml:"monthly"`
}

// AnalyzeTrades computes trade statistics. Streaks are counted over trades
// in entry order; a break-even trade ends both streaks.
func AnalyzeTrades(trades []ledger.ClosedTrade) TradeStats {
	stats := TradeStats{
		Metrics:     ledger.ComputeMetrics(trades),
		ExitReasons: make(map[ledger.ExitReason]int),
	}
	if len(trades) == 0 {
		return stats
	}

	byEntry := slices.Clone(trades)
	slices.SortStableFunc(byEntry, func(a, b ledger.ClosedTrade) int {
		return a.Position.EntryTime.Compare(b.Position.EntryTime)
	})

	var wins, losses int
	for _, t := range byEntry {
		switch {
		case t.IsWin():
			wins++
			losses = 0
		case t.IsLoss():
			losses++
			wins = 0
		default:
			wins, losses = 0, 0
		}
		stats.LongestWinStreak = max(stats.LongestWinStreak, wins)
		stats.LongestLossStreak = max(stats.LongestLossStreak, losses)
	}

	best, worst := trades[0], trades[0]
	months := make(map[string]int)
	for _, t := range trades {
		if !t.IsWin() && !t.IsLoss() {
			stats.BreakEven++
		}
		if t.Profit > best.Profit {
			best = t
		}
		if t.Profit < worst.Profit {
			worst = t
		}
		stats.ExitReasons[t.Reason]++

		key := monthKey(t.ExitTime)
		idx, ok := months[key]
		if !ok {
			idx = len(stats.Monthly)
			months[key] = idx
			stats.Monthly = append(stats.Monthly, MonthStats{Month: key})
		}
		m := &stats.Monthly[idx]
		m.Count++
		m.Profit += t.Profit
		if t.IsWin() {
			m.Wins++
		} else if t.IsLoss() {
			m.Losses++
		}
	}
	stats.Best = optional.Some(best)
	stats.Worst = optional.Some(worst)

	slices.SortFunc(stats.Monthly, func(a, b MonthStats) int {
		return cmp.Compare(a.Month, b.Month)
	})
	return stats
}

// AverageHoldingDays expresses the average holding time in days.
func (s TradeStats) AverageHoldingDays() float64 {
	return s.AverageHolding.Hours() / 24
}

// HoldingDuration formats the average holding time rounded to minutes.
func (s TradeStats) HoldingDuration() string {
	return s.AverageHolding.Round(time.Minute).String()
}
