package report

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/optimizer"
	"github.com/newthinker/tradecore/internal/performance"
	"github.com/newthinker/tradecore/internal/risk"
)

const dateLayout = "2006-01-02"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// money rounds to cents half away from zero.
func money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprint(v)
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// percent renders a fraction as a percentage.
func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// FormatParams renders params as sorted key=value pairs.
func FormatParams(params map[string]any) string {
	if len(params) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}

// WriteBacktestSummary prints the headline figures of one run.
func WriteBacktestSummary(w io.Writer, res *backtest.Result, rep performance.Report) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Strategy:\t%s\n", res.Strategy)
	fmt.Fprintf(tw, "Symbol:\t%s\n", res.Symbol)
	fmt.Fprintf(tw, "Period:\t%s to %s\n", res.StartDate.Format(dateLayout), res.EndDate.Format(dateLayout))
	fmt.Fprintf(tw, "Initial capital:\t%s\n", money(res.InitialCapital))
	fmt.Fprintf(tw, "Final capital:\t%s\n", money(res.FinalCapital))
	fmt.Fprintf(tw, "Total return:\t%s\n", percent(rep.TotalReturn))
	fmt.Fprintf(tw, "Annual return:\t%s\n", percent(rep.AnnualReturn))
	fmt.Fprintf(tw, "Volatility:\t%s\n", percent(rep.Volatility))
	fmt.Fprintf(tw, "Sharpe:\t%.2f\n", rep.Sharpe)
	fmt.Fprintf(tw, "Sortino:\t%.2f\n", rep.Sortino)
	fmt.Fprintf(tw, "Max drawdown:\t%s\n", percent(rep.MaxDrawdown))
	fmt.Fprintf(tw, "Calmar:\t%.2f\n", rep.Calmar)
	fmt.Fprintf(tw, "VaR / CVaR:\t%s / %s\n", percent(rep.VaR), percent(rep.CVaR))
	fmt.Fprintf(tw, "Trades:\t%d (won %d, lost %d)\n", rep.Trades.TotalTrades, rep.Trades.WinningTrades, rep.Trades.LosingTrades)
	fmt.Fprintf(tw, "Win rate:\t%.2f%%\n", rep.Trades.WinRate)
	fmt.Fprintf(tw, "Profit factor:\t%.2f\n", rep.Trades.ProfitFactor)
	fmt.Fprintf(tw, "Commission:\t%s\n", money(rep.Trades.TotalCommission))
	fmt.Fprintf(tw, "Signals:\t%d buy, %d accepted, %d rejected\n", res.Signals.Buy, res.Signals.Accepted, res.Signals.Rejected)
	if len(rep.Trades.ExitReasons) > 0 {
		var reasons []string
		for _, r := range ledger.ExitReasons {
			if n := rep.Trades.ExitReasons[r]; n > 0 {
				reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
			}
		}
		fmt.Fprintf(tw, "Exits:\t%s\n", strings.Join(reasons, " "))
	}
	return tw.Flush()
}

// WriteTrades prints closed trades oldest first.
func WriteTrades(w io.Writer, trades []ledger.ClosedTrade) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "SYMBOL\tQTY\tENTRY\tENTRY PRICE\tEXIT\tEXIT PRICE\tREASON\tP&L\tP&L %\t")
	fmt.Fprintln(tw, "------\t---\t-----\t-----------\t----\t----------\t------\t---\t-----\t")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%+.2f\t\n",
			t.Position.Symbol, t.Position.Quantity,
			t.Position.EntryTime.Format(dateLayout), money(t.Position.EntryPrice),
			t.ExitTime.Format(dateLayout), money(t.ExitPrice),
			t.Reason, money(t.Profit), t.ProfitPercent)
	}
	return tw.Flush()
}

// WritePositions prints the risk view of open positions.
func WritePositions(w io.Writer, rep risk.Report) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "SYMBOL\tENTRY\tPRICE\tSTOP\tVALUE\tP&L\tTO STOP %\tRISK\t")
	fmt.Fprintln(tw, "------\t-----\t-----\t----\t-----\t---\t---------\t----\t")
	for _, p := range rep.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t\n",
			p.Symbol, money(p.EntryPrice), money(p.Price), money(p.StopLoss),
			money(p.Value), money(p.UnrealizedPnL), p.StopDistance, money(p.RiskAmount))
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\t\t\t%s\t\n", money(rep.TotalExposure), money(rep.TotalRisk))
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Exposure %.2f%% of capital, risk %.2f%%\n", rep.ExposurePercent, rep.RiskPercent)
	return err
}

// Ranked returns the successful trials best first. Equal values keep grid
// order.
func Ranked(res *optimizer.GridResult) []optimizer.Trial {
	higher := performance.HigherIsBetter(res.Metric)
	var out []optimizer.Trial
	for _, t := range res.Trials {
		if t.OK() {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b optimizer.Trial) int {
		if a.Value == b.Value {
			return cmp.Compare(a.Index, b.Index)
		}
		if higher {
			return cmp.Compare(b.Value, a.Value)
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return out
}

// WriteGridSummary prints the top trials of a grid search. A top of zero
// prints all of them.
func WriteGridSummary(w io.Writer, res *optimizer.GridResult, top int) error {
	ranked := Ranked(res)
	if top > 0 && len(ranked) > top {
		ranked = ranked[:top]
	}

	tw := newTable(w)
	fmt.Fprintf(tw, "Symbol:\t%s\n", res.Symbol)
	fmt.Fprintf(tw, "Metric:\t%s\n", res.Metric)
	fmt.Fprintf(tw, "Trials:\t%d of %d (%d failed)\n", len(res.Trials), res.Combinations, res.Failed)
	fmt.Fprintf(tw, "Duration:\t%s\n", res.Duration)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "RANK\t#\tVALUE\tTRADES\tPARAMS\t")
	fmt.Fprintln(tw, "----\t-\t-----\t------\t------\t")
	for i, t := range ranked {
		fmt.Fprintf(tw, "%d\t%d\t%.4f\t%d\t%s\t\n", i+1, t.Index, t.Value, t.Report.Trades.TotalTrades, FormatParams(t.Params))
	}
	return tw.Flush()
}

// WriteWalkForwardSummary prints one row per window.
func WriteWalkForwardSummary(w io.Writer, res *optimizer.WalkForwardResult) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Symbol:\t%s\n", res.Symbol)
	fmt.Fprintf(tw, "Metric:\t%s\n", res.Metric)
	fmt.Fprintf(tw, "Stability:\t%.4f\n", res.Stability)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "WINDOW\tTRAIN\tVALIDATION\tTRAIN VALUE\tVALIDATION VALUE\tPARAMS\t")
	fmt.Fprintln(tw, "------\t-----\t----------\t-----------\t----------------\t------\t")
	for _, win := range res.Windows {
		train := win.Train.From.Format(dateLayout) + ".." + win.Train.To.Format(dateLayout)
		val := win.Window.Validation.From.Format(dateLayout) + ".." + win.Window.Validation.To.Format(dateLayout)
		if !win.OK() {
			fmt.Fprintf(tw, "%d\t%s\t%s\t-\t-\t%s\t\n", win.Index, train, val, win.Error)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\t%.4f\t%s\t\n",
			win.Index, train, val, win.TrainValue, win.ValidationValue, FormatParams(win.BestParams))
	}
	if res.BestWindow.IsSome() {
		fmt.Fprintf(tw, "\nBest window:\t%d\t%s\n", res.BestWindow.Unwrap(), FormatParams(res.BestParams()))
	}
	return tw.Flush()
}
