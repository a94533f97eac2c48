package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/collector/yahoo"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/report"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/storage/state"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List open positions with their risk",
	Long: `Load the persisted ledger and show every open position marked at the
given prices (entry price when none is known) with its distance to the stop.`,
	Args: cobra.NoArgs,
	RunE: runPositions,
}

var positionsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show closed trades",
	Args:  cobra.NoArgs,
	RunE:  runPositionsHistory,
}

var (
	positionPrices map[string]string
	positionsMark  bool
	historyFrom    string
	historyTo      string
	historySymbol  string
	historyCSV     string
	historyJournal bool
)

func init() {
	positionsCmd.Flags().StringToStringVar(&positionPrices, "price", nil, "Mark price per symbol, e.g. --price SBER=281.5")
	positionsCmd.Flags().BoolVar(&positionsMark, "mark", false, "Fetch mark prices from the configured feed")

	positionsHistoryCmd.Flags().StringVar(&historyFrom, "from", "", "Start date (YYYY-MM-DD)")
	positionsHistoryCmd.Flags().StringVar(&historyTo, "to", "", "End date (YYYY-MM-DD), exclusive")
	positionsHistoryCmd.Flags().StringVar(&historySymbol, "symbol", "", "Only trades of this symbol")
	positionsHistoryCmd.Flags().StringVar(&historyCSV, "csv", "", "Also write the trades as CSV")
	positionsHistoryCmd.Flags().BoolVar(&historyJournal, "journal", false, "Read the sqlite trade journal instead of the ledger snapshot")

	positionsCmd.AddCommand(positionsHistoryCmd)
	rootCmd.AddCommand(positionsCmd)
}

// openLedger opens the configured state store and loads the ledger from it.
// The caller closes the returned store.
func openLedger(ctx context.Context, e *env) (*ledger.Ledger, *state.Retrying, error) {
	store, err := state.Open(e.cfg.Store, e.log, e.metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state store: %w", err)
	}
	l := ledger.New(
		ledger.WithStore(store, e.cfg.Store.Key),
		ledger.WithLogger(e.log),
		ledger.WithMetrics(e.metrics),
	)
	if err := l.Load(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("loading ledger: %w", err)
	}
	return l, store, nil
}

func parsePrices(raw map[string]string) (map[string]float64, error) {
	prices := make(map[string]float64, len(raw))
	for symbol, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid price %q for %s", s, symbol)
		}
		prices[symbol] = v
	}
	return prices, nil
}

func runPositions(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close(false)

	ctx := cmd.Context()
	l, store, err := openLedger(ctx, e)
	if err != nil {
		return err
	}
	defer store.Close()

	open := l.Positions()
	out := cmd.OutOrStdout()
	if len(open) == 0 {
		fmt.Fprintln(out, "No positions found.")
		return nil
	}

	prices, err := parsePrices(positionPrices)
	if err != nil {
		return err
	}
	if positionsMark {
		feed := yahoo.New(yahoo.WithBaseURL(e.cfg.Live.Feed.BaseURL), yahoo.WithTimeout(e.cfg.Live.Feed.Timeout))
		for _, pos := range open {
			if _, ok := prices[pos.Symbol]; ok {
				continue
			}
			bars, err := feed.History(ctx, pos.Symbol, 1)
			if err != nil || len(bars) == 0 {
				e.log.Warn("no mark price, using entry", zap.String("symbol", pos.Symbol), zap.Error(err))
				continue
			}
			prices[pos.Symbol] = bars[len(bars)-1].Close
		}
	}

	capital := e.cfg.Simulation.InitialCapital + l.PortfolioMetrics().TotalProfit
	rep := risk.NewPolicy(e.cfg).Report(open, prices, capital)
	return report.WritePositions(out, rep)
}

func runPositionsHistory(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close(false)

	from, err := parseDate(historyFrom)
	if err != nil {
		return err
	}
	to, err := parseDate(historyTo)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	l, store, err := openLedger(ctx, e)
	if err != nil {
		return err
	}
	defer store.Close()

	var trades []ledger.ClosedTrade
	if historyJournal {
		journal, ok := store.Unwrap().(*state.SQLite)
		if !ok {
			return fmt.Errorf("--journal needs store.type sqlite, have %q", e.cfg.Store.Type)
		}
		records, err := journal.Trades(ctx, historySymbol)
		if err != nil {
			return fmt.Errorf("reading trade journal: %w", err)
		}
		for _, r := range records {
			trades = append(trades, r.ClosedTrade())
		}
	} else {
		trades = l.ClosedTrades()
	}
	filtered := filterTrades(trades, historySymbol, from, to)

	out := cmd.OutOrStdout()
	if len(filtered) == 0 {
		fmt.Fprintln(out, "No trades found.")
		return nil
	}
	if err := report.WriteTrades(out, filtered); err != nil {
		return err
	}
	m := ledger.ComputeMetrics(filtered)
	fmt.Fprintf(out, "\n%d trades, win rate %.2f%%, total P&L %.2f\n", m.TotalTrades, m.WinRate, m.TotalProfit)

	if historyCSV != "" {
		if err := writeTradesCSV(historyCSV, filtered); err != nil {
			return err
		}
		e.log.Info("trades written", zap.String("path", historyCSV), zap.Int("count", len(filtered)))
	}
	return nil
}

// filterTrades keeps trades of symbol (any when empty) exited in [from, to).
// A zero bound is open.
func filterTrades(trades []ledger.ClosedTrade, symbol string, from, to time.Time) []ledger.ClosedTrade {
	var out []ledger.ClosedTrade
	for _, t := range trades {
		if symbol != "" && t.Position.Symbol != symbol {
			continue
		}
		if !from.IsZero() && t.ExitTime.Before(from) {
			continue
		}
		if !to.IsZero() && !t.ExitTime.Before(to) {
			continue
		}
		out = append(out, t)
	}
	return out
}
