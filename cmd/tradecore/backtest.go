package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/performance"
	"github.com/newthinker/tradecore/internal/report"
	"github.com/newthinker/tradecore/internal/strategy/builtin"
)

var (
	backtestData       dataFlags
	backtestStrategies []string
	backtestOutput     string
	backtestTrades     string
	backtestRolling    int
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a strategy over historical bars",
	Long:  "Simulate the configured strategy bar by bar under the risk policy and show performance statistics",
	Args:  cobra.NoArgs,
	RunE:  runBacktest,
}

func init() {
	backtestData.register(backtestCmd)
	backtestCmd.Flags().StringSliceVar(&backtestStrategies, "strategy", nil, "Strategies to combine (default from config)")
	backtestCmd.Flags().StringVarP(&backtestOutput, "output", "o", "", "Write the full report as YAML")
	backtestCmd.Flags().StringVar(&backtestTrades, "trades", "", "Write closed trades as CSV")
	backtestCmd.Flags().IntVar(&backtestRolling, "rolling", 0, "Rolling statistics window in bars")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close(true)

	ctx := cmd.Context()
	if len(backtestStrategies) > 0 {
		e.cfg.Strategy.Names = backtestStrategies
	}

	source, err := builtin.Registry(e.log).Build(e.cfg.Strategy)
	if err != nil {
		return err
	}
	bars, err := backtestData.load(ctx, e.cfg)
	if err != nil {
		return err
	}

	engine := backtest.New(e.cfg, source, backtest.WithLogger(e.log), backtest.WithMetrics(e.metrics))
	res, err := engine.Run(ctx, backtestData.symbol, bars)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	analyzer := performance.New(e.cfg)
	analyzer.RollingWindow = backtestRolling
	rep := analyzer.AnalyzeResult(res)

	if err := report.WriteBacktestSummary(cmd.OutOrStdout(), res, rep); err != nil {
		return err
	}
	if backtestOutput != "" {
		if err := report.WriteFile(backtestOutput, report.Backtest(res, rep, time.Now())); err != nil {
			return err
		}
		e.log.Info("report written", zap.String("path", backtestOutput))
	}
	if backtestTrades != "" {
		if err := writeTradesCSV(backtestTrades, res.Trades); err != nil {
			return err
		}
		e.log.Info("trades written", zap.String("path", backtestTrades), zap.Int("count", len(res.Trades)))
	}
	return nil
}
