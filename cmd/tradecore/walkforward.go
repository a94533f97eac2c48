package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/optimizer"
	"github.com/newthinker/tradecore/internal/report"
	"github.com/newthinker/tradecore/internal/strategy/builtin"
)

var (
	walkForwardData     dataFlags
	walkForwardMetric   string
	walkForwardWorkers  int
	walkForwardWindow   int
	walkForwardStep     int
	walkForwardOutput   string
	walkForwardProgress bool
)

var walkForwardCmd = &cobra.Command{
	Use:   "walkforward",
	Short: "Validate optimized parameters out of sample",
	Long: `Grid-search each training window, replay the winner on the following
validation window and score how stable the winning parameters are.`,
	Args: cobra.NoArgs,
	RunE: runWalkForward,
}

func init() {
	walkForwardData.register(walkForwardCmd)
	walkForwardCmd.Flags().StringVar(&walkForwardMetric, "metric", "", "Metric to optimize (default from config)")
	walkForwardCmd.Flags().IntVar(&walkForwardWorkers, "workers", 0, "Parallel workers per window (default from config)")
	walkForwardCmd.Flags().IntVar(&walkForwardWindow, "window-days", 0, "Training window in calendar days (default from config)")
	walkForwardCmd.Flags().IntVar(&walkForwardStep, "step-days", 0, "Validation window and step in calendar days (default from config)")
	walkForwardCmd.Flags().StringVarP(&walkForwardOutput, "output", "o", "", "Write all windows as YAML")
	walkForwardCmd.Flags().BoolVar(&walkForwardProgress, "progress", true, "Show a progress bar")

	rootCmd.AddCommand(walkForwardCmd)
}

func runWalkForward(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close(true)

	ctx := cmd.Context()
	metric := walkForwardMetric
	if metric == "" {
		metric = e.cfg.Optimizer.Metric
	}
	if walkForwardWindow > 0 {
		e.cfg.Optimizer.WalkForward.WindowDays = walkForwardWindow
	}
	if walkForwardStep > 0 {
		e.cfg.Optimizer.WalkForward.StepDays = walkForwardStep
	}

	bars, err := walkForwardData.load(ctx, e.cfg)
	if err != nil {
		return err
	}

	onProgress, finish := progress("walk-forward", walkForwardProgress)
	o := optimizer.New(e.cfg, builtin.Registry(e.log), optimizerOptions(e, walkForwardWorkers, onProgress)...)

	res, err := o.WalkForward(ctx, walkForwardData.symbol, bars, o.Ranges(), metric)
	finish()
	if res == nil {
		return err
	}
	if err != nil {
		e.log.Warn("walk-forward interrupted", zap.Error(err), zap.Int("windows", len(res.Windows)))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	if werr := report.WriteWalkForwardSummary(out, res); werr != nil {
		return werr
	}

	if walkForwardOutput != "" {
		if werr := report.WriteFile(walkForwardOutput, report.WalkForward(res, time.Now())); werr != nil {
			return errors.Join(err, werr)
		}
		e.log.Info("report written", zap.String("path", walkForwardOutput))
	}
	return err
}
