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
	optimizeData     dataFlags
	optimizeMetric   string
	optimizeWorkers  int
	optimizeTop      int
	optimizeOutput   string
	optimizeProgress bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Grid-search strategy and risk parameters",
	Long: `Run one simulation per combination of optimizer.param_ranges (or the
strategies' default ranges) and rank the combinations by a metric.`,
	Args: cobra.NoArgs,
	RunE: runOptimize,
}

func init() {
	optimizeData.register(optimizeCmd)
	optimizeCmd.Flags().StringVar(&optimizeMetric, "metric", "", "Metric to optimize (default from config)")
	optimizeCmd.Flags().IntVar(&optimizeWorkers, "workers", 0, "Parallel workers (default from config)")
	optimizeCmd.Flags().IntVar(&optimizeTop, "top", 10, "Rows to print, 0 for all")
	optimizeCmd.Flags().StringVarP(&optimizeOutput, "output", "o", "", "Write all trials as YAML")
	optimizeCmd.Flags().BoolVar(&optimizeProgress, "progress", true, "Show a progress bar")

	rootCmd.AddCommand(optimizeCmd)
}

// optimizerOptions builds the options shared by optimize and walkforward.
func optimizerOptions(e *env, workers int, onProgress optimizer.ProgressFunc) []optimizer.Option {
	opts := []optimizer.Option{
		optimizer.WithLogger(e.log),
		optimizer.WithMetrics(e.metrics),
		optimizer.WithProgress(onProgress),
	}
	if workers > 0 {
		opts = append(opts, optimizer.WithWorkers(workers))
	}
	return opts
}

func runOptimize(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close(true)

	ctx := cmd.Context()
	metric := optimizeMetric
	if metric == "" {
		metric = e.cfg.Optimizer.Metric
	}

	bars, err := optimizeData.load(ctx, e.cfg)
	if err != nil {
		return err
	}

	onProgress, finish := progress("optimizing", optimizeProgress)
	o := optimizer.New(e.cfg, builtin.Registry(e.log), optimizerOptions(e, optimizeWorkers, onProgress)...)

	res, err := o.GridSearch(ctx, optimizeData.symbol, bars, o.Ranges(), metric)
	finish()
	if res == nil {
		return err
	}
	if err != nil {
		// partial results of an abandoned sweep are still reported
		e.log.Warn("grid search interrupted", zap.Error(err), zap.Int("trials", len(res.Trials)))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	if werr := report.WriteGridSummary(out, res, optimizeTop); werr != nil {
		return werr
	}
	if res.Best.IsSome() {
		fmt.Fprintf(out, "\nBest: %s (%s = %.4f)\n", report.FormatParams(res.BestParams()), metric, res.Best.Unwrap().Value)
	} else {
		fmt.Fprintln(out, "\nNo combination succeeded.")
	}

	if optimizeOutput != "" {
		if werr := report.WriteFile(optimizeOutput, report.Grid(res, time.Now())); werr != nil {
			return errors.Join(err, werr)
		}
		e.log.Info("report written", zap.String("path", optimizeOutput))
	}
	return err
}
