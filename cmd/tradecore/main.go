package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/logger"
	"github.com/newthinker/tradecore/internal/metrics"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "tradecore",
	Short: "tradecore - equities trading simulation and risk core",
	Long: `tradecore replays strategies over historical bars under a fixed risk
policy, analyzes the resulting equity curve, searches parameter grids and
runs walk-forward validation. The trade command applies the same policy
to live quotes through a paper broker.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

// env holds what every command needs: validated configuration, a logger
// and the metrics registry (nil when metrics are disabled).
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Registry
}

func setup() (*env, error) {
	cfg := config.Defaults()
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(debug, logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, log: log}
	if cfg.Metrics.Enabled {
		e.metrics = metrics.NewRegistry()
	}
	return e, nil
}

// close flushes the logger and, for batch commands, writes the metrics
// textfile.
func (e *env) close(textfile bool) {
	if textfile && e.metrics != nil && e.cfg.Metrics.Textfile != "" {
		if err := e.metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
			e.log.Warn("writing metrics textfile failed", zap.Error(err))
		}
	}
	_ = e.log.Sync()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
