package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/collector/yahoo"
	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/optimizer"
)

// dataFlags selects the bars a batch command runs over.
type dataFlags struct {
	symbol string
	from   string
	to     string
	dir    string
	source string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Symbol to simulate (required)")
	cmd.Flags().StringVar(&f.from, "from", "", "Start date YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "End date YYYY-MM-DD, exclusive")
	cmd.Flags().StringVar(&f.dir, "data", "data", "Directory holding <symbol>.csv files")
	cmd.Flags().StringVar(&f.source, "source", "csv", "Bar source: csv or yahoo")
	cmd.MarkFlagRequired("symbol")
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

func (f *dataFlags) period() (from, to time.Time, err error) {
	if from, err = parseDate(f.from); err != nil {
		return
	}
	if to, err = parseDate(f.to); err != nil {
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		err = fmt.Errorf("end date must be after start date")
	}
	return
}

func (f *dataFlags) barSource(cfg *config.Config) (backtest.BarSource, error) {
	switch f.source {
	case "csv":
		return backtest.NewCSVSource(f.dir), nil
	case "yahoo":
		return yahoo.New(
			yahoo.WithBaseURL(cfg.Live.Feed.BaseURL),
			yahoo.WithTimeout(cfg.Live.Feed.Timeout),
		), nil
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown bar source %q", f.source))
	}
}

func (f *dataFlags) load(ctx context.Context, cfg *config.Config) ([]core.Bar, error) {
	from, to, err := f.period()
	if err != nil {
		return nil, err
	}
	src, err := f.barSource(cfg)
	if err != nil {
		return nil, err
	}
	bars, err := backtest.Collect(src.Bars(ctx, f.symbol, from, to))
	if err != nil {
		return nil, fmt.Errorf("loading %s bars: %w", f.symbol, err)
	}
	return bars, nil
}

// progress returns an optimizer callback drawing a progress bar on stderr,
// created on the first report, and a func that completes it.
func progress(description string, enabled bool) (optimizer.ProgressFunc, func()) {
	if !enabled {
		return nil, func() {}
	}

	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	update := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.Default(int64(total), description)
		}
		bar.Set(done)
	}
	finish := func() {
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			bar.Finish()
		}
	}
	return update, finish
}

func writeTradesCSV(path string, trades []ledger.ClosedTrade) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := ledger.WriteCSV(f, trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
