package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/alert"
	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/broker/paper"
	"github.com/newthinker/tradecore/internal/collector/yahoo"
	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/notifier/email"
	"github.com/newthinker/tradecore/internal/notifier/telegram"
	"github.com/newthinker/tradecore/internal/notifier/webhook"
	"github.com/newthinker/tradecore/internal/report"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/storage/state"
	"github.com/newthinker/tradecore/internal/strategy/builtin"
)

var (
	tradeMode     string
	tradeOnce     bool
	tradeSlippage float64
)

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Apply the strategy and risk policy to live quotes",
	Long: `Poll the configured feed for live.symbols, check open positions against
their exits and open new ones through the paper broker. In confirm mode
entry orders wait on the console for "confirm <id>" or "cancel <id>".`,
	Args: cobra.NoArgs,
	RunE: runTrade,
}

func init() {
	tradeCmd.Flags().StringVar(&tradeMode, "mode", "", "Execution mode: auto or confirm (default from config)")
	tradeCmd.Flags().BoolVar(&tradeOnce, "once", false, "Run a single poll and exit")
	tradeCmd.Flags().Float64Var(&tradeSlippage, "slippage", 0, "Paper fill slippage in percent")

	rootCmd.AddCommand(tradeCmd)
}

func buildNotifiers(cfg config.NotifiersConfig, log *zap.Logger) (*notifier.Registry, error) {
	reg := notifier.NewRegistry()

	if cfg.Webhook.Enabled {
		if err := reg.Register(webhook.New(cfg.Webhook.URL, cfg.Webhook.Headers)); err != nil {
			return nil, err
		}
	}
	if cfg.Email.Enabled {
		em := email.New(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From, cfg.Email.To)
		if err := em.Init(notifier.Config{}); err != nil {
			return nil, err
		}
		if err := reg.Register(em); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.Enabled {
		tg := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err := tg.Init(notifier.Config{Params: map[string]any{"api_url": cfg.Telegram.APIURL}}); err != nil {
			return nil, err
		}
		if err := reg.Register(tg); err != nil {
			return nil, err
		}
	}

	if reg.Len() > 0 {
		log.Info("notifiers enabled", zap.Strings("names", reg.Names()))
	}
	return reg, nil
}

// quoteFeed builds the live quote source. The replay feed is returned
// separately so the caller can stop once it is exhausted.
func quoteFeed(ctx context.Context, cfg *config.Config) (broker.QuoteSource, *paper.Replay, error) {
	switch cfg.Live.Feed.Type {
	case "replay":
		csv := backtest.NewCSVSource(cfg.Live.Feed.DataDir)
		series := make(map[string][]core.Bar, len(cfg.Live.Symbols))
		for _, symbol := range cfg.Live.Symbols {
			bars, err := backtest.Collect(csv.Bars(ctx, symbol, time.Time{}, time.Time{}))
			if err != nil {
				return nil, nil, fmt.Errorf("loading replay bars for %s: %w", symbol, err)
			}
			series[symbol] = bars
		}
		replay := paper.NewReplay(series)
		return replay, replay, nil
	default:
		return yahoo.New(
			yahoo.WithBaseURL(cfg.Live.Feed.BaseURL),
			yahoo.WithTimeout(cfg.Live.Feed.Timeout),
		), nil, nil
	}
}

func runTrade(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close(false)

	if tradeMode != "" {
		e.cfg.Live.Mode = tradeMode
		if err := e.cfg.Validate(); err != nil {
			return err
		}
	}
	if len(e.cfg.Live.Symbols) == 0 {
		return core.WrapError(core.ErrConfigMissing, errors.New("live.symbols is empty"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, store, err := openLedger(ctx, e)
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := builtin.Registry(e.log).Build(e.cfg.Strategy)
	if err != nil {
		return err
	}
	notifiers, err := buildNotifiers(e.cfg.Notifiers, e.log)
	if err != nil {
		return err
	}
	quotes, replay, err := quoteFeed(ctx, e.cfg)
	if err != nil {
		return err
	}

	opts := []broker.Option{
		broker.WithLogger(e.log),
		broker.WithMetrics(e.metrics),
		broker.WithNotifiers(notifiers),
	}
	if journal, ok := store.Unwrap().(*state.SQLite); ok {
		opts = append(opts, broker.WithJournal(journal))
	}
	sender := paper.NewSender(e.cfg.Simulation.CommissionRate, paper.WithSlippage(tradeSlippage))
	exec := broker.NewExecutor(e.cfg, l, source, sender, quotes, opts...)

	if e.metrics != nil && e.cfg.Metrics.Listen != "" {
		go func() {
			if err := e.metrics.Serve(ctx, e.cfg.Metrics.Listen, e.cfg.Metrics.Path, e.log); err != nil {
				e.log.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}
	if exec.Mode() == broker.ExecutionConfirm {
		go console(ctx, os.Stdin, cmd.OutOrStdout(), exec, e.log)
	}

	reporter, err := alert.NewReporter(e.cfg, l,
		alert.WithNotifiers(notifiers),
		alert.WithLogger(e.log),
		alert.WithPrices(exec.LastPrices),
		alert.WithCapital(exec.Capital),
	)
	if err != nil {
		return err
	}
	if !tradeOnce {
		go func() {
			if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error("portfolio reporter stopped", zap.Error(err))
			}
		}()
	}

	out := cmd.OutOrStdout()
	switch {
	case tradeOnce:
		err = exec.Poll(ctx)
	case replay != nil:
		for !replay.Done() && ctx.Err() == nil {
			if perr := exec.Poll(ctx); perr != nil && !errors.Is(perr, paper.ErrExhausted) {
				e.log.Warn("poll finished with errors", zap.Error(perr))
			}
		}
		err = ctx.Err()
	default:
		err = exec.Run(ctx)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	fmt.Fprintln(out)
	if werr := writeLiveState(out, e, l, exec); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

func writeLiveState(w io.Writer, e *env, l *ledger.Ledger, exec *broker.Executor) error {
	open := l.Positions()
	if len(open) == 0 {
		fmt.Fprintln(w, "No positions found.")
	} else {
		rep := risk.NewPolicy(e.cfg).Report(open, nil, exec.Capital())
		if err := report.WritePositions(w, rep); err != nil {
			return err
		}
	}
	if trades := l.ClosedTrades(); len(trades) > 0 {
		fmt.Fprintln(w)
		if err := report.WriteTrades(w, trades); err != nil {
			return err
		}
	}
	if recs := exec.Reconciliations(); len(recs) > 0 {
		fmt.Fprintf(w, "\n%d order(s) need reconciliation, see the log\n", len(recs))
	}
	return nil
}

// console serves operator commands for confirm mode until ctx ends or the
// input closes.
func console(ctx context.Context, in io.Reader, out io.Writer, exec *broker.Executor, log *zap.Logger) {
	fmt.Fprintln(out, `commands: list | confirm <id> | cancel <id> | recon | resolve <id>`)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := consoleCommand(ctx, out, exec, strings.Fields(scanner.Text())); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("console input failed", zap.Error(err))
	}
}

func consoleCommand(ctx context.Context, out io.Writer, exec *broker.Executor, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	needID := func() (string, error) {
		if len(fields) != 2 {
			return "", fmt.Errorf("usage: %s <id>", fields[0])
		}
		return fields[1], nil
	}

	switch fields[0] {
	case "list":
		pending := exec.PendingOrders()
		if len(pending) == 0 {
			fmt.Fprintln(out, "no pending orders")
		}
		for _, p := range pending {
			fmt.Fprintf(out, "%s  %s %s %d lots @ %.2f  %s\n",
				p.ID, p.Request.Side, p.Request.Symbol, p.Request.Quantity, p.Request.Price, p.State)
		}
	case "confirm":
		id, err := needID()
		if err != nil {
			return err
		}
		fill, err := exec.Confirm(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s: %d @ %.2f\n", id, fill.Status, fill.ExecutedQuantity, fill.ExecutedPrice)
	case "cancel":
		id, err := needID()
		if err != nil {
			return err
		}
		if err := exec.Cancel(id); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s cancelled\n", id)
	case "recon":
		recs := exec.Reconciliations()
		if len(recs) == 0 {
			fmt.Fprintln(out, "nothing to reconcile")
		}
		for _, r := range recs {
			fmt.Fprintf(out, "%s  %s %s requested %d executed %d  %s\n",
				r.ID, r.Side, r.Symbol, r.RequestedQuantity, r.ExecutedQuantity, r.Note)
		}
	case "resolve":
		id, err := needID()
		if err != nil {
			return err
		}
		if err := exec.Resolve(id); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s resolved\n", id)
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
	return nil
}
