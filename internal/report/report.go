// Package report renders simulation and optimization results as YAML
// documents and plain-text tables.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/optimizer"
	"github.com/newthinker/tradecore/internal/performance"
)

// TradeRow is the flat export form of a closed trade.
type TradeRow struct {
	ID            string            `yaml:"id"`
	Symbol        string            `yaml:"symbol"`
	Quantity      int64             `yaml:"quantity"`
	EntryTime     time.Time         `yaml:"entry_time"`
	EntryPrice    float64           `yaml:"entry_price"`
	ExitTime      time.Time         `yaml:"exit_time"`
	ExitPrice     float64           `yaml:"exit_price"`
	Reason        ledger.ExitReason `yaml:"reason"`
	Commission    float64           `yaml:"commission"`
	Profit        float64           `yaml:"profit"`
	ProfitPercent float64           `yaml:"profit_percent"`
	Holding       time.Duration     `yaml:"holding"`
}

func tradeRows(trades []ledger.ClosedTrade) []TradeRow {
	rows := make([]TradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, TradeRow{
			ID:            t.Position.ID,
			Symbol:        t.Position.Symbol,
			Quantity:      t.Position.Quantity,
			EntryTime:     t.Position.EntryTime,
			EntryPrice:    t.Position.EntryPrice,
			ExitTime:      t.ExitTime,
			ExitPrice:     t.ExitPrice,
			Reason:        t.Reason,
			Commission:    t.Commission(),
			Profit:        t.Profit,
			ProfitPercent: t.ProfitPercent,
			Holding:       t.Holding,
		})
	}
	return rows
}

// BacktestDoc is the exported form of one simulation run.
type BacktestDoc struct {
	Generated   time.Time          `yaml:"generated"`
	Result      *backtest.Result   `yaml:"result"`
	Performance performance.Report `yaml:"performance"`
	Trades      []TradeRow         `yaml:"trades"`
}

func Backtest(res *backtest.Result, rep performance.Report, now time.Time) BacktestDoc {
	return BacktestDoc{
		Generated:   now.UTC(),
		Result:      res,
		Performance: rep,
		Trades:      tradeRows(res.Trades),
	}
}

// Failure records a combination that produced no metric value.
type Failure struct {
	Index  int            `yaml:"index"`
	Params map[string]any `yaml:"params"`
	Error  string         `yaml:"error"`
}

// GridDoc is the exported form of a grid search.
type GridDoc struct {
	optimizer.GridResult `yaml:",inline"`

	Generated  time.Time      `yaml:"generated"`
	BestParams map[string]any `yaml:"best_params"`
	BestValue  *float64       `yaml:"best_value,omitempty"`
	Failures   []Failure      `yaml:"failures,omitempty"`
}

func Grid(res *optimizer.GridResult, now time.Time) GridDoc {
	doc := GridDoc{
		Generated:  now.UTC(),
		GridResult: *res,
		BestParams: res.BestParams(),
	}
	if res.Best.IsSome() {
		v := res.Best.Unwrap().Value
		doc.BestValue = &v
	}
	for _, t := range res.Trials {
		if !t.OK() {
			doc.Failures = append(doc.Failures, Failure{Index: t.Index, Params: t.Params, Error: t.Err.Error()})
		}
	}
	return doc
}

// WalkForwardDoc is the exported form of a walk-forward run.
type WalkForwardDoc struct {
	optimizer.WalkForwardResult `yaml:",inline"`

	Generated  time.Time      `yaml:"generated"`
	BestWindow *int           `yaml:"best_window,omitempty"`
	BestParams map[string]any `yaml:"best_params"`
}

func WalkForward(res *optimizer.WalkForwardResult, now time.Time) WalkForwardDoc {
	doc := WalkForwardDoc{
		Generated:         now.UTC(),
		WalkForwardResult: *res,
		BestParams:        res.BestParams(),
	}
	if res.BestWindow.IsSome() {
		i := res.BestWindow.Unwrap()
		doc.BestWindow = &i
	}
	return doc
}

// Encode writes doc to w as YAML.
func Encode(w io.Writer, doc any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}

// WriteFile writes doc to path as YAML.
func WriteFile(path string, doc any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
