package backtest

import (
	"time"

	"github.com/newthinker/tradecore/internal/ledger"
)

// EquitySample is the account value at the start of one simulated bar.
type EquitySample struct {
	Time          time.Time `json:"time" yaml:"time"`
	Equity        float64   `json:"equity" yaml:"equity"`
	Cash          float64   `json:"cash" yaml:"cash"`
	PositionValue float64   `json:"position_value" yaml:"position_value"`
	Active        bool      `json:"active" yaml:"active"`
}

// SignalStats counts what happened to buy signals raised while flat.
type SignalStats struct {
	Buy      int `json:"buy" yaml:"buy"`
	Accepted int `json:"accepted" yaml:"accepted"`
	Rejected int `json:"rejected" yaml:"rejected"`
	Sell     int `json:"sell" yaml:"sell"`
}

// Result holds the complete output of one simulation run.
type Result struct {
	Strategy       string    `json:"strategy" yaml:"strategy"`
	Symbol         string    `json:"symbol" yaml:"symbol"`
	StartDate      time.Time `json:"start_date" yaml:"start_date"`
	EndDate        time.Time `json:"end_date" yaml:"end_date"`
	InitialCapital float64   `json:"initial_capital" yaml:"initial_capital"`
	FinalCapital   float64   `json:"final_capital" yaml:"final_capital"`
	// MaxCapital is the high-water mark of realized cash.
	MaxCapital  float64              `json:"max_capital" yaml:"max_capital"`
	Equity      []EquitySample       `json:"equity" yaml:"-"`
	Trades      []ledger.ClosedTrade `json:"trades" yaml:"-"`
	Events      []ledger.Event       `json:"events" yaml:"-"`
	Signals     SignalStats          `json:"signals" yaml:"signals"`
	SkippedBars int                  `json:"skipped_bars" yaml:"skipped_bars"`
	Metrics     ledger.Metrics       `json:"metrics" yaml:"-"`
}

// TotalReturn is the realized return on initial capital as a fraction.
func (r *Result) TotalReturn() float64 {
	if r.InitialCapital == 0 {
		return 0
	}
	return r.FinalCapital/r.InitialCapital - 1
}
