package optimizer

import (
	"maps"
	"time"

	"github.com/moznion/go-optional"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/performance"
)

// Trial is the outcome of one parameter combination.
type Trial struct {
	// Index is the position of the combination in the grid.
	Index    int                `json:"index" yaml:"index"`
	Params   map[string]any     `json:"params" yaml:"params"`
	Value    float64            `json:"value" yaml:"value"`
	Duration time.Duration      `json:"duration" yaml:"duration"`
	Report   performance.Report `json:"report" yaml:"-"`
	Result   *backtest.Result   `json:"-" yaml:"-"`
	Err      error              `json:"-" yaml:"-"`
}

// OK reports whether the trial produced a usable metric value.
func (t Trial) OK() bool {
	return t.Err == nil
}

// GridResult is the outcome of a grid search. Trials are ordered by Index
// and hold only combinations that finished; on cancellation it is partial.
type GridResult struct {
	RunID        string                 `json:"run_id" yaml:"run_id"`
	Symbol       string                 `json:"symbol" yaml:"symbol"`
	Metric       string                 `json:"metric" yaml:"metric"`
	Combinations int                    `json:"combinations" yaml:"combinations"`
	Trials       []Trial                `json:"trials" yaml:"trials"`
	Best         optional.Option[Trial] `json:"best" yaml:"-"`
	Failed       int                    `json:"failed" yaml:"failed"`
	Duration     time.Duration          `json:"duration" yaml:"duration"`
}

// BestParams returns a copy of the winning parameters, or nil.
func (r *GridResult) BestParams() map[string]any {
	if r.Best.IsNone() {
		return nil
	}
	return maps.Clone(r.Best.Unwrap().Params)
}

// Period is a half-open time range [From, To).
type Period struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// Window is one train/validate step of a walk-forward run.
type Window struct {
	Index      int    `json:"index" yaml:"index"`
	Train      Period `json:"train" yaml:"train"`
	Validation Period `json:"validation" yaml:"validation"`
}

// WindowResult is the outcome of one walk-forward window.
type WindowResult struct {
	Window `yaml:",inline"`

	BestParams      map[string]any `json:"best_params" yaml:"best_params"`
	TrainValue      float64        `json:"train_value" yaml:"train_value"`
	ValidationValue float64        `json:"validation_value" yaml:"validation_value"`
	Trials          int            `json:"trials" yaml:"trials"`
	ValidationTrial Trial          `json:"validation_trial" yaml:"-"`
	// Error is set when no combination or the validation run succeeded.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the window produced a validated winner.
func (w WindowResult) OK() bool {
	return w.Error == ""
}

// WalkForwardResult is the outcome of a walk-forward run.
type WalkForwardResult struct {
	RunID   string         `json:"run_id" yaml:"run_id"`
	Symbol  string         `json:"symbol" yaml:"symbol"`
	Metric  string         `json:"metric" yaml:"metric"`
	Windows []WindowResult `json:"windows" yaml:"windows"`
	// BestWindow indexes Windows; it is the window whose parameters scored
	// best out of sample.
	BestWindow optional.Option[int] `json:"best_window" yaml:"-"`
	Stability  float64              `json:"stability" yaml:"stability"`
	Duration   time.Duration        `json:"duration" yaml:"duration"`
}

// BestParams returns the parameters of the best validated window, or nil.
func (r *WalkForwardResult) BestParams() map[string]any {
	if r.BestWindow.IsNone() {
		return nil
	}
	return maps.Clone(r.Windows[r.BestWindow.Unwrap()].BestParams)
}
