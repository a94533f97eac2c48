// Package performance computes return, risk and trade statistics from a
// simulation's equity curve and closed trades. Every function is pure.
package performance

import (
	"fmt"
	"slices"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
)

// Metric names accepted by Report.Metric.
const (
	MetricTotalReturn  = "total_return"
	MetricAnnualReturn = "annual_return"
	MetricVolatility   = "volatility"
	MetricSharpe       = "sharpe_ratio"
	MetricSortino      = "sortino_ratio"
	MetricCalmar       = "calmar_ratio"
	MetricMaxDrawdown  = "max_drawdown"
	MetricVaR          = "var"
	MetricCVaR         = "cvar"
	MetricWinRate      = "win_rate"
	MetricProfitFactor = "profit_factor"
	MetricTotalTrades  = "total_trades"
)

var metricNames = []string{
	MetricTotalReturn, MetricAnnualReturn, MetricVolatility, MetricSharpe,
	MetricSortino, MetricCalmar, MetricMaxDrawdown, MetricVaR, MetricCVaR,
	MetricWinRate, MetricProfitFactor, MetricTotalTrades,
}

// MetricNames lists every metric Report.Metric understands.
func MetricNames() []string {
	return slices.Clone(metricNames)
}

// HigherIsBetter reports the optimization direction of a metric.
func HigherIsBetter(name string) bool {
	switch name {
	case MetricMaxDrawdown, MetricVolatility, MetricVaR, MetricCVaR:
		return false
	}
	return true
}

// IsKnownMetric reports whether name is a valid metric.
func IsKnownMetric(name string) bool {
	return slices.Contains(metricNames, name)
}

// Report is the full analysis of one equity curve and its trades. Return,
// drawdown and risk figures are fractions; Trades.WinRate is a percent.
type Report struct {
	Samples      int     `json:"samples" yaml:"samples"`
	TotalReturn  float64 `json:"total_return" yaml:"total_return"`
	AnnualReturn float64 `json:"annual_return" yaml:"annual_return"`
	Volatility   float64 `json:"volatility" yaml:"volatility"`
	Sharpe       float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	Sortino      float64 `json:"sortino_ratio" yaml:"sortino_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown" yaml:"max_drawdown"`
	Calmar       float64 `json:"calmar_ratio" yaml:"calmar_ratio"`
	VaR          float64 `json:"var" yaml:"var"`
	CVaR         float64 `json:"cvar" yaml:"cvar"`

	Drawdowns []DrawdownPeriod `json:"drawdowns" yaml:"drawdowns"`
	Monthly   []MonthlyReturn  `json:"monthly_returns" yaml:"monthly_returns"`
	Rolling   []RollingPoint   `json:"rolling,omitempty" yaml:"rolling,omitempty"`
	Trades    TradeStats       `json:"trades" yaml:"trades"`
}

// Metric returns the named figure.
func (r Report) Metric(name string) (float64, error) {
	switch name {
	case MetricTotalReturn:
		return r.TotalReturn, nil
	case MetricAnnualReturn:
		return r.AnnualReturn, nil
	case MetricVolatility:
		return r.Volatility, nil
	case MetricSharpe:
		return r.Sharpe, nil
	case MetricSortino:
		return r.Sortino, nil
	case MetricCalmar:
		return r.Calmar, nil
	case MetricMaxDrawdown:
		return r.MaxDrawdown, nil
	case MetricVaR:
		return r.VaR, nil
	case MetricCVaR:
		return r.CVaR, nil
	case MetricWinRate:
		return r.Trades.WinRate, nil
	case MetricProfitFactor:
		return r.Trades.ProfitFactor, nil
	case MetricTotalTrades:
		return float64(r.Trades.TotalTrades), nil
	}
	return 0, core.WrapError(core.ErrUnknownMetric, fmt.Errorf("%q", name))
}

// Analyzer holds the analysis settings. The zero value uses no risk-free
// rate, 95% VaR and no rolling window.
type Analyzer struct {
	RiskFreeRate  float64
	VaRConfidence float64
	// RollingWindow of zero or one disables rolling statistics.
	RollingWindow int
}

// New creates an Analyzer from the simulation settings.
func New(cfg *config.Config) Analyzer {
	return Analyzer{
		RiskFreeRate:  cfg.Simulation.RiskFreeRate,
		VaRConfidence: cfg.Simulation.VaRConfidence,
	}
}

// Analyze computes the report. Inputs are not modified.
func (a Analyzer) Analyze(equity []backtest.EquitySample, trades []ledger.ClosedTrade) Report {
	values := equityValues(equity)
	returns := Returns(values)

	confidence := a.VaRConfidence
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.95
	}

	rep := Report{
		Samples:     len(values),
		TotalReturn: TotalReturn(returns),
		Volatility:  Volatility(returns),
		Sharpe:      Sharpe(returns, a.RiskFreeRate),
		Sortino:     Sortino(returns, a.RiskFreeRate),
		MaxDrawdown: MaxDrawdown(values),
		VaR:         VaR(returns, confidence),
		CVaR:        CVaR(returns, confidence),
		Drawdowns:   DrawdownPeriods(equity),
		Monthly:     MonthlyReturns(equity),
		Rolling:     Rolling(equity, a.RollingWindow),
		Trades:      AnalyzeTrades(trades),
	}
	rep.AnnualReturn = AnnualizedReturn(rep.TotalReturn, len(values))
	rep.Calmar = Calmar(rep.AnnualReturn, rep.MaxDrawdown)
	return rep
}

// AnalyzeResult analyzes a simulation result.
func (a Analyzer) AnalyzeResult(res *backtest.Result) Report {
	return a.Analyze(res.Equity, res.Trades)
}
