package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/risk"
)

// Portfolio is the account state a Reporter reads.
type Portfolio interface {
	Positions() []ledger.Position
	PortfolioMetrics() ledger.Metrics
}

// Snapshot is the portfolio at one instant.
type Snapshot struct {
	Time           time.Time
	InitialCapital float64
	Capital        float64
	OpenPositions  int
	Metrics        ledger.Metrics
	Risk           risk.Report
}

// UnrealizedPnL sums open positions marked at the snapshot prices.
func (s Snapshot) UnrealizedPnL() float64 {
	var total float64
	for _, pr := range s.Risk.Positions {
		total += pr.UnrealizedPnL
	}
	return total
}

// TotalProfitPercent is realized profit against initial capital.
func (s Snapshot) TotalProfitPercent() float64 {
	if s.InitialCapital <= 0 {
		return 0
	}
	return s.Metrics.TotalProfit / s.InitialCapital * 100
}

// Values flattens the snapshot into the metrics rules evaluate.
func (s Snapshot) Values() map[string]float64 {
	return map[string]float64{
		"open_positions":       float64(s.OpenPositions),
		"closed_trades":        float64(s.Metrics.TotalTrades),
		"capital":              s.Capital,
		"total_profit":         s.Metrics.TotalProfit,
		"total_profit_percent": s.TotalProfitPercent(),
		"unrealized_pnl":       s.UnrealizedPnL(),
		"exposure":             s.Risk.TotalExposure,
		"exposure_percent":     s.Risk.ExposurePercent,
		"risk_amount":          s.Risk.TotalRisk,
		"risk_percent":         s.Risk.RiskPercent,
		"win_rate":             s.Metrics.WinRate,
		"profit_factor":        s.Metrics.ProfitFactor,
		"average_win":          s.Metrics.AverageWin,
		"average_loss":         s.Metrics.AverageLoss,
	}
}

// Event builds the portfolio report notification.
func (s Snapshot) Event() notifier.Event {
	return notifier.Event{
		Kind: notifier.EventPortfolioReport,
		Time: s.Time,
		Portfolio: &notifier.Portfolio{
			OpenPositions:      s.OpenPositions,
			ClosedTrades:       s.Metrics.TotalTrades,
			Capital:            s.Capital,
			TotalProfit:        s.Metrics.TotalProfit,
			TotalProfitPercent: s.TotalProfitPercent(),
			UnrealizedPnL:      s.UnrealizedPnL(),
			Exposure:           s.Risk.TotalExposure,
			ExposurePercent:    s.Risk.ExposurePercent,
			AtRisk:             s.Risk.TotalRisk,
			WinRate:            s.Metrics.WinRate,
			AverageWin:         s.Metrics.AverageWin,
			AverageLoss:        s.Metrics.AverageLoss,
			ProfitFactor:       s.Metrics.ProfitFactor,
		},
	}
}

// Reporter sends periodic portfolio reports and evaluates alert rules
// against the same snapshot.
type Reporter struct {
	cfg       config.AlertsConfig
	initial   float64
	portfolio Portfolio
	policy    risk.Policy
	evaluator *Evaluator
	notifiers *notifier.Registry
	logger    *zap.Logger
	now       func() time.Time
	prices    func() map[string]float64
	capital   func() float64
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithNotifiers sets where reports and alerts are sent.
func WithNotifiers(reg *notifier.Registry) Option {
	return func(r *Reporter) { r.notifiers = reg }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// WithPrices sets the source of mark prices. Positions without a price
// are marked at entry.
func WithPrices(prices func() map[string]float64) Option {
	return func(r *Reporter) { r.prices = prices }
}

// WithCapital overrides the capital figure, which defaults to initial
// capital plus realized profit.
func WithCapital(capital func() float64) Option {
	return func(r *Reporter) { r.capital = capital }
}

// NewReporter builds a reporter over portfolio. It fails when an alert
// rule does not parse.
func NewReporter(cfg *config.Config, portfolio Portfolio, opts ...Option) (*Reporter, error) {
	rules := make([]Rule, 0, len(cfg.Alerts.Rules))
	for _, rc := range cfg.Alerts.Rules {
		rule, err := ParseRule(rc)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	r := &Reporter{
		cfg:       cfg.Alerts,
		initial:   cfg.Simulation.InitialCapital,
		portfolio: portfolio,
		policy:    risk.NewPolicy(cfg),
		logger:    zap.NewNop(),
		now:       time.Now,
		prices:    func() map[string]float64 { return nil },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.capital == nil {
		r.capital = func() float64 {
			return r.initial + r.portfolio.PortfolioMetrics().TotalProfit
		}
	}
	r.evaluator = NewEvaluator(rules, r.cfg.Cooldown, r.notifiers, r.logger)
	r.evaluator.now = r.now
	return r, nil
}

// Snapshot reads the portfolio now.
func (r *Reporter) Snapshot() Snapshot {
	open := r.portfolio.Positions()
	capital := r.capital()
	return Snapshot{
		Time:           r.now(),
		InitialCapital: r.initial,
		Capital:        capital,
		OpenPositions:  len(open),
		Metrics:        r.portfolio.PortfolioMetrics(),
		Risk:           r.policy.Report(open, r.prices(), capital),
	}
}

// Report sends a portfolio report and returns it.
func (r *Reporter) Report(ctx context.Context) notifier.Event {
	ev := r.Snapshot().Event()
	r.logger.Info("portfolio report",
		zap.Int("open_positions", ev.Portfolio.OpenPositions),
		zap.Float64("capital", ev.Portfolio.Capital),
		zap.Float64("total_profit", ev.Portfolio.TotalProfit),
		zap.Float64("exposure_percent", ev.Portfolio.ExposurePercent),
	)
	if r.notifiers != nil {
		for name, err := range r.notifiers.NotifyAll(ctx, ev) {
			r.logger.Warn("portfolio report failed",
				zap.String("notifier", name),
				zap.Error(err),
			)
		}
	}
	return ev
}

// Check evaluates the alert rules against a fresh snapshot.
func (r *Reporter) Check(ctx context.Context) []notifier.Event {
	return r.evaluator.Evaluate(ctx, r.Snapshot().Values())
}

// Run checks alerts every CheckInterval and reports every ReportInterval
// until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	r.logger.Info("portfolio reporter started",
		zap.Duration("report_interval", r.cfg.ReportInterval),
		zap.Duration("check_interval", r.cfg.CheckInterval),
		zap.Int("rules", len(r.evaluator.Rules())),
	)

	lastReport := r.now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		r.Check(ctx)
		if r.cfg.ReportInterval > 0 && r.now().Sub(lastReport) >= r.cfg.ReportInterval {
			r.Report(ctx)
			lastReport = r.now()
		}
	}
}
