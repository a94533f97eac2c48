package alert

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
)

// Metric names a rule expression may reference.
var Metrics = []string{
	"open_positions",
	"closed_trades",
	"capital",
	"total_profit",
	"total_profit_percent",
	"unrealized_pnl",
	"exposure",
	"exposure_percent",
	"risk_amount",
	"risk_percent",
	"win_rate",
	"profit_factor",
	"average_win",
	"average_loss",
}

// "metric op value"
var exprPattern = regexp.MustCompile(`^(\w+)\s*(>=|<=|==|!=|>|<)\s*(-?\d+(?:\.\d+)?)$`)

// Rule is a threshold on one portfolio metric.
type Rule struct {
	Name     string
	Expr     string
	For      time.Duration
	Severity string
	Message  string

	metric    string
	op        string
	threshold float64
}

// ParseRule validates cfg and compiles its expression.
func ParseRule(cfg config.AlertRule) (Rule, error) {
	m := exprPattern.FindStringSubmatch(strings.TrimSpace(cfg.Expr))
	if m == nil {
		return Rule{}, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("alert %q: expression %q is not \"metric op value\"", cfg.Name, cfg.Expr))
	}
	if !slices.Contains(Metrics, m[1]) {
		return Rule{}, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("alert %q: unknown metric %q", cfg.Name, m[1]))
	}
	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Rule{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("alert %q: %w", cfg.Name, err))
	}

	severity := cfg.Severity
	if severity == "" {
		severity = "warning"
	}
	return Rule{
		Name:      cfg.Name,
		Expr:      cfg.Expr,
		For:       cfg.For,
		Severity:  severity,
		Message:   cfg.Message,
		metric:    m[1],
		op:        m[2],
		threshold: threshold,
	}, nil
}

// Metric is the metric name the rule watches.
func (r Rule) Metric() string { return r.metric }

// Evaluate reports whether the rule holds for metrics. A missing metric
// never triggers.
func (r Rule) Evaluate(metrics map[string]float64) bool {
	value, ok := metrics[r.metric]
	if !ok {
		return false
	}

	switch r.op {
	case ">":
		return value > r.threshold
	case "<":
		return value < r.threshold
	case ">=":
		return value >= r.threshold
	case "<=":
		return value <= r.threshold
	case "==":
		return value == r.threshold
	case "!=":
		return value != r.threshold
	default:
		return false
	}
}

// FormatMessage renders the alert text with the metric's current value.
func (r Rule) FormatMessage(metrics map[string]float64) string {
	text := r.Message
	if text == "" {
		text = r.Expr
	}
	msg := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(r.Severity), r.Name, text)
	if value, ok := metrics[r.metric]; ok {
		msg += fmt.Sprintf(" (%s=%.2f)", r.metric, value)
	}
	return msg
}
