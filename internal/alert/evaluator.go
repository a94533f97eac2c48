package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/notifier"
)

// Evaluator checks rules against metrics and notifies when one fires.
type Evaluator struct {
	notifiers *notifier.Registry
	rules     []Rule
	cooldown  time.Duration
	logger    *zap.Logger

	// pending holds rules waiting out their "for" duration
	pending map[string]time.Time
	// lastFired holds the last firing per rule for the cooldown
	lastFired map[string]time.Time

	now func() time.Time

	mu sync.Mutex
}

// NewEvaluator creates an evaluator. notifiers may be nil.
func NewEvaluator(rules []Rule, cooldown time.Duration, notifiers *notifier.Registry, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		notifiers: notifiers,
		rules:     rules,
		cooldown:  cooldown,
		logger:    logger,
		pending:   make(map[string]time.Time),
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Rules returns the configured rules.
func (e *Evaluator) Rules() []Rule { return e.rules }

// Evaluate runs every rule against metrics, sends the fired alerts and
// returns them.
func (e *Evaluator) Evaluate(ctx context.Context, metrics map[string]float64) []notifier.Event {
	e.mu.Lock()
	var fired []notifier.Event
	for _, rule := range e.rules {
		if ev, ok := e.evaluate(rule, metrics); ok {
			fired = append(fired, ev)
		}
	}
	e.mu.Unlock()

	if len(fired) == 0 || e.notifiers == nil {
		return fired
	}
	for name, err := range e.notifiers.NotifyAll(ctx, fired...) {
		e.logger.Warn("alert notification failed",
			zap.String("notifier", name),
			zap.Error(err),
		)
	}
	return fired
}

func (e *Evaluator) evaluate(rule Rule, metrics map[string]float64) (notifier.Event, bool) {
	now := e.now()

	if !rule.Evaluate(metrics) {
		delete(e.pending, rule.Name)
		return notifier.Event{}, false
	}

	if rule.For > 0 {
		since, ok := e.pending[rule.Name]
		if !ok {
			e.pending[rule.Name] = now
			return notifier.Event{}, false
		}
		if now.Sub(since) < rule.For {
			return notifier.Event{}, false
		}
	}

	if last, ok := e.lastFired[rule.Name]; ok && now.Sub(last) < e.cooldown {
		return notifier.Event{}, false
	}

	e.lastFired[rule.Name] = now
	delete(e.pending, rule.Name)
	e.logger.Info("alert fired",
		zap.String("rule", rule.Name),
		zap.String("severity", rule.Severity),
		zap.Float64("value", metrics[rule.Metric()]),
	)
	return notifier.Event{
		Kind:     notifier.EventAlert,
		Severity: rule.Severity,
		Reason:   rule.FormatMessage(metrics),
		Time:     now,
	}, true
}
