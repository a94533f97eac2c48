package strategy

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
)

// Mode selects how a Composite combines its members.
type Mode string

const (
	// ModeAny fires when at least one member fires; the strongest wins.
	ModeAny Mode = "any"
	// ModeAll fires only when every member fires in the same direction.
	ModeAll Mode = "all"
)

// Composite combines several sources into one.
type Composite struct {
	mode    Mode
	sources []Source
	logger  *zap.Logger
}

// NewComposite combines sources in registration order. A nil logger is
// allowed.
func NewComposite(mode Mode, sources []Source, logger *zap.Logger) (*Composite, error) {
	if len(sources) == 0 {
		return nil, core.WrapError(core.ErrUnknownStrategy, fmt.Errorf("no strategies configured"))
	}
	if mode != ModeAny && mode != ModeAll {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown strategy mode %q", mode))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composite{mode: mode, sources: sources, logger: logger}, nil
}

func (c *Composite) Name() string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	if len(names) == 1 {
		return names[0]
	}
	return string(c.mode) + "(" + strings.Join(names, ",") + ")"
}

// Warmup is the largest member warm-up.
func (c *Composite) Warmup() int {
	var n int
	for _, s := range c.sources {
		n = max(n, s.Warmup())
	}
	return n
}

func (c *Composite) Buy(history []core.Bar) core.Signal {
	return c.combine(core.SignalBuy, history, func(s Source) core.Signal {
		return s.Buy(history)
	})
}

func (c *Composite) Sell(history []core.Bar, pos ledger.Position) core.Signal {
	return c.combine(core.SignalSell, history, func(s Source) core.Signal {
		return s.Sell(history, pos)
	})
}

func (c *Composite) combine(kind core.SignalKind, history []core.Bar, ask func(Source) core.Signal) core.Signal {
	if len(history) == 0 {
		return core.NoSignal()
	}
	current := history[len(history)-1]

	fired := make([]core.Signal, 0, len(c.sources))
	for _, s := range c.sources {
		sig := normalize(ask(s), s.Name(), current)
		if sig.Kind != kind {
			if c.mode == ModeAll {
				return core.NoSignal()
			}
			continue
		}
		if err := sig.Validate(); err != nil {
			c.logger.Warn("dropping invalid signal",
				zap.String("strategy", s.Name()),
				zap.String("symbol", current.Symbol),
				zap.Error(err),
			)
			if c.mode == ModeAll {
				return core.NoSignal()
			}
			continue
		}
		fired = append(fired, sig)
	}

	if c.mode == ModeAny {
		best, ok := core.SelectStrongest(fired, kind)
		if !ok {
			return core.NoSignal()
		}
		return best
	}
	return merge(fired, c.Name())
}

// normalize fills in the fields a source may leave out.
func normalize(sig core.Signal, name string, bar core.Bar) core.Signal {
	if !sig.Present() {
		return core.NoSignal()
	}
	if sig.Strategy == "" {
		sig.Strategy = name
	}
	if sig.Symbol == "" {
		sig.Symbol = bar.Symbol
	}
	if sig.Time.IsZero() {
		sig.Time = bar.Time
	}
	if sig.Strength == 0 {
		sig.Strength = core.DefaultStrength
	}
	return sig
}

// merge joins unanimous signals: strength is the maximum, reasons are
// concatenated and snapshots merged in member order.
func merge(signals []core.Signal, name string) core.Signal {
	if len(signals) == 0 {
		return core.NoSignal()
	}
	out := signals[0]
	out.Strategy = name
	out.Reasons = nil
	out.Snapshot = make(map[string]float64)
	for _, s := range signals {
		out.Strength = max(out.Strength, s.Strength)
		out.Reasons = append(out.Reasons, s.Reasons...)
		for k, v := range s.Snapshot {
			out.Snapshot[k] = v
		}
	}
	return out
}
