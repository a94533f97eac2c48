package core

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/moznion/go-optional"
)

// Bar represents one OHLCV observation for an instrument.
// Indicators holds named columns attached by upstream collaborators.
type Bar struct {
	Symbol     string
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	Indicators map[string]float64
}

// HasPrice reports whether the bar carries a usable closing price.
func (b Bar) HasPrice() bool {
	return b.Close > 0 && !math.IsNaN(b.Close) && !math.IsInf(b.Close, 0)
}

// Indicator returns the named indicator value. None means the column was
// never attached or holds NaN (warm-up rows).
func (b Bar) Indicator(name string) optional.Option[float64] {
	v, ok := b.Indicators[name]
	if !ok || math.IsNaN(v) {
		return optional.None[float64]()
	}
	return optional.Some(v)
}

// WithIndicator returns a copy of the bar with the named value set.
// The receiver's map is never mutated.
func (b Bar) WithIndicator(name string, value float64) Bar {
	indicators := make(map[string]float64, len(b.Indicators)+1)
	for k, v := range b.Indicators {
		indicators[k] = v
	}
	indicators[name] = value
	b.Indicators = indicators
	return b
}

// SignalKind is the direction carried by a Signal.
type SignalKind string

const (
	SignalNone SignalKind = "none"
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
)

// Signal is a strategy decision for one bar of one instrument.
type Signal struct {
	Kind     SignalKind
	Symbol   string
	Strategy string
	// Strength is in [0,1]. Defaults to 0.5 when a source leaves it unset.
	Strength float64
	Reasons  []string
	// Snapshot holds the indicator values that triggered the signal.
	Snapshot map[string]float64
	Time     time.Time
}

// DefaultStrength is used when a source does not grade its signal.
const DefaultStrength = 0.5

// NoSignal returns the empty signal.
func NoSignal() Signal {
	return Signal{Kind: SignalNone}
}

// Present reports whether the signal asks for an action.
func (s Signal) Present() bool {
	return s.Kind == SignalBuy || s.Kind == SignalSell
}

// Reason joins all reasons into one line.
func (s Signal) Reason() string {
	return strings.Join(s.Reasons, "; ")
}

// Value returns a snapshot entry.
func (s Signal) Value(name string) optional.Option[float64] {
	v, ok := s.Snapshot[name]
	if !ok {
		return optional.None[float64]()
	}
	return optional.Some(v)
}

// Validate checks a present signal carries a strength in range and at least one reason.
func (s Signal) Validate() error {
	if !s.Present() {
		return nil
	}
	if s.Strength < 0 || s.Strength > 1 || math.IsNaN(s.Strength) {
		return WrapError(ErrInvalidSignal, fmt.Errorf("strength %v outside [0,1]", s.Strength))
	}
	if len(s.Reasons) == 0 {
		return WrapError(ErrInvalidSignal, fmt.Errorf("%s signal from %q has no reasons", s.Kind, s.Strategy))
	}
	return nil
}

// SelectStrongest returns the highest-strength signal of the given kind.
// Ties keep the earliest signal in the slice.
func SelectStrongest(signals []Signal, kind SignalKind) (Signal, bool) {
	var (
		best  Signal
		found bool
	)
	for _, s := range signals {
		if s.Kind != kind {
			continue
		}
		if !found || s.Strength > best.Strength {
			best = s
			found = true
		}
	}
	return best, found
}
