package strategy

import (
	"fmt"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
)

// Source turns a bar history into signals. history ends with the current
// bar. Implementations must not modify history and must be safe to call
// repeatedly.
type Source interface {
	Name() string
	// Buy returns a buy signal or core.NoSignal().
	Buy(history []core.Bar) core.Signal
	// Sell returns a sell signal for the open position or core.NoSignal().
	Sell(history []core.Bar, pos ledger.Position) core.Signal
	// Warmup is the number of bars needed before signals can fire.
	Warmup() int
}

// Params are the strategy.* values of the configuration.
type Params map[string]any

// Int returns the named integer parameter or def when unset.
func (p Params) Int(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	n, ok := config.ToInt(v)
	if !ok {
		return 0, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("strategy.%s: expected integer, got %v", name, v))
	}
	return n, nil
}

// Float returns the named numeric parameter or def when unset.
func (p Params) Float(name string, def float64) (float64, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	f, ok := config.ToFloat(v)
	if !ok {
		return 0, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("strategy.%s: expected number, got %v", name, v))
	}
	return f, nil
}

// Tail returns at most n bars from the end of history.
func Tail(history []core.Bar, n int) []core.Bar {
	if n <= 0 || n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}
