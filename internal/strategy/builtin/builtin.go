// Package builtin wires the bundled strategies into a registry.
package builtin

import (
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/strategy"
	"github.com/newthinker/tradecore/internal/strategy/ma_crossover"
	"github.com/newthinker/tradecore/internal/strategy/price_band"
)

// Registry returns a registry holding every bundled strategy.
func Registry(logger *zap.Logger) *strategy.Registry {
	r := strategy.NewRegistry(logger)
	r.Register(ma_crossover.Name, ma_crossover.Factory, ma_crossover.DefaultRanges())
	r.Register(price_band.Name, price_band.Factory, price_band.DefaultRanges())
	return r
}
