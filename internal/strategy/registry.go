package strategy

import (
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
)

// Factory builds a fresh Source from parameters.
type Factory func(params Params) (Source, error)

type registration struct {
	factory Factory
	ranges  []config.ParamRange
}

// Registry maps strategy names to factories. The optimizer builds a new
// Source per parameter combination, so sources never share state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	order   []string
	logger  *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger is allowed.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{entries: make(map[string]registration), logger: logger}
}

// Register adds a factory and the parameter ranges swept by default.
func (r *Registry) Register(name string, f Factory, ranges []config.ParamRange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = registration{factory: f, ranges: ranges}
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// New builds one named source.
func (r *Registry) New(name string, params Params) (Source, error) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, core.WrapError(core.ErrUnknownStrategy, fmt.Errorf("%q", name))
	}
	return reg.factory(params)
}

// Build constructs the composite described by cfg.
func (r *Registry) Build(cfg config.StrategyConfig) (Source, error) {
	sources := make([]Source, 0, len(cfg.Names))
	for _, name := range cfg.Names {
		s, err := r.New(name, cfg.Params)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return NewComposite(Mode(cfg.Mode), sources, r.logger)
}

// DefaultParamRanges returns the default sweep for the named strategies,
// skipping parameters listed twice.
func (r *Registry) DefaultParamRanges(names ...string) []config.ParamRange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []config.ParamRange
	seen := make(map[string]bool)
	for _, name := range names {
		for _, pr := range r.entries[name].ranges {
			if seen[pr.Name] {
				continue
			}
			seen[pr.Name] = true
			out = append(out, config.ParamRange{Name: pr.Name, Values: slices.Clone(pr.Values)})
		}
	}
	return out
}
