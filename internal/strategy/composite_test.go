package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
)

type fixedSource struct {
	name   string
	buy    core.Signal
	sell   core.Signal
	warmup int
}

func (f *fixedSource) Name() string                                 { return f.name }
func (f *fixedSource) Buy([]core.Bar) core.Signal                   { return f.buy }
func (f *fixedSource) Sell([]core.Bar, ledger.Position) core.Signal { return f.sell }
func (f *fixedSource) Warmup() int                                  { return f.warmup }

func buyWith(strength float64, reason string) core.Signal {
	return core.Signal{Kind: core.SignalBuy, Strength: strength, Reasons: []string{reason}}
}

func history() []core.Bar {
	return []core.Bar{{Symbol: "SBER", Time: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Close: 100}}
}

func TestNewComposite_Errors(t *testing.T) {
	_, err := NewComposite(ModeAny, nil, nil)
	assert.True(t, errors.Is(err, core.ErrUnknownStrategy))

	_, err = NewComposite("majority", []Source{&fixedSource{name: "a"}}, nil)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestComposite_NameAndWarmup(t *testing.T) {
	a := &fixedSource{name: "a", warmup: 5}
	b := &fixedSource{name: "b", warmup: 21}

	single, err := NewComposite(ModeAny, []Source{a}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", single.Name())

	c, err := NewComposite(ModeAll, []Source{a, b}, nil)
	require.NoError(t, err)
	assert.Equal(t, "all(a,b)", c.Name())
	assert.Equal(t, 21, c.Warmup())
}

func TestComposite_Any(t *testing.T) {
	tests := []struct {
		name         string
		sources      []Source
		wantKind     core.SignalKind
		wantStrategy string
		wantStrength float64
	}{
		{
			name: "strongest wins",
			sources: []Source{
				&fixedSource{name: "a", buy: buyWith(0.6, "a")},
				&fixedSource{name: "b", buy: buyWith(0.8, "b")},
			},
			wantKind: core.SignalBuy, wantStrategy: "b", wantStrength: 0.8,
		},
		{
			name: "tie keeps first",
			sources: []Source{
				&fixedSource{name: "a", buy: buyWith(0.7, "a")},
				&fixedSource{name: "b", buy: buyWith(0.7, "b")},
			},
			wantKind: core.SignalBuy, wantStrategy: "a", wantStrength: 0.7,
		},
		{
			name: "unset strength defaults",
			sources: []Source{
				&fixedSource{name: "a", buy: buyWith(0, "a")},
			},
			wantKind: core.SignalBuy, wantStrategy: "a", wantStrength: core.DefaultStrength,
		},
		{
			name: "invalid dropped",
			sources: []Source{
				&fixedSource{name: "a", buy: core.Signal{Kind: core.SignalBuy, Strength: 0.9}},
				&fixedSource{name: "b", buy: buyWith(0.6, "b")},
			},
			wantKind: core.SignalBuy, wantStrategy: "b", wantStrength: 0.6,
		},
		{
			name: "none fire",
			sources: []Source{
				&fixedSource{name: "a", buy: core.NoSignal()},
			},
			wantKind: core.SignalNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewComposite(ModeAny, tt.sources, nil)
			require.NoError(t, err)

			sig := c.Buy(history())
			assert.Equal(t, tt.wantKind, sig.Kind)
			if tt.wantKind == core.SignalNone {
				return
			}
			assert.Equal(t, tt.wantStrategy, sig.Strategy)
			assert.Equal(t, tt.wantStrength, sig.Strength)
			assert.Equal(t, "SBER", sig.Symbol)
			assert.False(t, sig.Time.IsZero())
		})
	}
}

func TestComposite_All(t *testing.T) {
	a := &fixedSource{name: "a", buy: core.Signal{
		Kind: core.SignalBuy, Strength: 0.6, Reasons: []string{"a"}, Snapshot: map[string]float64{"x": 1},
	}}
	b := &fixedSource{name: "b", buy: core.Signal{
		Kind: core.SignalBuy, Strength: 0.8, Reasons: []string{"b"}, Snapshot: map[string]float64{"y": 2},
	}}
	c, err := NewComposite(ModeAll, []Source{a, b}, nil)
	require.NoError(t, err)

	sig := c.Buy(history())
	require.Equal(t, core.SignalBuy, sig.Kind)
	assert.Equal(t, "all(a,b)", sig.Strategy)
	assert.Equal(t, 0.8, sig.Strength)
	assert.Equal(t, []string{"a", "b"}, sig.Reasons)
	assert.Equal(t, map[string]float64{"x": 1, "y": 2}, sig.Snapshot)

	b.buy = core.NoSignal()
	assert.False(t, c.Buy(history()).Present(), "all mode needs every member")
}

func TestComposite_Sell(t *testing.T) {
	a := &fixedSource{name: "a", buy: buyWith(0.9, "a"), sell: core.Signal{Kind: core.SignalSell, Reasons: []string{"exit"}}}
	c, err := NewComposite(ModeAny, []Source{a}, nil)
	require.NoError(t, err)

	sig := c.Sell(history(), ledger.Position{Symbol: "SBER"})
	assert.Equal(t, core.SignalSell, sig.Kind)

	assert.False(t, c.Sell(nil, ledger.Position{}).Present())
}

func TestComposite_IgnoresWrongDirection(t *testing.T) {
	a := &fixedSource{name: "a", buy: core.Signal{Kind: core.SignalSell, Reasons: []string{"wrong"}}}
	c, err := NewComposite(ModeAny, []Source{a}, nil)
	require.NoError(t, err)
	assert.False(t, c.Buy(history()).Present())
}
