// Package paper provides an order sender and a quote source that never
// touch a real broker, for dry runs of the live executor.
package paper

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/core"
)

// Sender fills market orders at the reference price adjusted by slippage.
// Requests are idempotent by client order id.
type Sender struct {
	commissionRate float64
	slippage       float64
	maxLots        int64

	mu    sync.Mutex
	fills map[string]broker.Fill
	log   []broker.OrderRequest
}

// Option configures a Sender.
type Option func(*Sender)

// WithSlippage moves buy fills up and sell fills down by percent.
func WithSlippage(percent float64) Option {
	return func(s *Sender) {
		s.slippage = percent
	}
}

// WithMaxLots caps the lots filled per order. Larger orders fill partially.
func WithMaxLots(n int64) Option {
	return func(s *Sender) {
		s.maxLots = n
	}
}

// NewSender creates a Sender charging commissionRate of the fill value.
func NewSender(commissionRate float64, opts ...Option) *Sender {
	s := &Sender{
		commissionRate: commissionRate,
		fills:          make(map[string]broker.Fill),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send implements broker.OrderSender.
func (s *Sender) Send(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	if err := ctx.Err(); err != nil {
		return broker.Fill{}, err
	}
	if err := req.Validate(); err != nil {
		return broker.Fill{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if fill, ok := s.fills[req.ClientOrderID]; ok {
		return fill, nil
	}

	lots := req.Quantity
	status := broker.FillStatusFilled
	if s.maxLots > 0 && lots > s.maxLots {
		lots = s.maxLots
		status = broker.FillStatusPartial
	}

	adj := decimal.NewFromFloat(s.slippage).Div(decimal.NewFromInt(100))
	if req.Side == broker.OrderSideSell {
		adj = adj.Neg()
	}
	price := decimal.NewFromFloat(req.Price).Mul(decimal.NewFromInt(1).Add(adj)).Round(4)

	shares := lots * max(req.LotSize, 1)
	commission := price.Mul(decimal.NewFromInt(shares)).Mul(decimal.NewFromFloat(s.commissionRate)).Round(2)

	fill := broker.Fill{
		OrderID:          uuid.NewString(),
		Status:           status,
		ExecutedQuantity: lots,
		ExecutedPrice:    price.InexactFloat64(),
		Commission:       commission.InexactFloat64(),
	}
	s.fills[req.ClientOrderID] = fill
	s.log = append(s.log, req)
	return fill, nil
}

// Orders returns the distinct requests sent so far, in order.
func (s *Sender) Orders() []broker.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

// ErrExhausted is returned once every bar of a symbol has been replayed.
var ErrExhausted = errors.New("paper: replay exhausted")

// Replay serves stored bars as if they arrived live: every History call
// for a symbol reveals one more bar.
type Replay struct {
	mu     sync.Mutex
	bars   map[string][]core.Bar
	cursor map[string]int
}

// NewReplay creates a Replay over bars keyed by symbol. Each series must be
// in ascending time order.
func NewReplay(bars map[string][]core.Bar) *Replay {
	return &Replay{
		bars:   bars,
		cursor: make(map[string]int, len(bars)),
	}
}

// History implements broker.QuoteSource.
func (r *Replay) History(ctx context.Context, symbol string, n int) ([]core.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	series, ok := r.bars[symbol]
	if !ok {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s: no replay data", symbol))
	}
	next := r.cursor[symbol]
	if next >= len(series) {
		return nil, fmt.Errorf("%s: %w", symbol, ErrExhausted)
	}
	r.cursor[symbol] = next + 1

	start := 0
	if n > 0 {
		start = max(0, next+1-n)
	}
	return slices.Clone(series[start : next+1]), nil
}

// Done reports whether every series has been fully replayed.
func (r *Replay) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol, series := range r.bars {
		if r.cursor[symbol] < len(series) {
			return false
		}
	}
	return true
}
