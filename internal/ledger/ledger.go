// Package ledger keeps the authoritative record of open and closed positions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/metrics"
	"go.uber.org/zap"
)

// Store is durable key-value persistence for ledger snapshots.
type Store interface {
	Write(ctx context.Context, path string, data []byte) error
	// Read returns an error matching core.ErrNotFound when path has never
	// been written.
	Read(ctx context.Context, path string) ([]byte, error)
}

// state is replaced wholesale on every mutation so a failed write leaves
// the previous state untouched.
type state struct {
	open   map[string]Position
	closed []ClosedTrade
	events []Event
}

func (s state) clone() state {
	open := maps.Clone(s.open)
	if open == nil {
		open = make(map[string]Position)
	}
	return state{
		open:   open,
		closed: slices.Clip(s.closed),
		events: slices.Clip(s.events),
	}
}

// Ledger tracks positions for one account or one simulation run.
// At most one position per symbol may be open.
type Ledger struct {
	mu      sync.RWMutex
	st      state
	store   Store
	key     string
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore persists a snapshot under key after every mutation.
func WithStore(store Store, key string) Option {
	return func(l *Ledger) {
		l.store = store
		l.key = key
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records closes and persistence failures.
func WithMetrics(reg *metrics.Registry) Option {
	return func(l *Ledger) {
		l.metrics = reg
	}
}

// New creates an empty in-memory ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		st:     state{open: make(map[string]Position)},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load replaces the in-memory state with the stored snapshot. A missing
// snapshot leaves the ledger empty.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	data, err := l.store.Read(ctx, l.key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			l.logger.Info("no ledger snapshot found, starting empty", zap.String("key", l.key))
			return nil
		}
		return core.WrapError(core.ErrStoreFailed, fmt.Errorf("loading %s: %w", l.key, err))
	}

	st, err := decodeSnapshot(data)
	if err != nil {
		return core.WrapError(core.ErrStoreFailed, err)
	}

	l.mu.Lock()
	l.st = st
	l.mu.Unlock()

	l.logger.Info("ledger restored",
		zap.Int("open", len(st.open)),
		zap.Int("closed", len(st.closed)),
	)
	return nil
}

// Open records a new position for symbol.
func (l *Ledger) Open(ctx context.Context, symbol string, info EntryInfo) (Position, error) {
	if info.Quantity <= 0 || info.Price <= 0 {
		return Position{}, core.WrapError(core.ErrInvalidFill,
			fmt.Errorf("%s: quantity %d at price %v", symbol, info.Quantity, info.Price))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.st.open[symbol]; exists {
		l.logger.Info("rejecting entry, position already open", zap.String("symbol", symbol))
		return Position{}, core.WrapError(core.ErrAlreadyOpen, fmt.Errorf("%s", symbol))
	}

	lot := info.LotSize
	if lot <= 0 {
		lot = 1
	}
	pos := Position{
		ID:              core.NewID(info.Time),
		Symbol:          symbol,
		Quantity:        info.Quantity,
		LotSize:         lot,
		EntryPrice:      info.Price,
		EntryTime:       info.Time,
		EntryCommission: info.Commission,
		StopLoss:        info.StopLoss,
		TakeProfit:      info.TakeProfit,
		HighWater:       info.Price,
		StopKind:        StopFixed,
		Signal:          info.Signal,
	}

	next := l.st.clone()
	next.open[symbol] = pos
	next.events = append(next.events, Event{
		Kind:       EventOpen,
		PositionID: pos.ID,
		Symbol:     symbol,
		Price:      info.Price,
		Quantity:   info.Quantity,
		Commission: info.Commission,
		Time:       info.Time,
	})

	if err := l.commit(ctx, next); err != nil {
		return Position{}, err
	}

	l.logger.Debug("position opened",
		zap.String("symbol", symbol),
		zap.Float64("price", info.Price),
		zap.Int64("lots", info.Quantity),
		zap.Float64("stop_loss", info.StopLoss),
	)
	return pos, nil
}

// Close moves the open position for symbol into closed history. Profit is
// close value minus entry value minus both legs' commission.
func (l *Ledger) Close(ctx context.Context, symbol string, info ExitInfo) (ClosedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.exiting(symbol, info)
	if err != nil {
		return ClosedTrade{}, err
	}
	return l.close(ctx, pos, pos.Quantity, info)
}

// ClosePartial closes lots of the open position for symbol and keeps the
// rest open under a new position id. Entry commission is split pro rata
// between the closed and the remaining lots. Closing every lot is the same
// as Close.
func (l *Ledger) ClosePartial(ctx context.Context, symbol string, lots int64, info ExitInfo) (ClosedTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, err := l.exiting(symbol, info)
	if err != nil {
		return ClosedTrade{}, err
	}
	if lots <= 0 || lots > pos.Quantity {
		return ClosedTrade{}, core.WrapError(core.ErrInvalidFill,
			fmt.Errorf("%s: closing %d of %d lots", symbol, lots, pos.Quantity))
	}
	return l.close(ctx, pos, lots, info)
}

func (l *Ledger) exiting(symbol string, info ExitInfo) (Position, error) {
	pos, exists := l.st.open[symbol]
	if !exists {
		l.logger.Info("rejecting exit, no open position", zap.String("symbol", symbol))
		return Position{}, core.WrapError(core.ErrNotOpen, fmt.Errorf("%s", symbol))
	}
	if info.Price <= 0 {
		return Position{}, core.WrapError(core.ErrInvalidFill,
			fmt.Errorf("%s: exit price %v", symbol, info.Price))
	}
	return pos, nil
}

// close realizes lots of pos. Callers hold l.mu.
func (l *Ledger) close(ctx context.Context, pos Position, lots int64, info ExitInfo) (ClosedTrade, error) {
	next := l.st.clone()
	sold := pos
	if lots < pos.Quantity {
		share := pos.EntryCommission * float64(lots) / float64(pos.Quantity)
		sold.Quantity = lots
		sold.EntryCommission = share

		rest := pos
		rest.ID = core.NewID(info.Time)
		rest.Quantity -= lots
		rest.EntryCommission -= share
		next.open[pos.Symbol] = rest
	} else {
		delete(next.open, pos.Symbol)
	}

	trade := ClosedTrade{
		Position:       sold,
		ExitPrice:      info.Price,
		ExitTime:       info.Time,
		Reason:         info.Reason,
		ExitCommission: info.Commission,
		Holding:        info.Time.Sub(pos.EntryTime),
	}
	trade.Profit = trade.CloseValue() - sold.EntryValue() - sold.EntryCommission - info.Commission
	if ev := sold.EntryValue(); ev > 0 {
		trade.ProfitPercent = trade.Profit / ev * 100
	}

	next.closed = append(next.closed, trade)
	next.events = append(next.events, Event{
		Kind:       EventClose,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Price:      info.Price,
		Quantity:   lots,
		Commission: info.Commission,
		Reason:     info.Reason,
		Time:       info.Time,
	})

	if err := l.commit(ctx, next); err != nil {
		return ClosedTrade{}, err
	}

	l.metrics.RecordTradeClosed(string(info.Reason), trade.Profit)
	l.logger.Debug("position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", string(info.Reason)),
		zap.Float64("price", info.Price),
		zap.Int64("lots", lots),
		zap.Int64("remaining", pos.Quantity-lots),
		zap.Float64("profit", trade.Profit),
	)
	return trade, nil
}

// Update changes the trailing-stop fields of an open position. A missing
// position is logged and ignored: a concurrent exit may have closed it.
func (l *Ledger) Update(ctx context.Context, symbol string, upd StopUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, exists := l.st.open[symbol]
	if !exists {
		l.logger.Debug("ignoring stop update for closed position", zap.String("symbol", symbol))
		return nil
	}
	if pos.StopLoss == upd.StopLoss && pos.HighWater == upd.HighWater && pos.StopKind == upd.StopKind {
		return nil
	}

	pos.StopLoss = upd.StopLoss
	pos.HighWater = upd.HighWater
	pos.StopKind = upd.StopKind

	next := l.st.clone()
	next.open[symbol] = pos
	return l.commit(ctx, next)
}

// Get returns the open position for symbol, or None.
func (l *Ledger) Get(symbol string) optional.Option[Position] {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.st.open[symbol]
	if !ok {
		return optional.None[Position]()
	}
	return optional.Some(pos)
}

// Has reports whether symbol has an open position.
func (l *Ledger) Has(symbol string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.st.open[symbol]
	return ok
}

// Positions returns copies of all open positions sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedPositions(l.st.open)
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.st.open)
}

// UsedCapital is the entry notional tied up in open positions.
func (l *Ledger) UsedCapital() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var used float64
	for _, p := range l.st.open {
		used += p.EntryValue()
	}
	return used
}

// ClosedTrades returns closed trades in close order.
func (l *Ledger) ClosedTrades() []ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.st.closed)
}

// Events returns the full history in insertion order.
func (l *Ledger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.st.events)
}

// PortfolioMetrics aggregates closed trades. It returns the zero value when
// nothing has closed yet.
func (l *Ledger) PortfolioMetrics() Metrics {
	return ComputeMetrics(l.ClosedTrades())
}

// ComputeMetrics aggregates win rate, average win and loss, profit factor
// and holding time over trades.
func ComputeMetrics(trades []ClosedTrade) Metrics {
	if len(trades) == 0 {
		return Metrics{}
	}

	var (
		m                   Metrics
		grossWin, grossLoss float64
		totalHolding        time.Duration
	)
	m.TotalTrades = len(trades)
	for _, t := range trades {
		m.TotalProfit += t.Profit
		m.TotalCommission += t.Commission()
		totalHolding += t.Holding
		switch {
		case t.IsWin():
			m.WinningTrades++
			grossWin += t.Profit
		case t.IsLoss():
			m.LosingTrades++
			grossLoss += t.Profit
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	if m.WinningTrades > 0 {
		m.AverageWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss / float64(m.LosingTrades)
		m.ProfitFactor = grossWin / math.Abs(grossLoss)
	} else {
		m.ProfitFactor = math.Inf(1)
	}
	m.AverageHolding = totalHolding / time.Duration(m.TotalTrades)
	return m
}

func (l *Ledger) commit(ctx context.Context, next state) error {
	if l.store != nil {
		data, err := encodeSnapshot(next, time.Now())
		if err != nil {
			return core.WrapError(core.ErrStoreFailed, err)
		}
		if err := l.store.Write(ctx, l.key, data); err != nil {
			l.metrics.RecordLedgerPersistFailure()
			l.logger.Error("ledger snapshot write failed, mutation discarded",
				zap.String("key", l.key),
				zap.Error(err),
			)
			return core.WrapError(core.ErrStoreFailed, err)
		}
	}
	l.st = next
	return nil
}

func sortedPositions(open map[string]Position) []Position {
	out := make([]Position, 0, len(open))
	for _, sym := range slices.Sorted(maps.Keys(open)) {
		out = append(out, open[sym])
	}
	return out
}
