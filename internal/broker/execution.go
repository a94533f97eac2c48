package broker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
	"github.com/newthinker/tradecore/internal/metrics"
	"github.com/newthinker/tradecore/internal/notifier"
	"github.com/newthinker/tradecore/internal/risk"
	"github.com/newthinker/tradecore/internal/strategy"
)

// ExecutionMode determines how orders are processed.
type ExecutionMode string

const (
	// ExecutionAuto sends orders as soon as they are decided.
	ExecutionAuto ExecutionMode = "auto"
	// ExecutionConfirm queues strategy orders until Confirm. Risk exits
	// are still sent at once.
	ExecutionConfirm ExecutionMode = "confirm"
)

// Executor applies the risk policy and a strategy to live quotes, sends the
// resulting orders and records fills in the ledger. The ledger is only
// changed after the broker reports an execution.
type Executor struct {
	cfg       *config.Config
	mode      ExecutionMode
	policy    risk.Policy
	ledger    *ledger.Ledger
	source    strategy.Source
	sender    OrderSender
	quotes    QuoteSource
	notifiers *notifier.Registry
	journal   TradeJournal
	logger    *zap.Logger
	metrics   *metrics.Registry
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*PendingOrder
	recon   map[string]Reconciliation
	prices  map[string]float64
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records orders, open positions and reconciliations.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Executor) {
		e.metrics = reg
	}
}

// WithNotifiers publishes trade events.
func WithNotifiers(reg *notifier.Registry) Option {
	return func(e *Executor) {
		e.notifiers = reg
	}
}

// WithJournal records every closed trade.
func WithJournal(j TradeJournal) Option {
	return func(e *Executor) {
		e.journal = j
	}
}

// WithClock replaces time.Now for confirmations.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor creates an Executor trading cfg.Live.Symbols.
func NewExecutor(cfg *config.Config, l *ledger.Ledger, source strategy.Source, sender OrderSender, quotes QuoteSource, opts ...Option) *Executor {
	mode := ExecutionMode(cfg.Live.Mode)
	if mode == "" {
		mode = ExecutionAuto
	}
	e := &Executor{
		cfg:     cfg,
		mode:    mode,
		policy:  risk.NewPolicy(cfg),
		ledger:  l,
		source:  source,
		sender:  sender,
		quotes:  quotes,
		logger:  zap.NewNop(),
		now:     time.Now,
		pending: make(map[string]*PendingOrder),
		recon:   make(map[string]Reconciliation),
		prices:  make(map[string]float64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the execution mode.
func (e *Executor) Mode() ExecutionMode {
	return e.mode
}

// Capital is the initial capital plus realized profit.
func (e *Executor) Capital() float64 {
	return e.cfg.Simulation.InitialCapital + e.ledger.PortfolioMetrics().TotalProfit
}

// LastPrices returns the last close evaluated per symbol.
func (e *Executor) LastPrices() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.prices)
}

// Evaluate decides on the last bar of history for symbol, the same way a
// simulation step does: trailing stop, risk exits, strategy exit, then
// entry.
func (e *Executor) Evaluate(ctx context.Context, symbol string, history []core.Bar) error {
	if len(history) == 0 {
		return core.WrapError(core.ErrNoData, fmt.Errorf("%s: empty history", symbol))
	}
	bar := history[len(history)-1]
	if !bar.HasPrice() {
		e.logger.Debug("skipping bar without price",
			zap.String("symbol", symbol),
			zap.Time("time", bar.Time),
		)
		return nil
	}
	price := bar.Close
	e.mu.Lock()
	e.prices[symbol] = price
	e.mu.Unlock()

	if opt := e.ledger.Get(symbol); opt.IsSome() {
		pos := opt.Unwrap()

		upd := e.policy.UpdateTrailing(pos, price)
		if err := e.ledger.Update(ctx, symbol, upd.StopUpdate()); err != nil {
			return err
		}
		if upd.Raised {
			e.logger.Debug("trailing stop raised",
				zap.String("symbol", symbol),
				zap.Float64("stop", upd.Stop),
			)
		}
		pos.StopLoss, pos.HighWater, pos.StopKind = upd.Stop, upd.HighWater, upd.Kind

		if reason := e.policy.CheckExit(pos, price, bar.Time); reason.IsSome() {
			return e.exit(ctx, pos, price, bar.Time, reason.Unwrap(), core.NoSignal())
		}

		sig := e.source.Sell(history, pos)
		if sig.Kind == core.SignalSell {
			return e.exit(ctx, pos, price, bar.Time, ledger.ExitStrategySignal, sig)
		}
		return nil
	}

	sig := e.source.Buy(history)
	if sig.Kind != core.SignalBuy {
		return nil
	}
	sig.Symbol = symbol
	if err := e.enter(ctx, sig, price, bar.Time); err != nil && !isVeto(err) {
		return err
	}
	return nil
}

func (e *Executor) enter(ctx context.Context, sig core.Signal, price float64, at time.Time) error {
	symbol := sig.Symbol
	if e.hasPending(symbol) {
		e.logger.Debug("order already pending", zap.String("symbol", symbol))
		return nil
	}

	open := e.ledger.Positions()
	capital := e.Capital()
	if check := e.policy.CheckEntryAllowed(capital, open); !check.Allowed {
		e.logger.Info("buy signal vetoed",
			zap.String("symbol", symbol),
			zap.String("reason", check.Reason),
		)
		e.metrics.RecordBuySignal("vetoed")
		return core.WrapError(core.ErrPositionLimit, errors.New(check.Reason))
	}

	_, lots := e.policy.SizePosition(capital, price, open)
	if lots == 0 {
		e.logger.Info("insufficient capital for one lot",
			zap.String("symbol", symbol),
			zap.Float64("price", price),
			zap.Float64("capital", capital),
		)
		e.metrics.RecordBuySignal("insufficient_capital")
		return core.WrapError(core.ErrInsufficientCapital, fmt.Errorf("%s at %.4f", symbol, price))
	}

	req := OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          OrderSideBuy,
		Quantity:      lots,
		LotSize:       e.policy.LotSize,
		Price:         price,
	}
	e.notifySignal(ctx, symbol, OrderSideBuy, sig, price, at)
	if e.mode == ExecutionConfirm {
		e.metrics.RecordBuySignal("queued")
		e.queue(ctx, req, "", sig, at)
		return nil
	}

	e.metrics.RecordBuySignal("accepted")
	_, err := e.execute(ctx, req, "", sig, at)
	return err
}

func (e *Executor) exit(ctx context.Context, pos ledger.Position, price float64, at time.Time, reason ledger.ExitReason, sig core.Signal) error {
	req := OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        pos.Symbol,
		Side:          OrderSideSell,
		Quantity:      pos.Quantity,
		LotSize:       pos.LotSize,
		Price:         price,
	}
	if reason == ledger.ExitStrategySignal {
		if e.hasPending(pos.Symbol) {
			return nil
		}
		e.notifySignal(ctx, pos.Symbol, OrderSideSell, sig, price, at)
		if e.mode == ExecutionConfirm {
			e.queue(ctx, req, reason, sig, at)
			return nil
		}
	}
	_, err := e.execute(ctx, req, reason, sig, at)
	return err
}

// execute sends req and applies the fill. Rejections and failed sends leave
// the ledger untouched.
func (e *Executor) execute(ctx context.Context, req OrderRequest, reason ledger.ExitReason, sig core.Signal, at time.Time) (Fill, error) {
	side := string(req.Side)

	fill, err := e.send(ctx, req)
	if err != nil {
		e.metrics.RecordOrder(side, "failed")
		e.logger.Error("order failed",
			zap.String("symbol", req.Symbol),
			zap.String("side", side),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Error(err),
		)
		e.notify(ctx, notifier.Event{
			Kind:     notifier.EventOrderFailed,
			Symbol:   req.Symbol,
			Side:     side,
			Quantity: req.Shares(),
			Price:    req.Price,
			Reason:   err.Error(),
			OrderID:  req.ClientOrderID,
			Time:     at,
		})
		return Fill{}, core.WrapError(core.ErrOrderFailed, err)
	}

	if !fill.Executed() {
		e.metrics.RecordOrder(side, "rejected")
		e.logger.Warn("order rejected",
			zap.String("symbol", req.Symbol),
			zap.String("side", side),
			zap.String("reason", fill.Reason),
		)
		e.notify(ctx, notifier.Event{
			Kind:     notifier.EventOrderRejected,
			Symbol:   req.Symbol,
			Side:     side,
			Quantity: req.Shares(),
			Price:    req.Price,
			Reason:   fill.Reason,
			OrderID:  fill.OrderID,
			Time:     at,
		})
		return fill, core.WrapError(core.ErrOrderRejected, fmt.Errorf("%s %s: %s", side, req.Symbol, fill.Reason))
	}

	if fill.ExecutedQuantity > req.Quantity {
		e.metrics.RecordOrder(side, "overfilled")
		e.reconcile(req, fill, "broker executed more than requested", at)
		return fill, core.WrapError(core.ErrInvalidFill,
			fmt.Errorf("%s %s: executed %d of %d lots", side, req.Symbol, fill.ExecutedQuantity, req.Quantity))
	}

	partial := fill.ExecutedQuantity < req.Quantity
	if partial {
		e.metrics.RecordOrder(side, "partial")
	} else {
		e.metrics.RecordOrder(side, "filled")
	}

	if req.Side == OrderSideBuy {
		err = e.applyBuy(ctx, req, fill, sig, at)
	} else {
		err = e.applySell(ctx, req, fill, reason, at)
	}
	if err != nil {
		e.reconcile(req, fill, "ledger update failed: "+err.Error(), at)
		return fill, err
	}

	if partial {
		e.reconcile(req, fill, "partial fill", at)
		e.notify(ctx, notifier.Event{
			Kind:     notifier.EventPartialFill,
			Symbol:   req.Symbol,
			Side:     side,
			Quantity: fill.ExecutedQuantity * max(req.LotSize, 1),
			Price:    fill.ExecutedPrice,
			Reason:   fmt.Sprintf("executed %d of %d lots", fill.ExecutedQuantity, req.Quantity),
			OrderID:  fill.OrderID,
			Time:     at,
		})
	}
	return fill, nil
}

func (e *Executor) applyBuy(ctx context.Context, req OrderRequest, fill Fill, sig core.Signal, at time.Time) error {
	stop, take := e.policy.InitialStops(fill.ExecutedPrice, true)
	pos, err := e.ledger.Open(ctx, req.Symbol, ledger.EntryInfo{
		Price:      fill.ExecutedPrice,
		Quantity:   fill.ExecutedQuantity,
		LotSize:    req.LotSize,
		Time:       at,
		Commission: fill.Commission,
		StopLoss:   stop,
		TakeProfit: take,
		Signal: ledger.EntrySignal{
			Strategy: sig.Strategy,
			Strength: sig.Strength,
			Reasons:  sig.Reasons,
			Snapshot: sig.Snapshot,
		},
	})
	if err != nil {
		return err
	}

	e.logger.Info("position opened",
		zap.String("symbol", req.Symbol),
		zap.Int64("lots", pos.Quantity),
		zap.Float64("price", pos.EntryPrice),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.String("order_id", fill.OrderID),
	)
	e.notify(ctx, notifier.Event{
		Kind:     notifier.EventPositionOpened,
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Quantity: pos.Shares(),
		Price:    pos.EntryPrice,
		Reason:   sig.Reason(),
		OrderID:  fill.OrderID,
		Time:     at,
	})
	return nil
}

func (e *Executor) applySell(ctx context.Context, req OrderRequest, fill Fill, reason ledger.ExitReason, at time.Time) error {
	opt := e.ledger.Get(req.Symbol)
	if opt.IsNone() {
		return core.WrapError(core.ErrNotOpen, fmt.Errorf("%s", req.Symbol))
	}
	pos := opt.Unwrap()

	// A partial fill realizes the executed lots and leaves the rest open.
	trade, err := e.ledger.ClosePartial(ctx, req.Symbol, min(fill.ExecutedQuantity, pos.Quantity), ledger.ExitInfo{
		Price:      fill.ExecutedPrice,
		Time:       at,
		Reason:     reason,
		Commission: fill.Commission,
	})
	if err != nil {
		return err
	}

	if e.journal != nil {
		if err := e.journal.RecordTrade(ctx, trade); err != nil {
			e.logger.Warn("failed to journal trade",
				zap.String("position_id", trade.Position.ID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("position closed",
		zap.String("symbol", req.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("price", trade.ExitPrice),
		zap.Int64("lots", trade.Position.Quantity),
		zap.Int64("remaining", pos.Quantity-trade.Position.Quantity),
		zap.Float64("profit", trade.Profit),
	)
	e.notify(ctx, notifier.Event{
		Kind:          notifier.EventPositionClosed,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Quantity:      trade.Position.Shares(),
		Price:         trade.ExitPrice,
		Profit:        trade.Profit,
		ProfitPercent: trade.ProfitPercent,
		Reason:        string(reason),
		OrderID:       fill.OrderID,
		Time:          at,
	})
	return nil
}

// send places req with capped exponential backoff. The same request, and
// so the same client order id, is sent on every attempt.
func (e *Executor) send(ctx context.Context, req OrderRequest) (Fill, error) {
	if err := req.Validate(); err != nil {
		return Fill{}, err
	}

	var fill Fill
	attempt := func() error {
		f, err := e.sender.Send(ctx, req)
		if err == nil {
			fill = f
			return nil
		}
		if errors.Is(err, core.ErrOrderRejected) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("order send failed, retrying",
			zap.String("symbol", req.Symbol),
			zap.String("client_order_id", req.ClientOrderID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(attempt, e.retryPolicy(ctx), notify)
	if errors.Is(err, core.ErrOrderRejected) {
		return Fill{Status: FillStatusRejected, Reason: err.Error()}, nil
	}
	return fill, err
}

func (e *Executor) retryPolicy(ctx context.Context) backoff.BackOff {
	rc := e.cfg.Live.Retry
	b := backoff.NewExponentialBackOff()
	if rc.InitialInterval > 0 {
		b.InitialInterval = rc.InitialInterval
	}
	if rc.MaxInterval > 0 {
		b.MaxInterval = rc.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(rc.MaxAttempts, 1)-1)), ctx)
}

func (e *Executor) queue(ctx context.Context, req OrderRequest, reason ledger.ExitReason, sig core.Signal, at time.Time) {
	order := &PendingOrder{
		ID:        uuid.NewString(),
		Request:   req,
		Reason:    reason,
		Signal:    sig,
		CreatedAt: e.now(),
		State:     PendingStateQueued,
	}

	e.mu.Lock()
	e.pending[order.ID] = order
	e.mu.Unlock()

	e.logger.Info("order queued for confirmation",
		zap.String("pending_id", order.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Int64("lots", req.Quantity),
	)
	text := sig.Reason()
	if reason != "" {
		text = string(reason)
	}
	e.notify(ctx, notifier.Event{
		Kind:     notifier.EventOrderQueued,
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Quantity: req.Shares(),
		Price:    req.Price,
		Reason:   text,
		OrderID:  order.ID,
		Time:     at,
	})
}

func (e *Executor) hasPending(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pending {
		if p.Request.Symbol == symbol {
			return true
		}
	}
	return false
}

// Confirm sends a pending order. A buy whose symbol has meanwhile been
// opened, or a sell whose position is gone, is dropped. A sell is resized
// to the current position. A failed send keeps the order queued.
func (e *Executor) Confirm(ctx context.Context, pendingID string) (Fill, error) {
	e.mu.Lock()
	pending, exists := e.pending[pendingID]
	if !exists {
		e.mu.Unlock()
		return Fill{}, ErrPendingOrderNotFound
	}
	if pending.State == PendingStateProcessing {
		e.mu.Unlock()
		return Fill{}, ErrPendingOrderBusy
	}
	pending.State = PendingStateProcessing
	order := *pending
	e.mu.Unlock()

	req := order.Request
	switch req.Side {
	case OrderSideBuy:
		if e.ledger.Has(req.Symbol) {
			e.drop(pendingID)
			return Fill{}, core.WrapError(core.ErrAlreadyOpen, fmt.Errorf("%s", req.Symbol))
		}
	case OrderSideSell:
		opt := e.ledger.Get(req.Symbol)
		if opt.IsNone() {
			e.drop(pendingID)
			return Fill{}, core.WrapError(core.ErrNotOpen, fmt.Errorf("%s", req.Symbol))
		}
		req.Quantity = opt.Unwrap().Quantity
	}

	fill, err := e.execute(ctx, req, order.Reason, order.Signal, e.now())
	if errors.Is(err, core.ErrOrderFailed) {
		e.mu.Lock()
		pending.State = PendingStateQueued
		e.mu.Unlock()
		return fill, err
	}
	e.drop(pendingID)
	return fill, err
}

// Cancel removes a pending order without executing it.
func (e *Executor) Cancel(pendingID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.pending[pendingID]; !exists {
		return ErrPendingOrderNotFound
	}

	delete(e.pending, pendingID)
	return nil
}

func (e *Executor) drop(pendingID string) {
	e.mu.Lock()
	delete(e.pending, pendingID)
	e.mu.Unlock()
}

// PendingOrders returns a copy of all pending orders, oldest first.
func (e *Executor) PendingOrders() []PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := make([]PendingOrder, 0, len(e.pending))
	for _, pending := range e.pending {
		orders = append(orders, *pending)
	}
	slices.SortFunc(orders, func(a, b PendingOrder) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return orders
}

func (e *Executor) reconcile(req OrderRequest, fill Fill, note string, at time.Time) {
	r := Reconciliation{
		ID:                uuid.NewString(),
		OrderID:           fill.OrderID,
		ClientOrderID:     req.ClientOrderID,
		Symbol:            req.Symbol,
		Side:              req.Side,
		RequestedQuantity: req.Quantity,
		ExecutedQuantity:  fill.ExecutedQuantity,
		ExecutedPrice:     fill.ExecutedPrice,
		Note:              note,
		Time:              at,
	}

	e.mu.Lock()
	e.recon[r.ID] = r
	n := len(e.recon)
	e.mu.Unlock()

	e.metrics.SetPendingReconciliations(n)
	e.logger.Warn("order needs reconciliation",
		zap.String("symbol", r.Symbol),
		zap.String("side", string(r.Side)),
		zap.Int64("requested", r.RequestedQuantity),
		zap.Int64("executed", r.ExecutedQuantity),
		zap.String("note", note),
	)
}

// Reconciliations returns the open reconciliation entries, oldest first.
func (e *Executor) Reconciliations() []Reconciliation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Reconciliation, 0, len(e.recon))
	for _, r := range e.recon {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Reconciliation) int {
		return cmp.Or(a.Time.Compare(b.Time), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Resolve marks a reconciliation entry as handled.
func (e *Executor) Resolve(id string) error {
	e.mu.Lock()
	if _, exists := e.recon[id]; !exists {
		e.mu.Unlock()
		return ErrReconciliationNotFound
	}
	delete(e.recon, id)
	n := len(e.recon)
	e.mu.Unlock()

	e.metrics.SetPendingReconciliations(n)
	return nil
}

// notifySignal reports a strategy signal that passed the entry checks and
// is about to be sent or queued.
func (e *Executor) notifySignal(ctx context.Context, symbol string, side OrderSide, sig core.Signal, price float64, at time.Time) {
	e.notify(ctx, notifier.Event{
		Kind:     notifier.EventSignal,
		Symbol:   symbol,
		Side:     string(side),
		Price:    price,
		Strategy: sig.Strategy,
		Strength: sig.Strength,
		Reason:   sig.Reason(),
		Time:     at,
	})
}

func (e *Executor) notify(ctx context.Context, event notifier.Event) {
	if e.notifiers == nil {
		return
	}
	for name, err := range e.notifiers.NotifyAll(ctx, event) {
		e.logger.Warn("notification failed",
			zap.String("notifier", name),
			zap.String("event", string(event.Kind)),
			zap.Error(err),
		)
	}
}

// isVeto reports policy violations that cancel an entry without failing
// the poll.
func isVeto(err error) bool {
	return errors.Is(err, core.ErrPositionLimit) ||
		errors.Is(err, core.ErrInsufficientCapital) ||
		errors.Is(err, core.ErrAlreadyOpen)
}
