// Package broker drives live trading: it turns strategy signals and risk
// exits into orders, applies fills to the position ledger and keeps the
// partial fills that need reconciliation.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
)

// Order request validation errors.
var (
	// ErrInvalidSymbol indicates an invalid or empty symbol.
	ErrInvalidSymbol = errors.New("broker: invalid symbol")
	// ErrInvalidSide indicates a side other than BUY or SELL.
	ErrInvalidSide = errors.New("broker: invalid order side")
	// ErrInvalidQuantity indicates a non-positive lot count.
	ErrInvalidQuantity = errors.New("broker: invalid quantity")
	// ErrInvalidPrice indicates a non-positive reference price.
	ErrInvalidPrice = errors.New("broker: invalid price")
	// ErrMissingOrderID indicates a request without a client order id.
	ErrMissingOrderID = errors.New("broker: missing client order id")
)

// Executor errors.
var (
	// ErrPendingOrderNotFound indicates the pending order was not found.
	ErrPendingOrderNotFound = errors.New("broker: pending order not found")
	// ErrPendingOrderBusy indicates the pending order is being confirmed.
	ErrPendingOrderBusy = errors.New("broker: pending order already being processed")
	// ErrReconciliationNotFound indicates the reconciliation entry was not found.
	ErrReconciliationNotFound = errors.New("broker: reconciliation not found")
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	// OrderSideBuy represents a buy order.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell represents a sell order.
	OrderSideSell OrderSide = "SELL"
)

// FillStatus is the outcome an order sender reports.
type FillStatus string

const (
	FillStatusFilled   FillStatus = "FILLED"
	FillStatusPartial  FillStatus = "PARTIAL"
	FillStatusRejected FillStatus = "REJECTED"
)

// OrderRequest is a market order for whole lots. ClientOrderID stays the
// same across retries so the broker can drop duplicates.
type OrderRequest struct {
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Quantity      int64     `json:"quantity"`
	LotSize       int64     `json:"lot_size"`
	// Price is the last observed price, used for sizing and as a reference.
	Price float64 `json:"price"`
}

// Validate checks if the order request has valid required fields.
func (r OrderRequest) Validate() error {
	if r.ClientOrderID == "" {
		return ErrMissingOrderID
	}
	if r.Symbol == "" {
		return ErrInvalidSymbol
	}
	if r.Side != OrderSideBuy && r.Side != OrderSideSell {
		return ErrInvalidSide
	}
	if r.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Price <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Shares is the quantity in units of the instrument.
func (r OrderRequest) Shares() int64 {
	if r.LotSize <= 0 {
		return r.Quantity
	}
	return r.Quantity * r.LotSize
}

// Fill is what the broker executed for one request. ExecutedQuantity is in
// lots.
type Fill struct {
	OrderID          string     `json:"order_id"`
	Status           FillStatus `json:"status"`
	ExecutedQuantity int64      `json:"executed_quantity"`
	ExecutedPrice    float64    `json:"executed_price"`
	Commission       float64    `json:"commission"`
	Reason           string     `json:"reason,omitempty"`
}

// Executed reports whether any quantity changed hands.
func (f Fill) Executed() bool {
	return f.Status != FillStatusRejected && f.ExecutedQuantity > 0
}

// OrderSender places market orders. Send returns an error only when the
// outcome is unknown or the request never reached the broker; a refusal is
// a Fill with status REJECTED.
type OrderSender interface {
	Send(ctx context.Context, req OrderRequest) (Fill, error)
}

// QuoteSource supplies recent bars for the live loop.
type QuoteSource interface {
	// History returns up to n most recent bars of symbol in ascending time
	// order.
	History(ctx context.Context, symbol string, n int) ([]core.Bar, error)
}

// TradeJournal receives every closed trade. state.SQLite implements it.
type TradeJournal interface {
	RecordTrade(ctx context.Context, t ledger.ClosedTrade) error
}

// PendingState represents the state of a pending order.
type PendingState string

const (
	// PendingStateQueued indicates order is waiting for confirmation.
	PendingStateQueued PendingState = "queued"
	// PendingStateProcessing indicates order is being executed.
	PendingStateProcessing PendingState = "processing"
)

// PendingOrder is an order awaiting confirmation.
type PendingOrder struct {
	ID      string       `json:"id"`
	Request OrderRequest `json:"request"`
	// Reason is the exit reason for sells; empty for entries.
	Reason    ledger.ExitReason `json:"reason,omitempty"`
	Signal    core.Signal       `json:"signal"`
	CreatedAt time.Time         `json:"created_at"`
	State     PendingState      `json:"state"`
}

// Reconciliation records an order whose effect on the ledger differs from
// the request and needs an operator to check the broker account.
type Reconciliation struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"order_id"`
	ClientOrderID     string    `json:"client_order_id"`
	Symbol            string    `json:"symbol"`
	Side              OrderSide `json:"side"`
	RequestedQuantity int64     `json:"requested_quantity"`
	ExecutedQuantity  int64     `json:"executed_quantity"`
	ExecutedPrice     float64   `json:"executed_price"`
	Note              string    `json:"note"`
	Time              time.Time `json:"time"`
}
