package notifier

import (
	"context"
	"time"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// EventKind identifies a trade event.
type EventKind string

const (
	EventOrderQueued    EventKind = "order_queued"
	EventPositionOpened EventKind = "position_opened"
	EventPositionClosed EventKind = "position_closed"
	EventPartialFill    EventKind = "partial_fill"
	EventOrderRejected  EventKind = "order_rejected"
	EventOrderFailed    EventKind = "order_failed"

	EventSignal          EventKind = "signal"
	EventError           EventKind = "error"
	EventAlert           EventKind = "alert"
	EventPortfolioReport EventKind = "portfolio_report"
)

// IsTrade reports kinds that describe an order or a fill.
func (k EventKind) IsTrade() bool {
	switch k {
	case EventOrderQueued, EventPositionOpened, EventPositionClosed,
		EventPartialFill, EventOrderRejected, EventOrderFailed:
		return true
	}
	return false
}

// Event describes something the live executor did, a strategy signal, an
// alert or a periodic portfolio report.
type Event struct {
	Kind     EventKind `json:"kind"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side,omitempty"`
	Quantity int64     `json:"quantity"`
	Price    float64   `json:"price"`
	// Profit and ProfitPercent are set for closed positions.
	Profit        float64   `json:"profit,omitempty"`
	ProfitPercent float64   `json:"profit_percent,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	Time          time.Time `json:"time"`

	// Strategy and Strength are set for signals.
	Strategy string  `json:"strategy,omitempty"`
	Strength float64 `json:"strength,omitempty"`
	// Severity is set for alerts.
	Severity string `json:"severity,omitempty"`
	// Portfolio is set for portfolio reports.
	Portfolio *Portfolio `json:"portfolio,omitempty"`
}

// Portfolio is the account state carried by a portfolio report.
type Portfolio struct {
	OpenPositions int     `json:"open_positions"`
	ClosedTrades  int     `json:"closed_trades"`
	Capital       float64 `json:"capital"`
	TotalProfit   float64 `json:"total_profit"`
	// TotalProfitPercent is realized profit against initial capital.
	TotalProfitPercent float64 `json:"total_profit_percent"`
	UnrealizedPnL      float64 `json:"unrealized_pnl"`
	Exposure           float64 `json:"exposure"`
	ExposurePercent    float64 `json:"exposure_percent"`
	// AtRisk is the loss taken if every open stop were hit.
	AtRisk      float64 `json:"at_risk"`
	WinRate     float64 `json:"win_rate"`
	AverageWin  float64 `json:"average_win"`
	AverageLoss float64 `json:"average_loss"`
	// ProfitFactor is +Inf with closed trades and no losses.
	ProfitFactor float64 `json:"-"`
}

// Value is the notional of the event.
func (e Event) Value() float64 {
	return e.Price * float64(e.Quantity)
}

// Notifier defines the interface for trade event notification
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send sends a single event notification
	Send(ctx context.Context, event Event) error

	// SendBatch sends multiple event notifications
	SendBatch(ctx context.Context, events []Event) error
}
