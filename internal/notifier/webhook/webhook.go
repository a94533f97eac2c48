// Package webhook posts trade events as JSON to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/newthinker/tradecore/internal/notifier"
)

type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Init(cfg notifier.Config) error {
	if url, ok := cfg.Params["url"].(string); ok {
		w.url = url
	}
	if headers, ok := cfg.Params["headers"].(map[string]string); ok {
		w.headers = headers
	}
	if w.url == "" {
		return fmt.Errorf("webhook: url is required")
	}
	if w.client == nil {
		w.client = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}

// eventBody is the JSON shape of one event. Profit fields appear only for
// closed positions, strategy and strength only for signals.
type eventBody struct {
	Type          string             `json:"type"`
	Kind          notifier.EventKind `json:"kind"`
	Symbol        string             `json:"symbol"`
	Side          string             `json:"side,omitempty"`
	Quantity      int64              `json:"quantity"`
	Price         float64            `json:"price"`
	Value         float64            `json:"value"`
	Profit        *float64           `json:"profit,omitempty"`
	ProfitPercent *float64           `json:"profit_percent,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	OrderID       string             `json:"order_id,omitempty"`
	Time          string             `json:"time"`
	Strategy      string             `json:"strategy,omitempty"`
	Strength      *float64           `json:"strength,omitempty"`
	Severity      string             `json:"severity,omitempty"`
	Portfolio     *portfolioBody     `json:"portfolio,omitempty"`
}

// portfolioBody omits profit_factor while it is infinite, which JSON
// cannot encode.
type portfolioBody struct {
	*notifier.Portfolio
	ProfitFactor *float64 `json:"profit_factor,omitempty"`
}

type batchBody struct {
	Type   string      `json:"type"`
	Count  int         `json:"count"`
	Events []eventBody `json:"events"`
}

func newEventBody(e notifier.Event) eventBody {
	b := eventBody{
		Type:     "event",
		Kind:     e.Kind,
		Symbol:   e.Symbol,
		Side:     e.Side,
		Quantity: e.Quantity,
		Price:    e.Price,
		Value:    e.Value(),
		Reason:   e.Reason,
		OrderID:  e.OrderID,
		Time:     e.Time.UTC().Format(time.RFC3339),
	}
	switch e.Kind {
	case notifier.EventPositionClosed:
		b.Profit, b.ProfitPercent = &e.Profit, &e.ProfitPercent
	case notifier.EventSignal:
		b.Strategy, b.Strength = e.Strategy, &e.Strength
	case notifier.EventAlert:
		b.Severity = e.Severity
	case notifier.EventPortfolioReport:
		if e.Portfolio != nil {
			p := &portfolioBody{Portfolio: e.Portfolio}
			if pf := e.Portfolio.ProfitFactor; !math.IsInf(pf, 0) && !math.IsNaN(pf) {
				p.ProfitFactor = &pf
			}
			b.Portfolio = p
		}
	}
	return b
}

func (w *Webhook) Send(ctx context.Context, event notifier.Event) error {
	return w.post(ctx, newEventBody(event))
}

func (w *Webhook) SendBatch(ctx context.Context, events []notifier.Event) error {
	if len(events) == 0 {
		return nil
	}
	body := batchBody{Type: "batch", Count: len(events), Events: make([]eventBody, len(events))}
	for i, e := range events {
		body.Events[i] = newEventBody(e)
	}
	return w.post(ctx, body)
}

func (w *Webhook) post(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("webhook: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}
	return nil
}
