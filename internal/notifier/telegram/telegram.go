// Package telegram sends events through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/notifier"
)

const defaultAPIURL = "https://api.telegram.org"

// Telegram implements the Notifier interface for Telegram Bot API
type Telegram struct {
	botToken string
	chatID   string
	apiURL   string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		apiURL:   defaultAPIURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Init(cfg notifier.Config) error {
	if token, ok := cfg.Params["bot_token"].(string); ok {
		t.botToken = token
	}
	if chatID, ok := cfg.Params["chat_id"].(string); ok {
		t.chatID = chatID
	}
	if apiURL, ok := cfg.Params["api_url"].(string); ok && apiURL != "" {
		t.apiURL = apiURL
	}

	if t.botToken == "" {
		return fmt.Errorf("telegram: bot_token is required")
	}
	if t.chatID == "" {
		return fmt.Errorf("telegram: chat_id is required")
	}
	if t.apiURL == "" {
		t.apiURL = defaultAPIURL
	}
	if t.client == nil {
		t.client = &http.Client{Timeout: 30 * time.Second}
	}

	return nil
}

func (t *Telegram) Send(ctx context.Context, event notifier.Event) error {
	return t.sendMessage(ctx, formatEvent(event))
}

func (t *Telegram) SendBatch(ctx context.Context, events []notifier.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *%d events*\n\n", len(events))

	for i, event := range events {
		sb.WriteString(formatEvent(event))
		if i < len(events)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return t.sendMessage(ctx, sb.String())
}

func formatEvent(e notifier.Event) string {
	switch e.Kind {
	case notifier.EventSignal:
		return formatSignal(e)
	case notifier.EventPortfolioReport:
		return formatPortfolio(e)
	case notifier.EventAlert:
		return fmt.Sprintf("🚨 *Alert* (%s)\n%s\n⏰ Time: %s", e.Severity, e.Reason, e.Time.Format("2006-01-02 15:04:05"))
	case notifier.EventError:
		return fmt.Sprintf("❗ *Executor error*\n%s\n⏰ Time: %s", e.Reason, e.Time.Format("2006-01-02 15:04:05"))
	}
	return formatTrade(e)
}

func formatTrade(e notifier.Event) string {
	var sb strings.Builder

	switch e.Kind {
	case notifier.EventPositionOpened:
		fmt.Fprintf(&sb, "📈 *%s* bought\n", e.Symbol)
	case notifier.EventPositionClosed:
		fmt.Fprintf(&sb, "📉 *%s* sold\n", e.Symbol)
	case notifier.EventOrderQueued:
		fmt.Fprintf(&sb, "⏸️ *%s* %s awaiting confirmation\n", e.Symbol, e.Side)
	case notifier.EventPartialFill:
		fmt.Fprintf(&sb, "⚠️ *%s* %s partially filled\n", e.Symbol, e.Side)
	default:
		fmt.Fprintf(&sb, "❌ *%s* %s %s\n", e.Symbol, e.Side, strings.ReplaceAll(string(e.Kind), "_", " "))
	}

	fmt.Fprintf(&sb, "💰 Price: %.2f\n", e.Price)
	fmt.Fprintf(&sb, "📦 Quantity: %d\n", e.Quantity)
	fmt.Fprintf(&sb, "💵 Sum: %.2f\n", e.Value())

	if e.Kind == notifier.EventPositionClosed {
		fmt.Fprintf(&sb, "📊 P&L: %.2f (%+.2f%%)\n", e.Profit, e.ProfitPercent)
	}
	if e.Reason != "" {
		fmt.Fprintf(&sb, "💡 Reason: %s\n", e.Reason)
	}
	if e.OrderID != "" {
		fmt.Fprintf(&sb, "🆔 Order: `%s`\n", e.OrderID)
	}

	fmt.Fprintf(&sb, "⏰ Time: %s", e.Time.Format("2006-01-02 15:04:05"))

	return sb.String()
}

func formatSignal(e notifier.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔔 *%s* %s signal\n", e.Symbol, e.Side)
	fmt.Fprintf(&sb, "🧠 Strategy: %s\n", e.Strategy)
	fmt.Fprintf(&sb, "📶 Strength: %.0f%%\n", e.Strength*100)
	fmt.Fprintf(&sb, "💰 Price: %.2f\n", e.Price)
	if e.Reason != "" {
		fmt.Fprintf(&sb, "💡 Reasons: %s\n", e.Reason)
	}
	fmt.Fprintf(&sb, "⏰ Time: %s", e.Time.Format("2006-01-02 15:04:05"))
	return sb.String()
}

func formatPortfolio(e notifier.Event) string {
	p := e.Portfolio
	if p == nil {
		p = &notifier.Portfolio{}
	}

	var sb strings.Builder
	sb.WriteString("📋 *Portfolio report*\n")
	fmt.Fprintf(&sb, "💼 Capital: %.2f\n", p.Capital)
	fmt.Fprintf(&sb, "📊 Realized P&L: %.2f (%+.2f%%)\n", p.TotalProfit, p.TotalProfitPercent)
	fmt.Fprintf(&sb, "📈 Unrealized P&L: %.2f\n", p.UnrealizedPnL)
	fmt.Fprintf(&sb, "📦 Open positions: %d\n", p.OpenPositions)
	fmt.Fprintf(&sb, "💵 Exposure: %.2f (%.1f%%)\n", p.Exposure, p.ExposurePercent)
	fmt.Fprintf(&sb, "🛑 At risk: %.2f\n", p.AtRisk)
	fmt.Fprintf(&sb, "🏁 Trades: %d, win rate %.1f%%\n", p.ClosedTrades, p.WinRate)
	fmt.Fprintf(&sb, "⏰ Time: %s", e.Time.Format("2006-01-02 15:04:05"))
	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.apiURL, "/"), t.botToken)

	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}
