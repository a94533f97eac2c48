// Package email implements an SMTP-based email notifier
package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/notifier"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email implements the Notifier interface for SMTP email
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	send     sendFunc
}

// New creates a new Email notifier
func New(host string, port int, username, password, from string, to []string) *Email {
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		send:     smtp.SendMail,
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Init(cfg notifier.Config) error {
	if host, ok := cfg.Params["host"].(string); ok {
		e.host = host
	}
	if port, ok := cfg.Params["port"].(int); ok {
		e.port = port
	}
	if username, ok := cfg.Params["username"].(string); ok {
		e.username = username
	}
	if password, ok := cfg.Params["password"].(string); ok {
		e.password = password
	}
	if from, ok := cfg.Params["from"].(string); ok {
		e.from = from
	}
	if to, ok := cfg.Params["to"].([]string); ok {
		e.to = to
	}
	if e.send == nil {
		e.send = smtp.SendMail
	}

	if e.host == "" || e.from == "" || len(e.to) == 0 {
		return fmt.Errorf("email: host, from, and to are required")
	}
	return nil
}

func (e *Email) Send(ctx context.Context, event notifier.Event) error {
	return e.sendEmail(ctx, subject(event), formatEvent(event))
}

func (e *Email) SendBatch(ctx context.Context, events []notifier.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("<html><body>")
	sb.WriteString("<h2>Tradecore events</h2>")
	fmt.Fprintf(&sb, "<p>Generated at: %s</p>", time.Now().Format("2006-01-02 15:04:05"))
	sb.WriteString("<hr>")
	for _, event := range events {
		fmt.Fprintf(&sb, "<h3>%s</h3><pre>%s</pre><hr>",
			html.EscapeString(subject(event)),
			html.EscapeString(formatEvent(event)),
		)
	}
	sb.WriteString("</body></html>")

	return e.sendEmail(ctx, fmt.Sprintf("Tradecore digest: %d events", len(events)), sb.String())
}

func subject(e notifier.Event) string {
	switch e.Kind {
	case notifier.EventSignal:
		return fmt.Sprintf("Tradecore signal: %s %s", e.Symbol, e.Side)
	case notifier.EventPortfolioReport:
		return "Tradecore portfolio report"
	case notifier.EventAlert:
		return fmt.Sprintf("Tradecore alert (%s)", e.Severity)
	case notifier.EventError:
		return "Tradecore executor error"
	}
	return fmt.Sprintf("Tradecore: %s %s", e.Symbol, strings.ReplaceAll(string(e.Kind), "_", " "))
}

func formatEvent(e notifier.Event) string {
	var sb strings.Builder

	switch {
	case e.Kind == notifier.EventPortfolioReport && e.Portfolio != nil:
		p := e.Portfolio
		fmt.Fprintf(&sb, "Capital: %.2f\n", p.Capital)
		fmt.Fprintf(&sb, "Realized P&L: %.2f (%+.2f%%)\n", p.TotalProfit, p.TotalProfitPercent)
		fmt.Fprintf(&sb, "Unrealized P&L: %.2f\n", p.UnrealizedPnL)
		fmt.Fprintf(&sb, "Open positions: %d\n", p.OpenPositions)
		fmt.Fprintf(&sb, "Exposure: %.2f (%.1f%%)\n", p.Exposure, p.ExposurePercent)
		fmt.Fprintf(&sb, "At risk: %.2f\n", p.AtRisk)
		fmt.Fprintf(&sb, "Closed trades: %d\n", p.ClosedTrades)
		fmt.Fprintf(&sb, "Win rate: %.1f%%\n", p.WinRate)
	case e.Kind == notifier.EventSignal:
		fmt.Fprintf(&sb, "Symbol: %s\n", e.Symbol)
		fmt.Fprintf(&sb, "Side: %s\n", e.Side)
		fmt.Fprintf(&sb, "Strategy: %s\n", e.Strategy)
		fmt.Fprintf(&sb, "Strength: %.1f%%\n", e.Strength*100)
		fmt.Fprintf(&sb, "Price: %.2f\n", e.Price)
	case e.Kind.IsTrade():
		fmt.Fprintf(&sb, "Symbol: %s\n", e.Symbol)
		if e.Side != "" {
			fmt.Fprintf(&sb, "Side: %s\n", e.Side)
		}
		fmt.Fprintf(&sb, "Quantity: %d\n", e.Quantity)
		fmt.Fprintf(&sb, "Price: %.2f\n", e.Price)
		fmt.Fprintf(&sb, "Sum: %.2f\n", e.Value())
		if e.Kind == notifier.EventPositionClosed {
			fmt.Fprintf(&sb, "P&L: %.2f (%+.2f%%)\n", e.Profit, e.ProfitPercent)
		}
		if e.OrderID != "" {
			fmt.Fprintf(&sb, "Order: %s\n", e.OrderID)
		}
	}

	if e.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", e.Reason)
	}
	fmt.Fprintf(&sb, "Time: %s\n", e.Time.Format("2006-01-02 15:04:05"))
	return sb.String()
}

func (e *Email) sendEmail(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	contentType := "text/plain"
	if strings.HasPrefix(body, "<html>") {
		contentType = "text/html"
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		e.from,
		strings.Join(e.to, ","),
		subject,
		contentType,
		body,
	)

	if err := e.send(addr, auth, e.from, e.to, []byte(msg)); err != nil {
		return fmt.Errorf("email: send failed: %w", err)
	}
	return nil
}
