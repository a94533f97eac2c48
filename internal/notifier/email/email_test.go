package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/notifier"
)

func TestEmail_ImplementsNotifier(t *testing.T) {
	var _ notifier.Notifier = (*Email)(nil)
}

// sent is one captured SMTP delivery.
type sent struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func capturing(e *Email) *[]sent {
	var out []sent
	e.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		out = append(out, sent{addr: addr, auth: a, from: from, to: to, msg: string(msg)})
		return nil
	}
	return &out
}

func TestEmail_Name(t *testing.T) {
	e := New("smtp.example.com", 587, "", "", "from@example.com", []string{"to@example.com"})
	if e.Name() != "email" {
		t.Errorf("expected 'email', got %s", e.Name())
	}
}

func TestEmail_Init_RequiredFields(t *testing.T) {
	e := &Email{}
	err := e.Init(notifier.Config{Params: map[string]any{}})
	if err == nil {
		t.Error("expected error for missing required fields")
	}
}

func TestEmail_Init_WithConfig(t *testing.T) {
	e := &Email{}
	err := e.Init(notifier.Config{
		Params: map[string]any{
			"host": "smtp.example.com",
			"port": 587,
			"from": "tradecore@example.com",
			"to":   []string{"user@example.com"},
		},
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if e.host != "smtp.example.com" {
		t.Errorf("expected host smtp.example.com, got %s", e.host)
	}
	if e.send == nil {
		t.Error("expected a default sender")
	}
}

func TestEmail_SendClosedPosition(t *testing.T) {
	e := New("smtp.example.com", 587, "bot", "secret", "from@example.com", []string{"a@example.com", "b@example.com"})
	out := capturing(e)

	err := e.Send(context.Background(), notifier.Event{
		Kind:          notifier.EventPositionClosed,
		Symbol:        "GAZP",
		Side:          "SELL",
		Quantity:      20,
		Price:         150.25,
		Profit:        -120,
		ProfitPercent: -3.8,
		Reason:        "stop_loss",
		Time:          time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(*out))
	}
	m := (*out)[0]
	if m.addr != "smtp.example.com:587" {
		t.Errorf("addr = %s", m.addr)
	}
	if m.auth == nil {
		t.Error("expected auth when a username is set")
	}
	if len(m.to) != 2 {
		t.Errorf("expected 2 recipients, got %v", m.to)
	}
	for _, want := range []string{
		"Subject: Tradecore: GAZP position closed",
		"Content-Type: text/plain",
		"Sum: 3005.00",
		"P&L: -120.00 (-3.80%)",
		"Reason: stop_loss",
		"Time: 2024-01-15 10:30:00",
	} {
		if !strings.Contains(m.msg, want) {
			t.Errorf("message should contain %q:\n%s", want, m.msg)
		}
	}
}

func TestEmail_SendReportAndSignal(t *testing.T) {
	e := New("smtp.example.com", 25, "", "", "from@example.com", []string{"to@example.com"})
	out := capturing(e)

	report := notifier.Event{
		Kind:      notifier.EventPortfolioReport,
		Portfolio: &notifier.Portfolio{OpenPositions: 2, Capital: 10500, TotalProfit: 500, TotalProfitPercent: 5, ExposurePercent: 40},
	}
	signal := notifier.Event{Kind: notifier.EventSignal, Symbol: "SBER", Side: "BUY", Strategy: "ma_crossover", Strength: 0.75, Price: 250}
	for _, ev := range []notifier.Event{report, signal} {
		if err := e.Send(context.Background(), ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if (*out)[0].auth != nil {
		t.Error("expected no auth without a username")
	}
	for _, want := range []string{"Subject: Tradecore portfolio report", "Capital: 10500.00", "Open positions: 2", "(+5.00%)"} {
		if !strings.Contains((*out)[0].msg, want) {
			t.Errorf("report should contain %q:\n%s", want, (*out)[0].msg)
		}
	}
	for _, want := range []string{"Subject: Tradecore signal: SBER BUY", "Strategy: ma_crossover", "Strength: 75.0%"} {
		if !strings.Contains((*out)[1].msg, want) {
			t.Errorf("signal should contain %q:\n%s", want, (*out)[1].msg)
		}
	}
	if strings.Contains((*out)[1].msg, "Quantity") {
		t.Error("signal should not carry trade fields")
	}
}

func TestEmail_SendBatch(t *testing.T) {
	e := New("smtp.example.com", 587, "", "", "from@example.com", []string{"to@example.com"})
	out := capturing(e)

	if err := e.SendBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch should not return error: %v", err)
	}
	if len(*out) != 0 {
		t.Fatal("empty batch should not send")
	}

	events := []notifier.Event{
		{Kind: notifier.EventAlert, Severity: "critical", Reason: "exposure > 80 <now>"},
		{Kind: notifier.EventError, Reason: "SBER: feed down"},
	}
	if err := e.SendBatch(context.Background(), events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg := (*out)[0].msg
	for _, want := range []string{"Subject: Tradecore digest: 2 events", "Content-Type: text/html", "Tradecore alert (critical)", "&lt;now&gt;", "feed down"} {
		if !strings.Contains(msg, want) {
			t.Errorf("digest should contain %q:\n%s", want, msg)
		}
	}
}

func TestEmail_SendErrors(t *testing.T) {
	e := New("smtp.example.com", 587, "", "", "from@example.com", []string{"to@example.com"})
	e.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }

	err := e.Send(context.Background(), notifier.Event{Kind: notifier.EventError, Reason: "x"})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped send error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Send(ctx, notifier.Event{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
