package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/notifier"
)

func TestTelegram_ImplementsNotifier(t *testing.T) {
	var _ notifier.Notifier = (*Telegram)(nil)
}

func TestTelegram_Name(t *testing.T) {
	tg := New("token", "chatid")
	if tg.Name() != "telegram" {
		t.Errorf("expected 'telegram', got '%s'", tg.Name())
	}
}

func TestTelegram_Init(t *testing.T) {
	tg := &Telegram{}

	cfg := notifier.Config{
		Params: map[string]any{
			"bot_token": "test-token",
			"chat_id":   "test-chat",
		},
	}

	err := tg.Init(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tg.botToken != "test-token" {
		t.Errorf("expected bot_token 'test-token', got '%s'", tg.botToken)
	}
	if tg.chatID != "test-chat" {
		t.Errorf("expected chat_id 'test-chat', got '%s'", tg.chatID)
	}
	if tg.apiURL != defaultAPIURL {
		t.Errorf("expected default api url, got '%s'", tg.apiURL)
	}
}

func TestTelegram_Init_MissingToken(t *testing.T) {
	tg := &Telegram{}

	cfg := notifier.Config{
		Params: map[string]any{
			"chat_id": "test-chat",
		},
	}

	err := tg.Init(cfg)
	if err == nil {
		t.Error("expected error for missing bot_token")
	}
}

func TestTelegram_Init_MissingChatID(t *testing.T) {
	tg := &Telegram{}

	cfg := notifier.Config{
		Params: map[string]any{
			"bot_token": "test-token",
		},
	}

	err := tg.Init(cfg)
	if err == nil {
		t.Error("expected error for missing chat_id")
	}
}

func TestTelegram_Send(t *testing.T) {
	var (
		receivedPath    string
		receivedPayload map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	tg := &Telegram{}
	err := tg.Init(notifier.Config{Params: map[string]any{
		"bot_token": "test-token",
		"chat_id":   "test-chat",
		"api_url":   server.URL,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := notifier.Event{
		Kind:     notifier.EventPositionOpened,
		Symbol:   "SBER",
		Side:     "BUY",
		Quantity: 10,
		Price:    250.5,
		Time:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
	if err := tg.Send(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedPath != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path %s", receivedPath)
	}
	if receivedPayload["chat_id"] != "test-chat" {
		t.Errorf("expected chat_id test-chat, got %v", receivedPayload["chat_id"])
	}
	text, _ := receivedPayload["text"].(string)
	if !strings.Contains(text, "SBER") {
		t.Error("message should contain symbol")
	}
}

func TestTelegram_Send_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Unauthorized"})
	}))
	defer server.Close()

	tg := New("bad-token", "chat")
	tg.apiURL = server.URL

	err := tg.Send(context.Background(), notifier.Event{Symbol: "SBER"})
	if err == nil {
		t.Fatal("expected error for API failure")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should mention status, got %v", err)
	}
}

func TestFormatEvent_Closed(t *testing.T) {
	event := notifier.Event{
		Kind:          notifier.EventPositionClosed,
		Symbol:        "GAZP",
		Side:          "SELL",
		Quantity:      20,
		Price:         150.25,
		Profit:        -120,
		ProfitPercent: -3.8,
		Reason:        "stop_loss",
		Time:          time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}

	formatted := formatEvent(event)

	for _, want := range []string{"📉", "GAZP", "150.25", "Quantity: 20", "Sum: 3005.00", "-3.80%", "stop_loss", "2024-01-15 10:30:00"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("formatted message should contain %q:\n%s", want, formatted)
		}
	}
}

func TestFormatEvent_OpenedHasNoPnL(t *testing.T) {
	formatted := formatEvent(notifier.Event{Kind: notifier.EventPositionOpened, Symbol: "SBER", Quantity: 1, Price: 10})

	if !strings.Contains(formatted, "📈") {
		t.Error("opened position should have 📈 emoji")
	}
	if strings.Contains(formatted, "P&L") {
		t.Error("opened position should not report P&L")
	}
}

func TestFormatEvent_Rejected(t *testing.T) {
	formatted := formatEvent(notifier.Event{Kind: notifier.EventOrderRejected, Symbol: "SBER", Side: "BUY", Reason: "insufficient funds"})

	if !strings.Contains(formatted, "order rejected") {
		t.Errorf("expected rejection text, got:\n%s", formatted)
	}
	if !strings.Contains(formatted, "insufficient funds") {
		t.Error("formatted message should contain reason")
	}
}

func TestFormatEvent_Signal(t *testing.T) {
	formatted := formatEvent(notifier.Event{
		Kind:     notifier.EventSignal,
		Symbol:   "SBER",
		Side:     "BUY",
		Price:    250.5,
		Strategy: "ma_crossover",
		Strength: 0.75,
		Reason:   "fast MA crossed above slow MA",
	})

	for _, want := range []string{"SBER", "BUY signal", "ma_crossover", "Strength: 75%", "250.50", "fast MA crossed"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("formatted signal should contain %q:\n%s", want, formatted)
		}
	}
	if strings.Contains(formatted, "Sum:") {
		t.Error("signal should not carry a trade sum")
	}
}

func TestFormatEvent_Portfolio(t *testing.T) {
	formatted := formatEvent(notifier.Event{
		Kind: notifier.EventPortfolioReport,
		Portfolio: &notifier.Portfolio{
			OpenPositions:      2,
			ClosedTrades:       7,
			Capital:            10500,
			TotalProfit:        500,
			TotalProfitPercent: 5,
			Exposure:           4000,
			ExposurePercent:    38.1,
			AtRisk:             200,
			WinRate:            57.1,
		},
	})

	for _, want := range []string{"Portfolio report", "Capital: 10500.00", "500.00 (+5.00%)", "Open positions: 2", "38.1%", "At risk: 200.00", "Trades: 7"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("formatted report should contain %q:\n%s", want, formatted)
		}
	}
}

func TestFormatEvent_AlertAndError(t *testing.T) {
	alert := formatEvent(notifier.Event{Kind: notifier.EventAlert, Severity: "critical", Reason: "[CRITICAL] exposure: too high"})
	if !strings.Contains(alert, "critical") || !strings.Contains(alert, "exposure: too high") {
		t.Errorf("unexpected alert text:\n%s", alert)
	}

	failure := formatEvent(notifier.Event{Kind: notifier.EventError, Reason: "SBER: feed down"})
	if !strings.Contains(failure, "Executor error") || !strings.Contains(failure, "feed down") {
		t.Errorf("unexpected error text:\n%s", failure)
	}
	if strings.Contains(failure, "Quantity") {
		t.Error("error should not carry trade fields")
	}
}

func TestTelegram_SendBatch_Empty(t *testing.T) {
	tg := New("token", "chat")

	err := tg.SendBatch(context.Background(), nil)
	if err != nil {
		t.Errorf("empty batch should not return error: %v", err)
	}
}

func TestTelegram_SendBatch(t *testing.T) {
	var text string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		text, _ = payload["text"].(string)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tg := New("token", "chat")
	tg.apiURL = server.URL

	events := []notifier.Event{
		{Kind: notifier.EventPositionOpened, Symbol: "SBER", Time: time.Now()},
		{Kind: notifier.EventPositionClosed, Symbol: "GAZP", Time: time.Now()},
	}
	if err := tg.SendBatch(context.Background(), events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(text, "2 events") {
		t.Errorf("batch header missing:\n%s", text)
	}
	if strings.Count(text, "---") != 1 {
		t.Errorf("expected one separator:\n%s", text)
	}
}
