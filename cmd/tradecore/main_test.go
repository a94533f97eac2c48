package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/config"
	"github.com/newthinker/tradecore/internal/ledger"
)

func TestDataFlagsPeriod(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
		wantErr  bool
	}{
		{name: "open ended"},
		{name: "range", from: "2024-01-02", to: "2024-03-01"},
		{name: "reversed", from: "2024-03-01", to: "2024-01-02", wantErr: true},
		{name: "same day", from: "2024-01-02", to: "2024-01-02", wantErr: true},
		{name: "bad date", from: "02.01.2024", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := dataFlags{from: tt.from, to: tt.to}
			from, to, err := f.period()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.from != "" {
				assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), from)
				assert.True(t, to.After(from))
			} else {
				assert.True(t, from.IsZero())
			}
		})
	}
}

func TestDataFlagsBarSource(t *testing.T) {
	cfg := config.Defaults()
	for _, source := range []string{"csv", "yahoo"} {
		f := dataFlags{source: source, dir: t.TempDir()}
		_, err := f.barSource(cfg)
		assert.NoError(t, err, source)
	}

	f := dataFlags{source: "ftp"}
	_, err := f.barSource(cfg)
	assert.Error(t, err)
}

func TestParsePrices(t *testing.T) {
	prices, err := parsePrices(map[string]string{"SBER": "281.5", "GAZP": "160"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"SBER": 281.5, "GAZP": 160}, prices)

	_, err = parsePrices(map[string]string{"SBER": "abc"})
	assert.Error(t, err)
	_, err = parsePrices(map[string]string{"SBER": "-1"})
	assert.Error(t, err)
}

func TestBuildNotifiers(t *testing.T) {
	cfg := config.NotifiersConfig{}
	reg, err := buildNotifiers(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, reg.Len())

	cfg.Webhook = config.WebhookConfig{Enabled: true, URL: "http://localhost/hook"}
	cfg.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1"}
	reg, err = buildNotifiers(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"telegram", "webhook"}, reg.Names())

	cfg.Email = config.EmailConfig{Enabled: true, Host: "smtp.example.com", Port: 587, From: "bot@example.com", To: []string{"ops@example.com"}}
	reg, err = buildNotifiers(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "telegram", "webhook"}, reg.Names())

	cfg.Telegram.ChatID = ""
	_, err = buildNotifiers(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg.Telegram.ChatID = "1"
	cfg.Email.To = nil
	_, err = buildNotifiers(cfg, zap.NewNop())
	assert.Error(t, err, "email without recipients")
}

func TestConsoleCommand_Usage(t *testing.T) {
	var out bytes.Buffer
	assert.NoError(t, consoleCommand(t.Context(), &out, nil, nil))
	assert.ErrorContains(t, consoleCommand(t.Context(), &out, nil, []string{"confirm"}), "usage")
	assert.ErrorContains(t, consoleCommand(t.Context(), &out, nil, []string{"sell", "x"}), "unknown command")
}

func TestFilterTrades(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	trade := func(symbol string, d int) ledger.ClosedTrade {
		return ledger.ClosedTrade{Position: ledger.Position{Symbol: symbol}, ExitTime: day(d)}
	}
	trades := []ledger.ClosedTrade{trade("SBER", 1), trade("GAZP", 2), trade("SBER", 5)}

	assert.Len(t, filterTrades(trades, "", time.Time{}, time.Time{}), 3)

	sber := filterTrades(trades, "SBER", time.Time{}, time.Time{})
	require.Len(t, sber, 2)
	assert.Equal(t, "SBER", sber[1].Position.Symbol)

	window := filterTrades(trades, "", day(2), day(5))
	require.Len(t, window, 1, "from is inclusive, to is exclusive")
	assert.Equal(t, "GAZP", window[0].Position.Symbol)

	assert.Empty(t, filterTrades(trades, "AFLT", time.Time{}, time.Time{}))
}
