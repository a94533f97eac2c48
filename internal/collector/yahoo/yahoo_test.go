package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/newthinker/tradecore/internal/backtest"
	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/core"
)

var (
	_ backtest.BarSource = (*Yahoo)(nil)
	_ broker.QuoteSource = (*Yahoo)(nil)
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// chart renders a chart payload of daily bars starting at day0. A zero
// close leaves the row empty.
func chart(closes ...float64) map[string]any {
	var (
		ts                  []int64
		open, high, low, cl []*float64
		vol                 []*int64
	)
	for i, c := range closes {
		ts = append(ts, day0.AddDate(0, 0, i).Unix())
		if c == 0 {
			open, high, low, cl, vol = append(open, nil), append(high, nil), append(low, nil), append(cl, nil), append(vol, nil)
			continue
		}
		open = append(open, ptr(c-1))
		high = append(high, ptr(c+1))
		low = append(low, ptr(c-2))
		cl = append(cl, ptr(c))
		vol = append(vol, ptr(int64(1000+i)))
	}
	return map[string]any{
		"chart": map[string]any{
			"result": []any{map[string]any{
				"timestamp": ts,
				"indicators": map[string]any{
					"quote": []any{map[string]any{
						"open": open, "high": high, "low": low, "close": cl, "volume": vol,
					}},
				},
			}},
			"error": nil,
		},
	}
}

func serve(t *testing.T, status int, body any, queries *[]url.Values) *Yahoo {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if queries != nil {
			*queries = append(*queries, r.URL.Query())
		}
		if r.URL.Path != "/SBER.ME" && r.URL.Path != "/600519.SS" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return New(WithBaseURL(server.URL+"/"), WithTimeout(time.Second))
}

func TestYahoo_Name(t *testing.T) {
	if New().Name() != "yahoo" {
		t.Errorf("expected 'yahoo', got '%s'", New().Name())
	}
}

func TestYahoo_History(t *testing.T) {
	var queries []url.Values
	y := serve(t, http.StatusOK, chart(100, 101, 0, 103, 104), &queries)

	bars, err := y.History(context.Background(), "SBER.ME", 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(bars))
	}
	if bars[0].Close != 101 || bars[2].Close != 104 {
		t.Errorf("unexpected closes: %v, %v", bars[0].Close, bars[2].Close)
	}
	if bars[1].Time != day0.AddDate(0, 0, 3) {
		t.Errorf("row without close should be skipped, got %v", bars[1].Time)
	}
	if bars[2].Symbol != "SBER.ME" || bars[2].High != 105 || bars[2].Low != 102 || bars[2].Volume != 1004 {
		t.Errorf("unexpected bar: %+v", bars[2])
	}

	if got := queries[0].Get("range"); got != "1mo" {
		t.Errorf("expected range 1mo, got %s", got)
	}
	if got := queries[0].Get("interval"); got != "1d" {
		t.Errorf("expected interval 1d, got %s", got)
	}
}

func TestYahoo_Bars(t *testing.T) {
	var queries []url.Values
	y := serve(t, http.StatusOK, chart(100, 101, 102, 103), &queries)

	from, to := day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 3)
	bars, err := backtest.Collect(y.Bars(context.Background(), "600519.SH", from, to))
	if err != nil {
		t.Fatalf("Bars failed: %v", err)
	}
	if len(bars) != 2 || bars[0].Close != 101 || bars[1].Close != 102 {
		t.Errorf("expected closes 101 and 102, got %+v", bars)
	}
	if got := queries[0].Get("period1"); got != "1704240000" {
		t.Errorf("unexpected period1 %s", got)
	}
}

func TestYahoo_Errors(t *testing.T) {
	notFound := map[string]any{
		"chart": map[string]any{
			"result": nil,
			"error":  map[string]any{"code": "Not Found", "description": "No data found, symbol may be delisted"},
		},
	}
	empty := map[string]any{"chart": map[string]any{"result": []any{}}}

	tests := []struct {
		name   string
		status int
		body   any
		noData bool
	}{
		{"unknown symbol", http.StatusNotFound, notFound, true},
		{"empty result", http.StatusOK, empty, true},
		{"only empty rows", http.StatusOK, chart(0, 0), true},
		{"server error", http.StatusInternalServerError, "boom", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			y := serve(t, tc.status, tc.body, nil)
			_, err := y.History(context.Background(), "SBER.ME", 5)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, core.ErrNoData); got != tc.noData {
				t.Errorf("errors.Is(err, ErrNoData) = %v, want %v (%v)", got, tc.noData, err)
			}
		})
	}
}

func TestYahoo_InvalidSymbol(t *testing.T) {
	y := New(WithBaseURL("http://127.0.0.1:1"))
	for _, symbol := range []string{"", "BAD SYMBOL", "WAYTOOLONGSYMBOL"} {
		if _, err := y.History(context.Background(), symbol, 5); err == nil {
			t.Errorf("expected error for %q", symbol)
		}
	}
}

func TestYahoo_CancelledContext(t *testing.T) {
	y := serve(t, http.StatusOK, chart(100), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := y.History(ctx, "SBER.ME", 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestToYahooSymbol(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"AAPL", "AAPL"},
		{"SBER.ME", "SBER.ME"},
		{"600519.SH", "600519.SS"}, // Shanghai -> SS for Yahoo
		{"000001.SZ", "000001.SZ"},
	}

	for _, tc := range tests {
		if got := toYahooSymbol(tc.input); got != tc.expected {
			t.Errorf("toYahooSymbol(%s) = %s, want %s", tc.input, got, tc.expected)
		}
	}
}

func TestRangeFor(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "1mo"}, {31, "3mo"}, {200, "1y"}, {251, "2y"}, {3000, "max"},
	}
	for _, tc := range tests {
		if got := rangeFor(tc.n); got != tc.want {
			t.Errorf("rangeFor(%d) = %s, want %s", tc.n, got, tc.want)
		}
	}
}

func TestWithInterval(t *testing.T) {
	if got := New(WithInterval("1h")).interval; got != "1h" {
		t.Errorf("expected 1h, got %s", got)
	}
	if got := New(WithInterval("1w")).interval; got != "1d" {
		t.Errorf("expected fallback 1d, got %s", got)
	}
}
