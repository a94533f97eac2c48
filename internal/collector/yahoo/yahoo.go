// Package yahoo reads daily bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

const DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// validSymbol matches stock symbols like AAPL, MSFT, 600519.SH, SBER.ME
var validSymbol = regexp.MustCompile(`^[A-Za-z0-9]{1,10}(\.[A-Za-z]{1,4})?$`)

func validateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if !validSymbol.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %s", symbol)
	}
	return nil
}

// Yahoo serves bars for backtests and the live poll loop.
type Yahoo struct {
	client   *http.Client
	baseURL  string
	interval string
}

type Option func(*Yahoo)

// WithBaseURL points the client at another chart endpoint.
func WithBaseURL(u string) Option {
	return func(y *Yahoo) {
		if u != "" {
			y.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(y *Yahoo) {
		if d > 0 {
			y.client.Timeout = d
		}
	}
}

// WithInterval sets the bar interval (1m, 5m, 1h or 1d).
func WithInterval(interval string) Option {
	return func(y *Yahoo) {
		y.interval = toYahooInterval(interval)
	}
}

func New(opts ...Option) *Yahoo {
	y := &Yahoo{
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  DefaultBaseURL,
		interval: "1d",
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

func (y *Yahoo) Name() string {
	return "yahoo"
}

// Bars fetches bars in [from, to). A zero from starts at the earliest
// available bar; a zero to ends now.
func (y *Yahoo) Bars(ctx context.Context, symbol string, from, to time.Time) iter.Seq2[core.Bar, error] {
	return func(yield func(core.Bar, error) bool) {
		end := to
		if end.IsZero() {
			end = time.Now()
		}
		var start int64
		if !from.IsZero() {
			start = from.Unix()
		}
		q := url.Values{}
		q.Set("period1", fmt.Sprint(start))
		q.Set("period2", fmt.Sprint(end.Unix()))

		bars, err := y.fetch(ctx, symbol, q)
		if err != nil {
			yield(core.Bar{}, err)
			return
		}
		for _, bar := range bars {
			if bar.Time.Before(from) || !bar.Time.Before(end) {
				continue
			}
			if !yield(bar, nil) {
				return
			}
		}
	}
}

// History returns the latest n bars of symbol, oldest first.
func (y *Yahoo) History(ctx context.Context, symbol string, n int) ([]core.Bar, error) {
	q := url.Values{}
	q.Set("range", rangeFor(n))

	bars, err := y.fetch(ctx, symbol, q)
	if err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// rangeFor picks the shortest chart range that holds n daily bars.
func rangeFor(n int) string {
	switch {
	case n <= 20:
		return "1mo"
	case n <= 60:
		return "3mo"
	case n <= 120:
		return "6mo"
	case n <= 250:
		return "1y"
	case n <= 500:
		return "2y"
	case n <= 1250:
		return "5y"
	case n <= 2500:
		return "10y"
	default:
		return "max"
	}
}

func (y *Yahoo) fetch(ctx context.Context, symbol string, q url.Values) ([]core.Bar, error) {
	if err := validateSymbol(symbol); err != nil {
		return nil, err
	}
	q.Set("interval", y.interval)
	u := fmt.Sprintf("%s/%s?%s", y.baseURL, url.PathEscape(toYahooSymbol(symbol)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	var result chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching %s: unexpected status: %d", symbol, resp.StatusCode)
		}
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if result.Chart.Error != nil {
		if result.Chart.Error.Code == "Not Found" {
			return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s: %s", symbol, result.Chart.Error.Description))
		}
		return nil, fmt.Errorf("yahoo error: %s", result.Chart.Error.Description)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status: %d", symbol, resp.StatusCode)
	}
	if len(result.Chart.Result) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no data for symbol: %s", symbol))
	}

	bars := result.Chart.Result[0].bars(symbol)
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no bars for symbol: %s", symbol))
	}
	return bars, nil
}

// toYahooSymbol converts internal symbol format to Yahoo format
func toYahooSymbol(symbol string) string {
	// Shanghai stocks: 600519.SH -> 600519.SS
	if strings.HasSuffix(symbol, ".SH") {
		return strings.TrimSuffix(symbol, ".SH") + ".SS"
	}
	return symbol
}

func toYahooInterval(interval string) string {
	switch interval {
	case "1m", "5m", "1h":
		return interval
	default:
		return "1d"
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []quoteIndicator `json:"quote"`
	} `json:"indicators"`
}

type quoteIndicator struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

// bars converts the columnar payload. Rows without a close are skipped;
// other missing fields fall back to the close or zero.
func (r chartResult) bars(symbol string) []core.Bar {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	q := r.Indicators.Quote[0]

	out := make([]core.Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		c := at(q.Close, i)
		if c == nil {
			continue
		}
		bar := core.Bar{
			Symbol: symbol,
			Time:   time.Unix(ts, 0).UTC(),
			Open:   deref(at(q.Open, i), *c),
			High:   deref(at(q.High, i), *c),
			Low:    deref(at(q.Low, i), *c),
			Close:  *c,
		}
		if v := at(q.Volume, i); v != nil {
			bar.Volume = *v
		}
		out = append(out, bar)
	}
	return out
}

func at[T any](s []*T, i int) *T {
	if i >= len(s) {
		return nil
	}
	return s[i]
}

func deref(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
