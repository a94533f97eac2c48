package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/newthinker/tradecore/internal/core"
)

// BarSource yields bars for symbol in ascending time order within
// [from, to). Zero bounds are open. Every call starts a new pass.
type BarSource interface {
	Bars(ctx context.Context, symbol string, from, to time.Time) iter.Seq2[core.Bar, error]
}

// Collect drains a bar sequence.
func Collect(seq iter.Seq2[core.Bar, error]) ([]core.Bar, error) {
	var bars []core.Bar
	for bar, err := range seq {
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, core.ErrNoData
	}
	return bars, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// MemorySource serves bars held in memory.
type MemorySource struct {
	mu   sync.RWMutex
	bars map[string][]core.Bar
}

func NewMemorySource() *MemorySource {
	return &MemorySource{bars: make(map[string][]core.Bar)}
}

// Add stores bars for symbol, replacing earlier ones. Bars are sorted by
// time and stamped with symbol.
func (m *MemorySource) Add(symbol string, bars []core.Bar) {
	sorted := slices.Clone(bars)
	for i := range sorted {
		sorted[i].Symbol = symbol
	}
	slices.SortStableFunc(sorted, func(a, b core.Bar) int {
		return a.Time.Compare(b.Time)
	})

	m.mu.Lock()
	m.bars[symbol] = sorted
	m.mu.Unlock()
}

func (m *MemorySource) Bars(ctx context.Context, symbol string, from, to time.Time) iter.Seq2[core.Bar, error] {
	return func(yield func(core.Bar, error) bool) {
		m.mu.RLock()
		bars, ok := m.bars[symbol]
		m.mu.RUnlock()
		if !ok {
			yield(core.Bar{}, core.WrapError(core.ErrNoData, fmt.Errorf("%s", symbol)))
			return
		}
		for _, bar := range bars {
			if err := ctx.Err(); err != nil {
				yield(core.Bar{}, err)
				return
			}
			if !inRange(bar.Time, from, to) {
				continue
			}
			if !yield(bar, nil) {
				return
			}
		}
	}
}

// CSVSource reads <dir>/<symbol>.csv files with a header row of
// date,open,high,low,close,volume. Further columns are attached as
// indicators under their header names.
type CSVSource struct {
	dir string
}

func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", time.DateOnly}

var baseColumns = []string{"date", "open", "high", "low", "close", "volume"}

func (s *CSVSource) Bars(ctx context.Context, symbol string, from, to time.Time) iter.Seq2[core.Bar, error] {
	return func(yield func(core.Bar, error) bool) {
		path := filepath.Join(s.dir, symbol+".csv")
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = core.WrapError(core.ErrNoData, fmt.Errorf("%s: %w", symbol, err))
			}
			yield(core.Bar{}, err)
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true

		header, err := r.Read()
		if err != nil {
			yield(core.Bar{}, fmt.Errorf("%s: reading header: %w", path, err))
			return
		}
		for i := range header {
			header[i] = strings.ToLower(strings.TrimSpace(header[i]))
		}
		if len(header) < len(baseColumns) || !slices.Equal(header[:len(baseColumns)], baseColumns) {
			yield(core.Bar{}, fmt.Errorf("%s: header must start with %s", path, strings.Join(baseColumns, ",")))
			return
		}

		line := 1
		for {
			if err := ctx.Err(); err != nil {
				yield(core.Bar{}, err)
				return
			}
			row, err := r.Read()
			if err == io.EOF {
				return
			}
			line++
			if err != nil {
				yield(core.Bar{}, fmt.Errorf("%s:%d: %w", path, line, err))
				return
			}
			if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
				continue
			}

			bar, err := parseBarRow(symbol, header, row)
			if err != nil {
				yield(core.Bar{}, fmt.Errorf("%s:%d: %w", path, line, err))
				return
			}
			if !inRange(bar.Time, from, to) {
				continue
			}
			if !yield(bar, nil) {
				return
			}
		}
	}
}

func parseBarRow(symbol string, header, row []string) (core.Bar, error) {
	if len(row) < len(baseColumns) {
		return core.Bar{}, fmt.Errorf("expected at least %d columns, got %d", len(baseColumns), len(row))
	}

	t, err := parseTime(strings.TrimSpace(row[0]))
	if err != nil {
		return core.Bar{}, err
	}

	var ohlc [4]float64
	for i := range ohlc {
		if ohlc[i], err = parseFloat(row[i+1]); err != nil {
			return core.Bar{}, fmt.Errorf("column %s: %w", header[i+1], err)
		}
	}
	volume, err := strconv.ParseInt(strings.TrimSpace(row[5]), 10, 64)
	if err != nil {
		f, ferr := parseFloat(row[5])
		if ferr != nil {
			return core.Bar{}, fmt.Errorf("column volume: %w", err)
		}
		volume = int64(f)
	}

	bar := core.Bar{
		Symbol: symbol,
		Time:   t,
		Open:   ohlc[0],
		High:   ohlc[1],
		Low:    ohlc[2],
		Close:  ohlc[3],
		Volume: volume,
	}
	for i := len(baseColumns); i < len(row) && i < len(header); i++ {
		v, err := parseFloat(row[i])
		if err != nil {
			return core.Bar{}, fmt.Errorf("column %s: %w", header[i], err)
		}
		if bar.Indicators == nil {
			bar.Indicators = make(map[string]float64, len(header)-len(baseColumns))
		}
		bar.Indicators[header[i]] = v
	}
	return bar, nil
}

// parseFloat treats an empty cell as NaN so warm-up rows of exported
// indicator columns load.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return strconv.ParseFloat("NaN", 64)
	}
	return strconv.ParseFloat(s, 64)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}
