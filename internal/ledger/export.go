package ledger

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var closedHeader = []string{
	"id", "symbol", "lots", "lot_size", "entry_price", "entry_time",
	"exit_price", "exit_time", "reason", "commission", "profit", "profit_percent", "holding_hours",
}

// WriteCSV writes closed trades in close order.
func WriteCSV(w io.Writer, trades []ClosedTrade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(closedHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			t.Position.ID,
			t.Position.Symbol,
			strconv.FormatInt(t.Position.Quantity, 10),
			strconv.FormatInt(t.Position.LotSize, 10),
			f(t.Position.EntryPrice),
			t.Position.EntryTime.Format(time.RFC3339),
			f(t.ExitPrice),
			t.ExitTime.Format(time.RFC3339),
			string(t.Reason),
			f(t.Commission()),
			f(t.Profit),
			f(t.ProfitPercent),
			f(t.Holding.Hours()),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the ledger's closed history.
func (l *Ledger) ExportCSV(w io.Writer) error {
	return WriteCSV(w, l.ClosedTrades())
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
