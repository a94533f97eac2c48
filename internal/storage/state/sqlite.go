package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/core"
	"github.com/newthinker/tradecore/internal/ledger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	path       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	position_id    TEXT PRIMARY KEY,
	symbol         TEXT NOT NULL,
	lots           INTEGER NOT NULL,
	lot_size       INTEGER NOT NULL,
	entry_price    REAL NOT NULL,
	exit_price     REAL NOT NULL,
	entry_time     TEXT NOT NULL,
	exit_time      TEXT NOT NULL,
	reason         TEXT NOT NULL,
	commission     REAL NOT NULL,
	profit         REAL NOT NULL,
	profit_percent REAL NOT NULL,
	strategy       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS trades_symbol_exit ON trades(symbol, exit_time);
`

// sqliteTime sorts lexically in chronological order for UTC values.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite keeps snapshots in a blobs table and journals closed trades in a
// queryable trades table.
type SQLite struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *zap.Logger
}

// NewSQLite opens or creates the database at path.
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// database/sql pooling would give each connection its own :memory: db.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		logger.Error("Failed to initialize sqlite schema", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLite{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger: logger,
	}, nil
}

func (s *SQLite) Write(ctx context.Context, path string, data []byte) error {
	_, err := s.sq.
		Insert("blobs").
		Columns("path", "data", "updated_at").
		Values(path, data, time.Now().UTC().Format(sqliteTime)).
		Suffix("ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at").
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (s *SQLite) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.sq.
		Select("data").
		From("blobs").
		Where(squirrel.Eq{"path": path}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("%s", path))
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// RecordTrade appends a closed trade to the journal. Recording the same
// position twice keeps the first row.
func (s *SQLite) RecordTrade(ctx context.Context, t ledger.ClosedTrade) error {
	_, err := s.sq.
		Insert("trades").
		Options("OR IGNORE").
		Columns(
			"position_id", "symbol", "lots", "lot_size", "entry_price", "exit_price",
			"entry_time", "exit_time", "reason", "commission", "profit", "profit_percent", "strategy",
		).
		Values(
			t.Position.ID, t.Position.Symbol, t.Position.Quantity, t.Position.LotSize,
			t.Position.EntryPrice, t.ExitPrice,
			t.Position.EntryTime.UTC().Format(sqliteTime), t.ExitTime.UTC().Format(sqliteTime),
			string(t.Reason), t.Commission(), t.Profit, t.ProfitPercent, t.Position.Signal.Strategy,
		).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		s.logger.Error("Failed to journal trade", zap.String("position_id", t.Position.ID), zap.Error(err))
		return fmt.Errorf("recording trade %s: %w", t.Position.ID, err)
	}
	return nil
}

// TradeRecord is one journal row.
type TradeRecord struct {
	PositionID    string
	Symbol        string
	Lots          int64
	LotSize       int64
	EntryPrice    float64
	ExitPrice     float64
	EntryTime     time.Time
	ExitTime      time.Time
	Reason        ledger.ExitReason
	Commission    float64
	Profit        float64
	ProfitPercent float64
	Strategy      string
}

// ClosedTrade rebuilds the ledger form of the row. The journal keeps only
// the total commission, which is reported on the exit leg.
func (r TradeRecord) ClosedTrade() ledger.ClosedTrade {
	return ledger.ClosedTrade{
		Position: ledger.Position{
			ID:         r.PositionID,
			Symbol:     r.Symbol,
			Quantity:   r.Lots,
			LotSize:    r.LotSize,
			EntryPrice: r.EntryPrice,
			EntryTime:  r.EntryTime,
			Signal:     ledger.EntrySignal{Strategy: r.Strategy},
		},
		ExitPrice:      r.ExitPrice,
		ExitTime:       r.ExitTime,
		Reason:         r.Reason,
		ExitCommission: r.Commission,
		Profit:         r.Profit,
		ProfitPercent:  r.ProfitPercent,
		Holding:        r.ExitTime.Sub(r.EntryTime),
	}
}

// Trades returns journaled trades ordered by exit time. An empty symbol
// returns every instrument.
func (s *SQLite) Trades(ctx context.Context, symbol string) ([]TradeRecord, error) {
	q := s.sq.
		Select(
			"position_id", "symbol", "lots", "lot_size", "entry_price", "exit_price",
			"entry_time", "exit_time", "reason", "commission", "profit", "profit_percent", "strategy",
		).
		From("trades").
		OrderBy("exit_time ASC", "position_id ASC")
	if symbol != "" {
		q = q.Where(squirrel.Eq{"symbol": symbol})
	}

	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			r               TradeRecord
			entryAt, exitAt string
			reason          string
		)
		if err := rows.Scan(
			&r.PositionID, &r.Symbol, &r.Lots, &r.LotSize, &r.EntryPrice, &r.ExitPrice,
			&entryAt, &exitAt, &reason, &r.Commission, &r.Profit, &r.ProfitPercent, &r.Strategy,
		); err != nil {
			return nil, err
		}
		if r.EntryTime, err = time.Parse(sqliteTime, entryAt); err != nil {
			return nil, fmt.Errorf("parsing entry_time of %s: %w", r.PositionID, err)
		}
		if r.ExitTime, err = time.Parse(sqliteTime, exitAt); err != nil {
			return nil, fmt.Errorf("parsing exit_time of %s: %w", r.PositionID, err)
		}
		r.Reason = ledger.ExitReason(reason)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
