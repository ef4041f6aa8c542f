// Package persistence stores finalized trades and risk events in sqlite.
// Persistence is best-effort: a failed save is logged, never blocks trading.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"arbcore/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	opportunity_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	amount REAL NOT NULL,
	buy_venue TEXT NOT NULL,
	sell_venue TEXT NOT NULL,
	buy_order_id TEXT,
	sell_order_id TEXT,
	buy_price REAL,
	sell_price REAL,
	gross_profit REAL,
	fees REAL,
	net_profit REAL,
	duration_ms INTEGER,
	slippage_pct REAL,
	status TEXT NOT NULL,
	executed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);

CREATE TABLE IF NOT EXISTS risk_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scope TEXT NOT NULL,
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT,
	payload TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_events_created_at ON risk_events(created_at);
`

// Store is the sqlite-backed trade and risk-event ledger.
type Store struct {
	db     *sql.DB
	writer *BatchWriter
	log    *zap.Logger
}

// Open opens (or creates) the database at path and prepares the schema.
// Use ":memory:" for tests.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite: a single writer avoids SQLITE_BUSY under concurrency
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{
		db:     db,
		writer: NewBatchWriter(db, 50, 500*time.Millisecond, log),
		log:    log,
	}, nil
}

// SaveTrade enqueues a finalized trade for batched insertion.
func (s *Store) SaveTrade(trade core.TradeExecution) bool {
	s.writer.WriteQuery(`
		INSERT INTO trades (
			opportunity_id, symbol, amount, buy_venue, sell_venue,
			buy_order_id, sell_order_id, buy_price, sell_price,
			gross_profit, fees, net_profit, duration_ms, slippage_pct,
			status, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.OpportunityID, trade.Symbol, trade.Amount,
		trade.BuyVenue, trade.SellVenue,
		trade.BuyOrderID, trade.SellOrderID,
		trade.BuyPrice, trade.SellPrice,
		trade.GrossProfit, trade.Fees, trade.NetProfit,
		trade.Duration.Milliseconds(), trade.SlippagePct,
		string(trade.Status), trade.ExecutedAt,
	)
	return true
}

// SaveRiskEvent enqueues a risk event for batched insertion.
func (s *Store) SaveRiskEvent(ev core.RiskEvent) bool {
	s.writer.WriteQuery(`
		INSERT INTO risk_events (scope, kind, severity, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Scope, string(ev.Kind), string(ev.Severity), ev.Message,
		string(ev.Payload), ev.Timestamp,
	)
	return true
}

// Flush forces pending writes through; used by tests and shutdown.
func (s *Store) Flush() error {
	return s.writer.Flush()
}

// PendingWrites returns the number of queued, not yet flushed writes.
func (s *Store) PendingWrites() int {
	return s.writer.Pending()
}

// WriterMetrics returns the batch writer's running statistics.
func (s *Store) WriterMetrics() BatchWriterMetrics {
	return s.writer.GetMetrics()
}

// RecentTrades returns the newest trades, most recent first.
func (s *Store) RecentTrades(limit int) ([]core.TradeExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT opportunity_id, symbol, amount, buy_venue, sell_venue,
		       buy_order_id, sell_order_id, buy_price, sell_price,
		       gross_profit, fees, net_profit, duration_ms, slippage_pct,
		       status, executed_at
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []core.TradeExecution
	for rows.Next() {
		var t core.TradeExecution
		var durationMs int64
		var status string
		if err := rows.Scan(
			&t.OpportunityID, &t.Symbol, &t.Amount, &t.BuyVenue, &t.SellVenue,
			&t.BuyOrderID, &t.SellOrderID, &t.BuyPrice, &t.SellPrice,
			&t.GrossProfit, &t.Fees, &t.NetProfit, &durationMs, &t.SlippagePct,
			&status, &t.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Duration = time.Duration(durationMs) * time.Millisecond
		t.Status = core.ExecutionStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentRiskEvents returns the newest risk events, most recent first.
func (s *Store) RecentRiskEvents(limit int) ([]core.RiskEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT scope, kind, severity, message, payload, created_at
		FROM risk_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer rows.Close()

	var out []core.RiskEvent
	for rows.Next() {
		var ev core.RiskEvent
		var kind, severity, payload string
		if err := rows.Scan(&ev.Scope, &kind, &severity, &ev.Message, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		ev.Kind = core.RiskEventKind(kind)
		ev.Severity = core.Severity(severity)
		if payload != "" {
			ev.Payload = json.RawMessage(payload)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	if err := s.writer.Close(); err != nil {
		s.log.Warn("batch writer close", zap.Error(err))
	}
	return s.db.Close()
}
