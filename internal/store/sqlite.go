package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-floor/internal/models"
)

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLiteArchive opens (creating if needed) the archive at dbPath.
func NewSQLiteArchive(dbPath string) (*SQLiteArchive, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	archive := &SQLiteArchive{db: db}
	if err := archive.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return archive, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteArchive) initSchema() error {
	schema := `
	-- Activity log entries, one row per committed entry
	CREATE TABLE IF NOT EXISTS log_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		trader TEXT NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		UNIQUE(run_id, seq)
	);

	-- Accepted orders
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		trader TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		cash_after TEXT NOT NULL,
		rationale TEXT
	);

	-- Mark-to-market history
	CREATE TABLE IF NOT EXISTS valuations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		trader TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_log_entries_trader ON log_entries(trader, id);
	CREATE INDEX IF NOT EXISTS idx_transactions_trader ON transactions(trader, timestamp);
	CREATE INDEX IF NOT EXISTS idx_valuations_trader ON valuations(trader, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteArchive) Close() error {
	return s.db.Close()
}

// ============================================================================
// Writes
// ============================================================================

// SaveLogEntries saves entries in one transaction. Re-saving an entry is a no-op.
func (s *SQLiteArchive) SaveLogEntries(ctx context.Context, runID string, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT OR IGNORE INTO log_entries (run_id, seq, timestamp, trader, category, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, len(entries), func(stmt *sql.Stmt, i int) error {
		e := entries[i]
		_, err := stmt.ExecContext(ctx, runID, e.Seq, e.Timestamp.UTC(), e.Trader, string(e.Category), e.Message)
		return err
	})
}

// SaveTransactions saves transactions in one transaction.
func (s *SQLiteArchive) SaveTransactions(ctx context.Context, runID string, txs []TraderTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT OR IGNORE INTO transactions (id, run_id, trader, timestamp, symbol, side, quantity, price, cash_after, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, len(txs), func(stmt *sql.Stmt, i int) error {
		t := txs[i]
		_, err := stmt.ExecContext(ctx, t.ID, runID, t.Trader, t.Timestamp.UTC(), t.Symbol, string(t.Side),
			t.Quantity, t.Price.String(), t.CashAfter.String(), t.Rationale)
		return err
	})
}

// SaveValuations saves valuation points in one transaction.
func (s *SQLiteArchive) SaveValuations(ctx context.Context, runID string, points []TraderValuation) error {
	if len(points) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT INTO valuations (run_id, trader, timestamp, value) VALUES (?, ?, ?, ?)
	`, len(points), func(stmt *sql.Stmt, i int) error {
		p := points[i]
		_, err := stmt.ExecContext(ctx, runID, p.Trader, p.Timestamp.UTC(), p.Value.String())
		return err
	})
}

func (s *SQLiteArchive) inTx(ctx context.Context, query string, n int, exec func(stmt *sql.Stmt, i int) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ============================================================================
// Queries
// ============================================================================

// GetLogEntries returns the newest matching entries in chronological order.
func (s *SQLiteArchive) GetLogEntries(ctx context.Context, filter LogFilter) ([]ArchivedEntry, error) {
	query := "SELECT run_id, seq, timestamp, trader, category, message FROM log_entries WHERE 1=1"
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Trader != "" {
		query += " AND trader = ? COLLATE NOCASE"
		args = append(args, filter.Trader)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, string(filter.Category))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []ArchivedEntry
	for rows.Next() {
		var e ArchivedEntry
		var category string
		if err := rows.Scan(&e.RunID, &e.Seq, &e.Timestamp, &e.Trader, &category, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Category = models.Category(category)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(entries)
	return entries, nil
}

// GetTransactions returns the newest matching transactions in chronological order.
func (s *SQLiteArchive) GetTransactions(ctx context.Context, filter TransactionFilter) ([]TraderTransaction, error) {
	query := "SELECT id, run_id, trader, timestamp, symbol, side, quantity, price, cash_after, rationale FROM transactions WHERE 1=1"
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Trader != "" {
		query += " AND trader = ? COLLATE NOCASE"
		args = append(args, filter.Trader)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}

	// ULIDs sort in creation order.
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []TraderTransaction
	for rows.Next() {
		var t TraderTransaction
		var side string
		var rationale sql.NullString
		if err := rows.Scan(&t.ID, &t.RunID, &t.Trader, &t.Timestamp, &t.Symbol, &side, &t.Quantity, &t.Price, &t.CashAfter, &rationale); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Side = models.OrderSide(side)
		t.Rationale = rationale.String
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(txs)
	return txs, nil
}

// GetValuations returns the newest matching valuation points in chronological order.
func (s *SQLiteArchive) GetValuations(ctx context.Context, filter ValuationFilter) ([]TraderValuation, error) {
	query := "SELECT run_id, trader, timestamp, value FROM valuations WHERE 1=1"
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Trader != "" {
		query += " AND trader = ? COLLATE NOCASE"
		args = append(args, filter.Trader)
	}

	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuations: %w", err)
	}
	defer rows.Close()

	var points []TraderValuation
	for rows.Next() {
		var p TraderValuation
		if err := rows.Scan(&p.RunID, &p.Trader, &p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan valuation: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(points)
	return points, nil
}

// GetRuns lists recorded runs, newest first.
func (s *SQLiteArchive) GetRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `
		SELECT l.run_id, MIN(l.timestamp), MAX(l.timestamp), COUNT(*),
			(SELECT COUNT(*) FROM transactions t WHERE t.run_id = l.run_id)
		FROM log_entries l
		GROUP BY l.run_id
		ORDER BY MAX(l.id) DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var first, last string
		if err := rows.Scan(&r.RunID, &first, &last, &r.Entries, &r.Transactions); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.FirstEntry = parseSQLiteTime(first)
		r.LastEntry = parseSQLiteTime(last)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Aggregates lose the column's DATETIME type, so the driver hands back text.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999Z07:00",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
