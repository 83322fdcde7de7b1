// Package store provides the SQLite audit archive of activity entries,
// transactions and valuation points. The archive is write-only from the
// floor's point of view: it is never read back to restore account state.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trading-floor/internal/models"
)

// Archive defines the persistence surface used by the floor and the CLI.
type Archive interface {
	// Writes
	SaveLogEntries(ctx context.Context, runID string, entries []models.LogEntry) error
	SaveTransactions(ctx context.Context, runID string, txs []TraderTransaction) error
	SaveValuations(ctx context.Context, runID string, points []TraderValuation) error

	// Queries
	GetLogEntries(ctx context.Context, filter LogFilter) ([]ArchivedEntry, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]TraderTransaction, error)
	GetValuations(ctx context.Context, filter ValuationFilter) ([]TraderValuation, error)
	GetRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// Lifecycle
	Close() error
}

// TraderTransaction is a transaction tagged with its trader.
type TraderTransaction struct {
	RunID  string `json:"run_id,omitempty"`
	Trader string `json:"trader"`
	models.Transaction
}

// TraderValuation is a valuation point tagged with its trader.
type TraderValuation struct {
	RunID     string          `json:"run_id,omitempty"`
	Trader    string          `json:"trader"`
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// ArchivedEntry is a log entry tagged with the run that produced it.
type ArchivedEntry struct {
	RunID string `json:"run_id"`
	models.LogEntry
}

// RunSummary describes one process run recorded in the archive.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	FirstEntry   time.Time `json:"first_entry"`
	LastEntry    time.Time `json:"last_entry"`
	Entries      int       `json:"entries"`
	Transactions int       `json:"transactions"`
}

// LogFilter represents filters for querying log entries.
type LogFilter struct {
	RunID    string
	Trader   string
	Category models.Category
	Since    time.Time
	Limit    int
}

// TransactionFilter represents filters for querying transactions.
type TransactionFilter struct {
	RunID  string
	Trader string
	Symbol string
	Limit  int
}

// ValuationFilter represents filters for querying valuation points.
type ValuationFilter struct {
	RunID  string
	Trader string
	Limit  int
}
