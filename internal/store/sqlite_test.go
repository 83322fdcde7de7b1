package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-floor/internal/activity"
	"trading-floor/internal/ledger"
	"trading-floor/internal/models"
)

func newTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	archive, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "archive", "floor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	return archive
}

func TestSQLiteArchive_LogEntries(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

	entries := []models.LogEntry{
		{Seq: 1, Timestamp: base, Trader: "system", Category: models.CategoryTrace, Message: "Tick 1"},
		{Seq: 2, Timestamp: base.Add(time.Second), Trader: "Warren", Category: models.CategoryAgent, Message: "starting"},
		{Seq: 3, Timestamp: base.Add(2 * time.Second), Trader: "Warren", Category: models.CategoryAccount, Message: "Bought 10 AAPL"},
		{Seq: 4, Timestamp: base.Add(3 * time.Second), Trader: "George", Category: models.CategoryAgent, Message: "starting"},
	}
	require.NoError(t, archive.SaveLogEntries(ctx, "run-a", entries))
	// Duplicate (run, seq) pairs are ignored.
	require.NoError(t, archive.SaveLogEntries(ctx, "run-a", entries[:1]))
	require.NoError(t, archive.SaveLogEntries(ctx, "run-b", entries[:1]))

	all, err := archive.GetLogEntries(ctx, LogFilter{RunID: "run-a"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, e := range all {
		assert.Equal(t, entries[i].Seq, e.Seq)
		assert.Equal(t, entries[i].Message, e.Message)
		assert.True(t, entries[i].Timestamp.Equal(e.Timestamp), "timestamp %d", i)
	}

	warren, err := archive.GetLogEntries(ctx, LogFilter{Trader: "Warren", Limit: 1})
	require.NoError(t, err)
	require.Len(t, warren, 1)
	assert.Equal(t, "Bought 10 AAPL", warren[0].Message)

	agent, err := archive.GetLogEntries(ctx, LogFilter{Category: models.CategoryAgent})
	require.NoError(t, err)
	assert.Len(t, agent, 2)

	since, err := archive.GetLogEntries(ctx, LogFilter{RunID: "run-a", Since: base.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	runs, err := archive.GetRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID)
	assert.Equal(t, 4, runs[1].Entries)
	assert.True(t, runs[1].FirstEntry.Equal(base), "first entry %s", runs[1].FirstEntry)
}

func TestSQLiteArchive_TransactionsAndValuations(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

	txs := []TraderTransaction{
		{Trader: "Warren", Transaction: models.Transaction{ID: "01A", Timestamp: base, Symbol: "AAPL", Side: models.OrderSideBuy,
			Quantity: 10, Price: decimal.RequireFromString("150.25"), CashAfter: decimal.RequireFromString("8497.50"), Rationale: "earnings"}},
		{Trader: "Warren", Transaction: models.Transaction{ID: "01B", Timestamp: base.Add(time.Minute), Symbol: "AAPL", Side: models.OrderSideSell,
			Quantity: 4, Price: decimal.RequireFromString("155"), CashAfter: decimal.RequireFromString("9117.50")}},
		{Trader: "Ray", Transaction: models.Transaction{ID: "01C", Timestamp: base, Symbol: "SPY", Side: models.OrderSideBuy,
			Quantity: 1, Price: decimal.NewFromInt(500), CashAfter: decimal.NewFromInt(9500)}},
	}
	require.NoError(t, archive.SaveTransactions(ctx, "run-a", txs))

	got, err := archive.GetTransactions(ctx, TransactionFilter{Trader: "Warren"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "01A", got[0].ID)
	assert.Equal(t, models.OrderSideBuy, got[0].Side)
	assert.True(t, got[0].Price.Equal(decimal.RequireFromString("150.25")))
	assert.Equal(t, "earnings", got[0].Rationale)
	assert.Equal(t, "run-a", got[1].RunID)

	spy, err := archive.GetTransactions(ctx, TransactionFilter{Symbol: "SPY"})
	require.NoError(t, err)
	require.Len(t, spy, 1)
	assert.Equal(t, "Ray", spy[0].Trader)

	points := []TraderValuation{
		{Trader: "Warren", Timestamp: base, Value: decimal.NewFromInt(10000)},
		{Trader: "Warren", Timestamp: base.Add(time.Minute), Value: decimal.RequireFromString("10020.5")},
	}
	require.NoError(t, archive.SaveValuations(ctx, "run-a", points))

	vals, err := archive.GetValuations(ctx, ValuationFilter{Trader: "Warren", Limit: 1})
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.True(t, vals[0].Value.Equal(decimal.RequireFromString("10020.5")))
}

func TestWriter_MirrorsStoreAndLedger(t *testing.T) {
	archive := newTestArchive(t)
	writer := NewWriter(archive, WriterConfig{RunID: "run-x", Buffer: 1024}, zerolog.Nop())
	assert.Equal(t, "run-x", writer.RunID())

	log := activity.NewStore(activity.WithSink(writer))
	account := ledger.NewAccount("Warren", decimal.NewFromInt(10000),
		ledger.WithRecorder(log), ledger.WithObserver(writer))

	ctx := context.Background()
	_, err := account.Apply(ctx, models.Order{Symbol: "AAPL", Side: models.OrderSideBuy, Quantity: 10, Price: decimal.NewFromInt(150)})
	require.NoError(t, err)
	_, err = account.Apply(ctx, models.Order{Symbol: "AAPL", Side: models.OrderSideSell, Quantity: 50, Price: decimal.NewFromInt(150)})
	require.Error(t, err)
	log.Append(models.SystemTrader, models.CategoryTrace, "skipped: market closed")

	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())

	entries, err := archive.GetLogEntries(ctx, LogFilter{RunID: "run-x"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, "skipped: market closed", entries[2].Message)

	txs, err := archive.GetTransactions(ctx, TransactionFilter{RunID: "run-x"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, account.Transactions()[0].ID, txs[0].ID)

	vals, err := archive.GetValuations(ctx, ValuationFilter{RunID: "run-x"})
	require.NoError(t, err)
	assert.Len(t, vals, 1)

	written, dropped, failed := writer.Stats()
	assert.EqualValues(t, 5, written)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)

	// Records after Close are dropped, not panicked on.
	writer.Write(models.LogEntry{Seq: 99})
	_, dropped, _ = writer.Stats()
	assert.EqualValues(t, 1, dropped)
}
