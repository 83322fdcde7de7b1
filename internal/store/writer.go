package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trading-floor/internal/models"
	"trading-floor/pkg/utils"
)

// WriterConfig holds configuration for the archive writer.
type WriterConfig struct {
	// RunID tags every row written by this process. Generated when empty.
	RunID string
	// Buffer is the queue length; records beyond it are dropped.
	Buffer int
	// BatchSize caps how many queued records go into one SQLite transaction.
	BatchSize int
	// WriteTimeout bounds one batch write.
	WriteTimeout time.Duration
}

// DefaultWriterConfig returns default writer configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Buffer:       4096,
		BatchSize:    256,
		WriteTimeout: 5 * time.Second,
	}
}

type recordKind int

const (
	kindEntry recordKind = iota
	kindTransaction
	kindValuation
)

type record struct {
	kind      recordKind
	entry     models.LogEntry
	tx        TraderTransaction
	valuation TraderValuation
}

// Writer mirrors activity entries, transactions and valuations into an
// Archive from a background goroutine. It implements activity.Sink and
// ledger.Observer: enqueueing never blocks, so it is safe to call while the
// caller holds its own lock.
type Writer struct {
	archive Archive
	config  WriterConfig
	logger  zerolog.Logger

	queue   chan record
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

// NewWriter starts a writer over archive.
func NewWriter(archive Archive, config WriterConfig, logger zerolog.Logger) *Writer {
	def := DefaultWriterConfig()
	if config.Buffer <= 0 {
		config.Buffer = def.Buffer
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.RunID == "" {
		config.RunID = utils.NewID(time.Now())
	}

	w := &Writer{
		archive: archive,
		config:  config,
		logger:  logger.With().Str("component", "archive").Str("run_id", config.RunID).Logger(),
		queue:   make(chan record, config.Buffer),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// RunID returns the run identifier rows are tagged with.
func (w *Writer) RunID() string {
	return w.config.RunID
}

// Write queues a log entry.
func (w *Writer) Write(entry models.LogEntry) {
	w.enqueue(record{kind: kindEntry, entry: entry})
}

// RecordTransaction queues a transaction.
func (w *Writer) RecordTransaction(trader string, tx models.Transaction) {
	w.enqueue(record{kind: kindTransaction, tx: TraderTransaction{Trader: trader, Transaction: tx}})
}

// RecordValuation queues a valuation point.
func (w *Writer) RecordValuation(trader string, point models.ValuationPoint) {
	w.enqueue(record{kind: kindValuation, valuation: TraderValuation{Trader: trader, Timestamp: point.Timestamp, Value: point.Value}})
}

func (w *Writer) enqueue(r record) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- r:
	default:
		w.dropped.Add(1)
	}
}

// Stats returns how many records were written, dropped and failed.
func (w *Writer) Stats() (written, dropped, failed uint64) {
	return w.written.Load(), w.dropped.Load(), w.failed.Load()
}

// Close stops accepting records and flushes the queue. It does not close the
// underlying archive.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	written, dropped, failed := w.Stats()
	w.logger.Info().
		Uint64("written", written).
		Uint64("dropped", dropped).
		Uint64("failed", failed).
		Msg("Archive writer closed")
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()

	batch := make([]record, 0, w.config.BatchSize)
	for r := range w.queue {
		batch = append(batch, r)
	drain:
		for len(batch) < w.config.BatchSize {
			select {
			case next, ok := <-w.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		w.flush(batch)
		batch = batch[:0]
	}
}

func (w *Writer) flush(batch []record) {
	var (
		entries    []models.LogEntry
		txs        []TraderTransaction
		valuations []TraderValuation
	)
	for _, r := range batch {
		switch r.kind {
		case kindEntry:
			entries = append(entries, r.entry)
		case kindTransaction:
			txs = append(txs, r.tx)
		case kindValuation:
			valuations = append(valuations, r.valuation)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	w.save(len(entries), func() error { return w.archive.SaveLogEntries(ctx, w.config.RunID, entries) }, "log entries")
	w.save(len(txs), func() error { return w.archive.SaveTransactions(ctx, w.config.RunID, txs) }, "transactions")
	w.save(len(valuations), func() error { return w.archive.SaveValuations(ctx, w.config.RunID, valuations) }, "valuations")
}

func (w *Writer) save(n int, fn func() error, what string) {
	if n == 0 {
		return
	}
	if err := fn(); err != nil {
		w.failed.Add(uint64(n))
		w.logger.Error().Err(err).Int("count", n).Msgf("Failed to archive %s", what)
		return
	}
	w.written.Add(uint64(n))
}
