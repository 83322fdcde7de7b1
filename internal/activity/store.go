// Package activity provides the append-only activity log shared by every trader
// and the scheduler.
package activity

import (
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"trading-floor/internal/models"
)

// Sink receives every committed entry in sequence order. Write is called while
// the store lock is held and must not block.
type Sink interface {
	Write(entry models.LogEntry)
}

// Option configures a Store.
type Option func(*Store)

// WithRetention bounds memory: once 2*n entries accumulate, all but the newest n
// are released. Zero keeps everything.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithSink mirrors entries to sink.
func WithSink(sink Sink) Option {
	return func(s *Store) {
		s.sinks = append(s.sinks, sink)
	}
}

// Store is a thread-safe, append-only activity log.
//
// Entries get a strictly increasing sequence number and a timestamp that never
// goes backwards, both assigned under the same lock, so sequence order and
// timestamp order agree. Readers iterate over a snapshot and never block writers
// for longer than it takes to copy a slice header.
type Store struct {
	mu        sync.RWMutex
	entries   []models.LogEntry
	seq       uint64
	last      time.Time
	retention int
	now       func() time.Time
	sinks     []Sink

	subs    map[uint64]*subscriber
	nextSub uint64
	dropped atomic.Uint64
}

type subscriber struct {
	ch   chan models.LogEntry
	once sync.Once
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:  time.Now,
		subs: make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records a message for trader in category and returns the committed entry.
func (s *Store) Append(trader string, category models.Category, message string) models.LogEntry {
	return s.AppendEntry(models.LogEntry{Trader: trader, Category: category, Message: message})
}

// AppendEntry records entry. Seq and Timestamp are always assigned by the store.
func (s *Store) AppendEntry(entry models.LogEntry) models.LogEntry {
	if entry.Trader == "" {
		entry.Trader = models.SystemTrader
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ts := s.now()
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts
	entry.Seq = s.seq
	entry.Timestamp = ts

	s.entries = append(s.entries, entry)
	if s.retention > 0 && len(s.entries) >= 2*s.retention {
		// Fresh backing array: snapshots taken by readers stay valid.
		kept := make([]models.LogEntry, s.retention, 2*s.retention)
		copy(kept, s.entries[len(s.entries)-s.retention:])
		s.entries = kept
	}

	for _, sink := range s.sinks {
		sink.Write(entry)
	}
	for _, sub := range s.subs {
		select {
		case sub.ch <- entry:
		default:
			s.dropped.Add(1)
		}
	}
	return entry
}

// Recent returns the newest limit entries (all when limit <= 0), optionally
// restricted to one trader, in chronological order. The sequence is lazy and can
// be ranged over any number of times; each pass sees the log as of its start.
func (s *Store) Recent(limit int, trader string) iter.Seq[models.LogEntry] {
	return func(yield func(models.LogEntry) bool) {
		s.mu.RLock()
		snap := s.entries
		s.mu.RUnlock()

		match := func(e models.LogEntry) bool {
			return trader == "" || e.Trader == trader
		}

		start, count := len(snap), 0
		for i := len(snap) - 1; i >= 0; i-- {
			if !match(snap[i]) {
				continue
			}
			count++
			start = i
			if limit > 0 && count == limit {
				break
			}
		}

		for i := start; i < len(snap); i++ {
			if !match(snap[i]) {
				continue
			}
			if !yield(snap[i]) {
				return
			}
		}
	}
}

// Len returns the number of entries currently retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Total returns the number of entries ever appended.
func (s *Store) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Subscribe returns a channel receiving every entry appended from now on and a
// function that cancels the subscription and closes the channel. Entries are
// dropped, not queued, when the subscriber's buffer is full.
func (s *Store) Subscribe(buffer int) (<-chan models.LogEntry, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	sub := &subscriber{ch: make(chan models.LogEntry, buffer)}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = sub
	s.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Dropped returns how many entries slow subscribers have missed.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}
