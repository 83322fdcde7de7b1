package activity

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-floor/internal/models"
)

func TestAppend_AssignsSequenceAndTimestamp(t *testing.T) {
	s := NewStore()

	e1 := s.Append("Warren", models.CategoryAgent, "hello")
	e2 := s.AppendEntry(models.LogEntry{Seq: 99, Category: models.CategoryTrace, Message: "tick"})

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq, "caller-provided seq is overwritten")
	assert.Equal(t, models.SystemTrader, e2.Trader)
	assert.False(t, e1.Timestamp.IsZero())
	assert.Equal(t, 2, s.Len())
}

func TestAppend_TimestampsFollowSequence(t *testing.T) {
	base := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	steps := []time.Duration{0, time.Second, -time.Minute, 2 * time.Second}
	i := 0
	s := NewStore(WithClock(func() time.Time {
		d := steps[i%len(steps)]
		i++
		return base.Add(d)
	}))

	for n := 0; n < 8; n++ {
		s.Append("Ray", models.CategoryTrace, "x")
	}

	entries := slices.Collect(s.Recent(0, ""))
	require.Len(t, entries, 8)
	for n := 1; n < len(entries); n++ {
		assert.Greater(t, entries[n].Seq, entries[n-1].Seq)
		assert.False(t, entries[n].Timestamp.Before(entries[n-1].Timestamp))
	}
}

func TestRecent_WindowAndFilter(t *testing.T) {
	s := NewStore()
	for i := 0; i < 20; i++ {
		trader := "Warren"
		if i%2 == 1 {
			trader = "George"
		}
		s.Append(trader, models.CategoryAccount, fmt.Sprintf("m%d", i))
	}

	var msgs []string
	for e := range s.Recent(3, "") {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"m17", "m18", "m19"}, msgs)

	msgs = msgs[:0]
	for e := range s.Recent(3, "Warren") {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"m14", "m16", "m18"}, msgs)

	assert.Len(t, slices.Collect(s.Recent(0, "George")), 10)
	assert.Len(t, slices.Collect(s.Recent(100, "")), 20)
	assert.Empty(t, slices.Collect(s.Recent(5, "Nobody")))
}

func TestRecent_IsRestartableAndStopsEarly(t *testing.T) {
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.Append("Cathie", models.CategoryGeneration, fmt.Sprintf("m%d", i))
	}

	seq := s.Recent(4, "")
	first := slices.Collect(seq)
	s.Append("Cathie", models.CategoryGeneration, "m5")
	second := slices.Collect(seq)

	assert.Equal(t, "m1", first[0].Message)
	assert.Equal(t, "m2", second[0].Message, "each pass sees the log as of its start")
	assert.Equal(t, "m5", second[3].Message)

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestRecent_DoesNotBlockWriters(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		s.Append("Warren", models.CategoryTrace, "seed")
	}

	done := make(chan struct{})
	for range s.Recent(0, "") {
		go func() {
			s.Append("George", models.CategoryTrace, "while reading")
			done <- struct{}{}
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("append blocked by an in-progress iteration")
		}
	}
	assert.Equal(t, 20, s.Len())
}

func TestAppend_ConcurrentWritersLoseNothing(t *testing.T) {
	const agents, perAgent = 16, 500
	s := NewStore()

	var wg sync.WaitGroup
	for a := 0; a < agents; a++ {
		wg.Add(1)
		go func(a int) {
			defer wg.Done()
			name := fmt.Sprintf("agent-%d", a)
			for k := 0; k < perAgent; k++ {
				s.Append(name, models.CategoryFunction, fmt.Sprintf("%d", k))
			}
		}(a)
	}
	wg.Wait()

	entries := slices.Collect(s.Recent(0, ""))
	require.Len(t, entries, agents*perAgent)

	seen := make(map[uint64]bool, len(entries))
	perTrader := make(map[string][]string)
	for i, e := range entries {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
		if i > 0 {
			assert.Equal(t, entries[i-1].Seq+1, e.Seq)
		}
		perTrader[e.Trader] = append(perTrader[e.Trader], e.Message)
	}

	for a := 0; a < agents; a++ {
		msgs := perTrader[fmt.Sprintf("agent-%d", a)]
		require.Len(t, msgs, perAgent)
		for k, m := range msgs {
			assert.Equal(t, fmt.Sprintf("%d", k), m, "per-caller order is preserved")
		}
	}
}

func TestRetention_KeepsNewest(t *testing.T) {
	s := NewStore(WithRetention(10))
	for i := 0; i < 35; i++ {
		s.Append("Ray", models.CategoryTrace, fmt.Sprintf("m%d", i))
	}

	assert.LessOrEqual(t, s.Len(), 20)
	assert.GreaterOrEqual(t, s.Len(), 10)
	assert.Equal(t, uint64(35), s.Total())

	recent := slices.Collect(s.Recent(10, ""))
	require.Len(t, recent, 10)
	assert.Equal(t, "m25", recent[0].Message)
	assert.Equal(t, "m34", recent[9].Message)
}

type sliceSink struct {
	entries []models.LogEntry
}

func (s *sliceSink) Write(e models.LogEntry) {
	s.entries = append(s.entries, e)
}

func TestSinkAndSubscribe(t *testing.T) {
	sink := &sliceSink{}
	s := NewStore(WithSink(sink))

	ch, cancel := s.Subscribe(2)
	s.Append("Warren", models.CategoryAgent, "a")
	s.Append("Warren", models.CategoryAgent, "b")
	s.Append("Warren", models.CategoryAgent, "c") // buffer full, dropped

	assert.Equal(t, "a", (<-ch).Message)
	assert.Equal(t, "b", (<-ch).Message)
	assert.Equal(t, uint64(1), s.Dropped())
	require.Len(t, sink.entries, 3)
	assert.Equal(t, uint64(3), sink.entries[2].Seq)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	s.Append("Warren", models.CategoryAgent, "d")
	assert.Len(t, sink.entries, 4)
}
