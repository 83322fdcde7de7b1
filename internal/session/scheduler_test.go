package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-floor/internal/activity"
	"trading-floor/internal/agents"
	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/ledger"
	"trading-floor/internal/market"
	"trading-floor/internal/models"
)

type fakeRunner struct {
	name  string
	calls atomic.Int32
	run   func(ctx context.Context) error
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) RunCycle(ctx context.Context) (agents.CycleResult, error) {
	f.calls.Add(1)
	if f.run != nil {
		if err := f.run(ctx); err != nil {
			return agents.CycleResult{Trader: f.name, Phase: models.PhaseFailed}, err
		}
	}
	return agents.CycleResult{Trader: f.name, Phase: models.PhaseDone}, nil
}

var closed = market.GateFunc(func(context.Context, time.Time) bool { return false })

func waitStopped(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, models.SessionStopped, s.Status())
}

func TestScheduler_FirstTickIsImmediate(t *testing.T) {
	a := &fakeRunner{name: "Warren"}
	b := &fakeRunner{name: "George"}
	s := NewScheduler([]Runner{a, b})

	require.NoError(t, s.Start(60, false))
	assert.Eventually(t, func() bool { return s.TickCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())

	require.NoError(t, s.Stop())
	waitStopped(t, s)
	assert.EqualValues(t, 1, s.TickCount())
}

func TestScheduler_StartAndStopErrors(t *testing.T) {
	s := NewScheduler(nil)

	assert.ErrorIs(t, s.Stop(), ferrors.ErrNotRunning)
	assert.ErrorIs(t, s.Start(0, false), ferrors.ErrConfigInvalid)

	require.NoError(t, s.Start(60, false))
	assert.ErrorIs(t, s.Start(5, false), ferrors.ErrAlreadyRunning)
	assert.Equal(t, models.SessionRunning, s.Status())

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ferrors.ErrNotRunning)
	waitStopped(t, s)

	// A stopped session can be started again.
	require.NoError(t, s.Start(60, true))
	info := s.Info()
	assert.Equal(t, 60, info.IntervalMinutes)
	assert.True(t, info.RunWhenClosed)
	require.NoError(t, s.Stop())
	waitStopped(t, s)
}

func TestScheduler_StopMidTickLetsCyclesFinish(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var cycleErr error
	slow := &fakeRunner{name: "Ray", run: func(ctx context.Context) error {
		close(entered)
		<-release
		cycleErr = ctx.Err()
		return nil
	}}
	s := NewScheduler([]Runner{slow}, WithIntervalUnit(time.Millisecond))

	require.NoError(t, s.Start(1, false))
	<-entered

	require.NoError(t, s.Stop())
	assert.Equal(t, models.SessionStopping, s.Status())
	assert.ErrorIs(t, s.Start(1, false), ferrors.ErrAlreadyRunning)

	select {
	case <-s.Done():
		t.Fatal("loop exited before the in-flight cycle finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	waitStopped(t, s)
	assert.NoError(t, cycleErr, "stop must not cancel the cycle")
	assert.EqualValues(t, 1, slow.calls.Load(), "no new tick after stop")
}

func TestScheduler_StopMidTickCompletesTraderOrders(t *testing.T) {
	store := activity.NewStore()
	account := ledger.NewAccount("Ray", decimal.NewFromInt(10000), ledger.WithRecorder(store))

	orders := []models.Order{
		{Symbol: "SPY", Side: models.OrderSideBuy, Quantity: 5, Price: decimal.NewFromInt(400)},
		{Symbol: "TLT", Side: models.OrderSideBuy, Quantity: 10, Price: decimal.NewFromInt(90)},
		{Symbol: "SPY", Side: models.OrderSideSell, Quantity: 2, Price: decimal.NewFromInt(405)},
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	var decisions atomic.Int32
	trader := agents.NewTrader(agents.Profile{Name: "Ray"}, account, agents.Dependencies{
		Decider: agents.DeciderFunc(func(context.Context, agents.DecisionRequest) (agents.Decision, error) {
			if decisions.Add(1) == 1 {
				close(entered)
			}
			<-release
			return agents.Decision{Orders: orders}, nil
		}),
		Prices: market.PriceFunc(func(_ context.Context, symbol string) (decimal.Decimal, error) {
			return decimal.NewFromInt(100), nil
		}),
		Recorder: store,
	})
	s := NewScheduler([]Runner{trader}, WithIntervalUnit(time.Millisecond), WithRecorder(store))

	require.NoError(t, s.Start(1, false))
	<-entered
	require.NoError(t, s.Stop())
	close(release)
	waitStopped(t, s)

	assert.EqualValues(t, 1, decisions.Load(), "no second tick after stop")
	assert.EqualValues(t, 1, s.TickCount())

	txs := account.Transactions()
	require.Len(t, txs, len(orders))
	for i, tx := range txs {
		assert.Equal(t, orders[i].Symbol, tx.Symbol)
		assert.Equal(t, orders[i].Side, tx.Side)
		assert.Equal(t, orders[i].Quantity, tx.Quantity)
	}
	assert.Equal(t, models.PhaseDone, trader.Phase())
	assert.Len(t, account.ValuationHistory(), len(orders)+1, "one point per order plus the cycle revaluation")
}

func TestScheduler_MarketClosedSkipsTick(t *testing.T) {
	store := activity.NewStore()
	account := ledger.NewAccount("Warren", decimal.NewFromInt(10000), ledger.WithRecorder(store))
	trader := agents.NewTrader(agents.Profile{Name: "Warren"}, account, agents.Dependencies{
		Decider: agents.DeciderFunc(func(context.Context, agents.DecisionRequest) (agents.Decision, error) {
			return agents.Decision{Orders: []models.Order{{Symbol: "AAPL", Side: models.OrderSideBuy, Quantity: 1, Price: decimal.NewFromInt(100)}}}, nil
		}),
		Recorder: store,
	})
	s := NewScheduler([]Runner{trader}, WithGate(closed), WithRecorder(store))

	require.NoError(t, s.Start(60, false))
	assert.Eventually(t, func() bool { return s.TickCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	waitStopped(t, s)

	assert.Empty(t, account.Transactions())
	entries := slices.Collect(store.Recent(0, ""))
	require.Len(t, entries, 1)
	assert.Equal(t, models.SystemTrader, entries[0].Trader)
	assert.Equal(t, models.CategoryTrace, entries[0].Category)
	assert.Equal(t, "skipped: market closed", entries[0].Message)
}

func TestScheduler_RunWhenClosedOverridesGate(t *testing.T) {
	r := &fakeRunner{name: "Cathie"}
	s := NewScheduler([]Runner{r}, WithGate(closed))

	require.NoError(t, s.Start(60, true))
	assert.Eventually(t, func() bool { return s.TickCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	waitStopped(t, s)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestScheduler_PanickingTraderDoesNotStopOthers(t *testing.T) {
	store := activity.NewStore()
	bad := &fakeRunner{name: "George", run: func(context.Context) error { panic("boom") }}
	good := &fakeRunner{name: "Warren"}
	s := NewScheduler([]Runner{bad, good}, WithRecorder(store))

	require.NoError(t, s.Start(60, false))
	assert.Eventually(t, func() bool { return s.TickCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	waitStopped(t, s)

	assert.EqualValues(t, 1, good.calls.Load())
	var found bool
	for e := range store.Recent(0, models.SystemTrader) {
		if strings.Contains(e.Message, "George panicked: boom") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestScheduler_TicksRepeatAndSettingsApplyNextTick(t *testing.T) {
	var mu sync.Mutex
	open := false
	gate := market.GateFunc(func(context.Context, time.Time) bool {
		mu.Lock()
		defer mu.Unlock()
		return open
	})
	r := &fakeRunner{name: "Ray"}
	s := NewScheduler([]Runner{r}, WithGate(gate), WithIntervalUnit(2*time.Millisecond))

	require.NoError(t, s.Start(1, false))
	assert.Eventually(t, func() bool { return s.TickCount() >= 3 }, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, 0, r.calls.Load())

	s.SetRunWhenClosed(true)
	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.SetInterval(5))
	assert.Error(t, s.SetInterval(0))
	assert.Equal(t, 5, s.Info().IntervalMinutes)

	require.NoError(t, s.Stop())
	waitStopped(t, s)
}

func TestScheduler_ContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler([]Runner{&fakeRunner{name: "Ray"}}, WithContext(ctx))

	require.NoError(t, s.Start(60, false))
	assert.Eventually(t, func() bool { return s.TickCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, s)
}
