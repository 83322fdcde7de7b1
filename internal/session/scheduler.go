// Package session runs the trading session: a tick loop that, while the market
// is open, fans out one run cycle per trader and waits for the batch before
// sleeping until the next tick.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trading-floor/internal/agents"
	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/market"
	"trading-floor/internal/models"
)

// Runner runs one cycle for a trader. *agents.Trader satisfies it.
type Runner interface {
	Name() string
	RunCycle(ctx context.Context) (agents.CycleResult, error)
}

// Recorder receives the scheduler's own activity entries.
type Recorder interface {
	Append(trader string, category models.Category, message string) models.LogEntry
}

// Info describes the session at one instant.
type Info struct {
	Status          models.SessionStatus `json:"status"`
	IntervalMinutes int                  `json:"interval_minutes"`
	RunWhenClosed   bool                 `json:"run_when_closed"`
	Ticks           uint64               `json:"ticks"`
	LastTick        time.Time            `json:"last_tick,omitempty"`
	Traders         int                  `json:"traders"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGate sets the market-hours gate. The default is market.AlwaysOpen.
func WithGate(g market.Gate) Option {
	return func(s *Scheduler) {
		s.gate = g
	}
}

// WithRecorder sends scheduler entries to r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithLogger sets the process logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l.With().Str("component", "scheduler").Logger()
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithIntervalUnit sets the length of one interval step. The default is a minute.
func WithIntervalUnit(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.unit = d
		}
	}
}

// WithContext sets the parent context of every cycle. Cancelling it ends the
// loop and the cycles in flight; Stop never does.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		s.ctx = ctx
	}
}

// Scheduler controls the trading session. At most one loop runs at a time.
type Scheduler struct {
	runners  []Runner
	gate     market.Gate
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
	unit     time.Duration
	ctx      context.Context

	mu            sync.Mutex
	status        models.SessionStatus
	interval      int
	runWhenClosed bool
	lastTick      time.Time
	wake          chan struct{}
	done          chan struct{}

	ticks atomic.Uint64
}

// NewScheduler creates a stopped scheduler over runners.
func NewScheduler(runners []Runner, opts ...Option) *Scheduler {
	done := make(chan struct{})
	close(done)
	s := &Scheduler{
		runners: append([]Runner(nil), runners...),
		gate:    market.AlwaysOpen,
		logger:  zerolog.Nop(),
		now:     time.Now,
		unit:    time.Minute,
		ctx:     context.Background(),
		status:  models.SessionStopped,
		done:    done,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the session. The first tick fires immediately; each later tick
// fires interval minutes after the previous tick's batch finished.
func (s *Scheduler) Start(interval int, runWhenClosed bool) error {
	if interval < 1 {
		return ferrors.NewValidationError("interval", interval, "must be at least 1 minute")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.SessionStopped {
		return fmt.Errorf("%w (status %s)", ferrors.ErrAlreadyRunning, s.status)
	}
	s.status = models.SessionRunning
	s.interval = interval
	s.runWhenClosed = runWhenClosed
	s.wake = make(chan struct{})
	s.done = make(chan struct{})

	s.logger.Info().
		Int("interval_minutes", interval).
		Bool("run_when_closed", runWhenClosed).
		Int("traders", len(s.runners)).
		Msg("Session started")

	go s.loop(s.wake, s.done)
	return nil
}

// Stop asks the session to end after the current tick. Cycles already running
// finish normally. The status is STOPPING until the loop exits.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.SessionRunning {
		return fmt.Errorf("%w (status %s)", ferrors.ErrNotRunning, s.status)
	}
	s.status = models.SessionStopping
	close(s.wake)
	s.logger.Info().Msg("Session stopping")
	return nil
}

// Status returns the session status.
func (s *Scheduler) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Info returns the status together with the current settings.
func (s *Scheduler) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Status:          s.status,
		IntervalMinutes: s.interval,
		RunWhenClosed:   s.runWhenClosed,
		Ticks:           s.ticks.Load(),
		LastTick:        s.lastTick,
		Traders:         len(s.runners),
	}
}

// SetInterval changes the interval used after the next tick.
func (s *Scheduler) SetInterval(interval int) error {
	if interval < 1 {
		return ferrors.NewValidationError("interval", interval, "must be at least 1 minute")
	}
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
	return nil
}

// SetRunWhenClosed changes the market-hours override from the next tick.
func (s *Scheduler) SetRunWhenClosed(v bool) {
	s.mu.Lock()
	s.runWhenClosed = v
	s.mu.Unlock()
}

// Done returns a channel closed when the current loop exits. It is already
// closed when the session is stopped.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the loop exits or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TickCount returns the number of completed ticks, skipped ones included.
func (s *Scheduler) TickCount() uint64 {
	return s.ticks.Load()
}

func (s *Scheduler) loop(wake <-chan struct{}, done chan<- struct{}) {
	defer func() {
		s.mu.Lock()
		s.status = models.SessionStopped
		s.mu.Unlock()
		close(done)
		s.logger.Info().Uint64("ticks", s.ticks.Load()).Msg("Session stopped")
	}()

	for {
		status, runWhenClosed := s.settings()
		if status != models.SessionRunning || s.ctx.Err() != nil {
			return
		}

		s.tick(runWhenClosed)

		// Re-read so an interval change made during the tick applies now.
		interval := s.intervalSetting()
		timer := time.NewTimer(time.Duration(interval) * s.unit)
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
			return
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) settings() (models.SessionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.runWhenClosed
}

func (s *Scheduler) intervalSetting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) tick(runWhenClosed bool) {
	now := s.now()
	n := s.ticks.Load() + 1
	defer func() {
		s.mu.Lock()
		s.lastTick = now
		s.mu.Unlock()
		s.ticks.Add(1)
	}()

	if !runWhenClosed && !s.gate.IsOpen(s.ctx, now) {
		s.logger.Info().Uint64("tick", n).Msg("Market closed, skipping tick")
		s.record("skipped: market closed")
		return
	}

	s.record(fmt.Sprintf("Tick %d: running %d traders", n, len(s.runners)))

	start := time.Now()
	var (
		wg       sync.WaitGroup
		failed   atomic.Int32
		accepted atomic.Int32
	)
	for _, r := range s.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			defer s.recoverPanic(r.Name(), &failed)

			res, err := r.RunCycle(s.ctx)
			if err != nil {
				failed.Add(1)
				s.logger.Warn().Err(err).Str("trader", r.Name()).Msg("Cycle failed")
				return
			}
			accepted.Add(int32(res.Accepted))
		}(r)
	}
	wg.Wait()

	s.logger.Info().
		Uint64("tick", n).
		Int("traders", len(s.runners)).
		Int32("failed", failed.Load()).
		Int32("orders_accepted", accepted.Load()).
		Dur("duration", time.Since(start)).
		Msg("Tick finished")
}

func (s *Scheduler) recoverPanic(trader string, failed *atomic.Int32) {
	if r := recover(); r != nil {
		failed.Add(1)
		s.logger.Error().Str("trader", trader).Interface("panic", r).Msg("Trader panicked")
		s.record(fmt.Sprintf("Trader %s panicked: %v", trader, r))
	}
}

func (s *Scheduler) record(message string) {
	if s.recorder != nil {
		s.recorder.Append(models.SystemTrader, models.CategoryTrace, message)
	}
}
