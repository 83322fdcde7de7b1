// Package floor wires the trading floor together and exposes the operations
// used by the CLI: session control, account snapshots and the activity log.
package floor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"trading-floor/internal/activity"
	"trading-floor/internal/agents"
	"trading-floor/internal/config"
	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/ledger"
	"trading-floor/internal/market"
	"trading-floor/internal/models"
	"trading-floor/internal/resilience"
	"trading-floor/internal/session"
	"trading-floor/internal/store"
)

// DefaultRecentLogs is how many entries RecentLogs returns when no limit is given.
const DefaultRecentLogs = 13

// TracerName names the tracer used for cycle spans.
const TracerName = "trading-floor/agents"

// Option configures a Floor.
type Option func(*options)

type options struct {
	logger       zerolog.Logger
	prices       market.PriceLookup
	gate         market.Gate
	researcher   agents.Researcher
	decider      agents.Decider
	intervalUnit time.Duration
	now          func() time.Time
}

// WithLogger sets the process logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPrices replaces the configured price source.
func WithPrices(p market.PriceLookup) Option {
	return func(o *options) { o.prices = p }
}

// WithGate replaces the configured market-hours gate.
func WithGate(g market.Gate) Option {
	return func(o *options) { o.gate = g }
}

// WithResearcher replaces the configured research collaborator for every trader.
func WithResearcher(r agents.Researcher) Option {
	return func(o *options) { o.researcher = r }
}

// WithDecider replaces every trader's decision collaborator.
func WithDecider(d agents.Decider) Option {
	return func(o *options) { o.decider = d }
}

// WithIntervalUnit shortens or lengthens one interval step (a minute by default).
func WithIntervalUnit(d time.Duration) Option {
	return func(o *options) { o.intervalUnit = d }
}

// WithClock overrides time.Now for accounts, traders, the log and the scheduler.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// TraderStatus is the per-trader line shown by the CLI.
type TraderStatus struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Model       string            `json:"model"`
	Strategy    string            `json:"strategy"`
	Mode        models.Mode       `json:"mode"`
	Phase       models.CyclePhase `json:"phase"`
	Value       string            `json:"value"`
	ProfitLoss  string            `json:"profit_loss"`
	Completed   int               `json:"completed_cycles"`
	Failed      int               `json:"failed_cycles"`
}

// Floor owns every trader, the activity log and the session scheduler.
type Floor struct {
	cfg    *config.Config
	logger zerolog.Logger

	log       *activity.Store
	tracer    *sdktrace.TracerProvider
	archive   *store.SQLiteArchive
	writer    *store.Writer
	prices    market.PriceLookup
	gate      market.Gate
	now       func() time.Time
	breaker   *resilience.CircuitBreaker
	polygon   *market.PolygonClient
	traders   []*agents.Trader
	byName    map[string]*agents.Trader
	scheduler *session.Scheduler

	cancel context.CancelFunc
}

// New builds a floor from cfg. Only configuration problems are fatal.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Floor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(ctx)
	f := &Floor{
		cfg:    cfg,
		now:    o.now,
		logger: o.logger.With().Str("component", "floor").Logger(),
		byName: make(map[string]*agents.Trader, len(cfg.Traders)),
		cancel: cancel,
	}

	ok := false
	defer func() {
		if !ok {
			f.release(context.Background())
		}
	}()

	var observers []ledger.Observer
	logOpts := []activity.Option{activity.WithRetention(cfg.Session.LogRetention), activity.WithClock(o.now)}
	if cfg.Archive.Enabled {
		if err := f.openArchive(); err != nil {
			return nil, err
		}
		logOpts = append(logOpts, activity.WithSink(f.writer))
		observers = append(observers, f.writer)
	}
	f.log = activity.NewStore(logOpts...)

	if err := f.startTracing(); err != nil {
		return nil, err
	}

	prices := o.prices
	if prices == nil {
		p, err := f.buildPrices()
		if err != nil {
			return nil, err
		}
		prices = p
	}
	f.prices = prices

	gate := o.gate
	if gate == nil {
		g, err := f.buildGate()
		if err != nil {
			return nil, err
		}
		gate = g
	}
	f.gate = gate

	researcher := o.researcher
	if researcher == nil {
		researcher = f.buildResearcher()
	}

	tracer := f.tracer.Tracer(TracerName)
	runners := make([]session.Runner, 0, len(cfg.Traders))
	for _, tc := range cfg.Traders {
		accountOpts := []ledger.AccountOption{
			ledger.WithStrategy(tc.Strategy),
			ledger.WithRecorder(f.log),
			ledger.WithClock(o.now),
		}
		for _, obs := range observers {
			accountOpts = append(accountOpts, ledger.WithObserver(obs))
		}
		account := ledger.NewAccount(tc.Name, tc.Balance(), accountOpts...)

		decider := o.decider
		if decider == nil {
			decider = f.buildDecider(tc)
		}

		trader := agents.NewTrader(agents.Profile{
			Name:     tc.Name,
			Lastname: tc.Lastname,
			Model:    tc.Model,
			Strategy: tc.Strategy,
			Targets:  tc.Targets,
		}, account, agents.Dependencies{
			Researcher: researcher,
			Decider:    decider,
			Prices:     prices,
			Recorder:   f.log,
			Tracer:     tracer,
			Logger:     o.logger,
		}, agents.WithCycleTimeout(cfg.Session.CycleTimeout), agents.WithClock(o.now))

		f.traders = append(f.traders, trader)
		f.byName[strings.ToLower(tc.Name)] = trader
		runners = append(runners, trader)
	}

	f.scheduler = session.NewScheduler(runners,
		session.WithGate(gate),
		session.WithRecorder(f.log),
		session.WithLogger(o.logger),
		session.WithClock(o.now),
		session.WithIntervalUnit(o.intervalUnit),
		session.WithContext(ctx),
	)

	f.logger.Info().
		Int("traders", len(f.traders)).
		Str("prices", cfg.Prices.Source).
		Str("research", cfg.Research.Source).
		Bool("archive", cfg.Archive.Enabled).
		Msg("Trading floor ready")

	ok = true
	return f, nil
}

func (f *Floor) openArchive() error {
	archive, err := store.NewSQLiteArchive(f.cfg.Archive.ResolvedPath())
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	f.archive = archive
	f.writer = store.NewWriter(archive, store.DefaultWriterConfig(), f.logger)
	return nil
}

func (f *Floor) startTracing() error {
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSpanProcessor(activity.NewSpanRecorder(f.log)),
	}
	if f.cfg.Tracing.Stdout {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	f.tracer = sdktrace.NewTracerProvider(tpOpts...)
	return nil
}

// StartSession starts the scheduler. A non-positive interval uses the
// configured default.
func (f *Floor) StartSession(interval int, runWhenClosed bool) (string, error) {
	if interval <= 0 {
		interval = f.cfg.Session.IntervalMinutes
	}
	if err := f.scheduler.Start(interval, runWhenClosed); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Session started: %d traders every %d minutes", len(f.traders), interval)
	if runWhenClosed {
		msg += ", running while the market is closed"
	}
	return msg, nil
}

// StopSession asks the scheduler to stop after the current tick.
func (f *Floor) StopSession() (string, error) {
	if err := f.scheduler.Stop(); err != nil {
		return "", err
	}
	return "Session stopping: cycles in progress will finish", nil
}

// SessionStatus returns the scheduler's state and settings.
func (f *Floor) SessionStatus() session.Info {
	return f.scheduler.Info()
}

// WaitSession blocks until the session loop exits or ctx is done.
func (f *Floor) WaitSession(ctx context.Context) error {
	return f.scheduler.Wait(ctx)
}

// AccountSnapshot returns the named trader's account.
func (f *Floor) AccountSnapshot(trader string) (models.AccountSnapshot, error) {
	t, err := f.trader(trader)
	if err != nil {
		return models.AccountSnapshot{}, err
	}
	return t.Snapshot(ledger.DefaultRecentTransactions), nil
}

// RecentLogs returns the newest limit entries in chronological order. An empty
// trader returns entries from everyone; "system" selects scheduler entries.
func (f *Floor) RecentLogs(limit int, trader string) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLogs
	}
	name := trader
	if trader != "" && !strings.EqualFold(trader, models.SystemTrader) {
		t, err := f.trader(trader)
		if err != nil {
			return nil, err
		}
		name = t.Name()
	} else if trader != "" {
		name = models.SystemTrader
	}
	return slices.Collect(f.log.Recent(limit, name)), nil
}

// ValuationHistory returns the named trader's valuation time series.
func (f *Floor) ValuationHistory(trader string) ([]models.ValuationPoint, error) {
	t, err := f.trader(trader)
	if err != nil {
		return nil, err
	}
	return t.ValuationHistory(), nil
}

// Traders returns every trader's status in configuration order.
func (f *Floor) Traders() []TraderStatus {
	out := make([]TraderStatus, 0, len(f.traders))
	for _, t := range f.traders {
		snap := t.Snapshot(0)
		completed, failed := t.Stats()
		p := t.Profile()
		out = append(out, TraderStatus{
			Name:        t.Name(),
			DisplayName: t.DisplayName(),
			Model:       p.Model,
			Strategy:    p.Strategy,
			Mode:        t.Mode(),
			Phase:       t.Phase(),
			Value:       snap.Value.StringFixed(2),
			ProfitLoss:  snap.ProfitLoss.StringFixed(2),
			Completed:   completed,
			Failed:      failed,
		})
	}
	return out
}

// Subscribe streams every new activity entry until cancel is called.
func (f *Floor) Subscribe(buffer int) (<-chan models.LogEntry, func()) {
	return f.log.Subscribe(buffer)
}

// Archive returns the SQLite archive, or nil when it is disabled.
func (f *Floor) Archive() store.Archive {
	if f.archive == nil {
		return nil
	}
	return f.archive
}

// RunID returns the archive run identifier, or "" when the archive is disabled.
func (f *Floor) RunID() string {
	if f.writer == nil {
		return ""
	}
	return f.writer.RunID()
}

// Breaker returns the price-feed circuit breaker, or nil when prices were
// supplied by the caller.
func (f *Floor) Breaker() *resilience.CircuitBreaker {
	return f.breaker
}

// Close stops the session, waits for in-flight cycles (bounded by ctx),
// flushes spans and the archive and releases resources.
func (f *Floor) Close(ctx context.Context) error {
	var errs []error
	if f.scheduler.Status() == models.SessionRunning {
		_ = f.scheduler.Stop()
	}
	if err := f.scheduler.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for session: %w", err))
	}
	errs = append(errs, f.release(ctx))
	return errors.Join(errs...)
}

func (f *Floor) release(ctx context.Context) error {
	f.cancel()

	var errs []error
	if f.tracer != nil {
		if err := f.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer: %w", err))
		}
		f.tracer = nil
	}
	if f.writer != nil {
		if err := f.writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.archive != nil {
		if err := f.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing archive: %w", err))
		}
		f.archive = nil
	}
	return errors.Join(errs...)
}

func (f *Floor) trader(name string) (*agents.Trader, error) {
	t, ok := f.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ferrors.ErrTraderNotFound, name)
	}
	return t, nil
}
