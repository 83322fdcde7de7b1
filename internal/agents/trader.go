package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"trading-floor/internal/activity"
	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/ledger"
	"trading-floor/internal/logging"
	"trading-floor/internal/models"
	"trading-floor/pkg/utils"
)

// DefaultCycleTimeout bounds one cycle when no timeout is configured.
const DefaultCycleTimeout = 5 * time.Minute

// Profile is a trader's static identity.
type Profile struct {
	Name     string
	Lastname string
	Model    string // opaque model/provider reference
	Strategy string
	Targets  map[string]float64
}

// Dependencies are the collaborators a trader uses during a cycle.
type Dependencies struct {
	Researcher Researcher
	Decider    Decider
	Prices     PriceLookup
	Recorder   ledger.Recorder
	Tracer     trace.Tracer
	Logger     zerolog.Logger
}

// Option configures a Trader.
type Option func(*Trader)

// WithCycleTimeout bounds each cycle. Zero or negative disables the bound.
func WithCycleTimeout(d time.Duration) Option {
	return func(t *Trader) {
		t.timeout = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Trader) {
		t.now = now
	}
}

// Trader owns one account and runs its cycles.
//
// The account is reachable only through the trader: other code reads it via
// Snapshot and ValuationHistory, and only RunCycle submits orders.
type Trader struct {
	profile Profile
	account *ledger.Account
	deps    Dependencies
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	cycleMu sync.Mutex // held for the duration of a cycle

	mu        sync.RWMutex
	mode      models.Mode
	phase     models.CyclePhase
	completed int
	failed    int
	last      CycleResult
}

// NewTrader creates a trader in trade mode owning account.
func NewTrader(profile Profile, account *ledger.Account, deps Dependencies, opts ...Option) *Trader {
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	t := &Trader{
		profile: profile,
		account: account,
		deps:    deps,
		timeout: DefaultCycleTimeout,
		now:     time.Now,
		logger:  logging.WithTrader(deps.Logger, profile.Name),
		mode:    models.ModeTrade,
		phase:   models.PhaseIdle,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the trader's name.
func (t *Trader) Name() string { return t.profile.Name }

// Profile returns the trader's static identity.
func (t *Trader) Profile() Profile { return t.profile }

// DisplayName returns "Name Lastname".
func (t *Trader) DisplayName() string {
	return strings.TrimSpace(t.profile.Name + " " + t.profile.Lastname)
}

// Mode returns the mode the next cycle will use.
func (t *Trader) Mode() models.Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

// Phase returns the current cycle phase. Between cycles it is the terminal
// phase of the last cycle, or IDLE before the first.
func (t *Trader) Phase() models.CyclePhase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

// Stats returns the number of completed and failed cycles.
func (t *Trader) Stats() (completed, failed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completed, t.failed
}

// LastResult returns the outcome of the most recent cycle.
func (t *Trader) LastResult() CycleResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// Snapshot returns a read-only view of the trader's account.
func (t *Trader) Snapshot(lastN int) models.AccountSnapshot {
	return t.account.Snapshot(lastN)
}

// ValuationHistory returns the account's valuation time series.
func (t *Trader) ValuationHistory() []models.ValuationPoint {
	return t.account.ValuationHistory()
}

func (t *Trader) setPhase(p models.CyclePhase) {
	t.mu.Lock()
	t.phase = p
	t.mu.Unlock()
}

func (t *Trader) record(category models.Category, message string) {
	if t.deps.Recorder != nil {
		t.deps.Recorder.Append(t.profile.Name, category, message)
	}
}

// RunCycle runs one cycle: research, decide, execute, revalue.
//
// Research or decision failures, a cycle timeout and panics end the cycle in
// FAILED without touching the ledger beyond orders already applied, and are
// returned as *errors.AgentError. Individual order rejections are logged and
// do not fail the cycle. The decision mode flips only after a DONE cycle.
func (t *Trader) RunCycle(ctx context.Context) (res CycleResult, err error) {
	if !t.cycleMu.TryLock() {
		return CycleResult{Trader: t.profile.Name}, ErrCycleInProgress
	}
	defer t.cycleMu.Unlock()

	mode := t.Mode()
	res = CycleResult{Trader: t.profile.Name, Mode: mode, Started: t.now()}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	ctx = logging.WithLogger(ctx, t.logger)

	ctx, span := t.deps.Tracer.Start(ctx, fmt.Sprintf("%s cycle", mode),
		activity.SpanLabels(t.profile.Name, models.CategoryTrace))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			res, err = t.fail(span, res, "cycle", fmt.Errorf("panic: %v", r))
		}
		logging.LogCycle(t.logger, string(res.Mode), string(res.Phase), res.Orders, res.Rejected, res.Duration(), err)
	}()

	t.setPhase(models.PhaseResearching)
	t.record(models.CategoryAgent, fmt.Sprintf("%s starting %s cycle", t.DisplayName(), mode))

	summary, err := t.research(ctx, mode)
	if err != nil {
		return t.fail(span, res, "research", err)
	}

	t.setPhase(models.PhaseDeciding)
	decision, err := t.decide(ctx, mode, summary)
	if err != nil {
		return t.fail(span, res, "decide", err)
	}

	t.setPhase(models.PhaseExecuting)
	res.Orders = len(decision.Orders)
	for _, order := range decision.Orders {
		if ctx.Err() != nil {
			return t.fail(span, res, "execute", ctx.Err())
		}
		if t.execute(ctx, order) {
			res.Accepted++
		} else {
			res.Rejected++
		}
	}

	if ctx.Err() != nil {
		return t.fail(span, res, "execute", ctx.Err())
	}
	if _, verr := t.account.Revalue(ctx, t.deps.Prices); verr != nil {
		t.logger.Warn().Err(verr).Msg("Valuation used stale or missing prices")
	}
	if ctx.Err() != nil {
		return t.fail(span, res, "revalue", ctx.Err())
	}

	t.mu.Lock()
	t.phase = models.PhaseDone
	t.mode = mode.Next()
	t.completed++
	res.Phase = models.PhaseDone
	res.Finished = t.now()
	t.last = res
	t.mu.Unlock()

	t.record(models.CategoryTrace, fmt.Sprintf("Completed %s cycle: %d accepted, %d rejected",
		mode, res.Accepted, res.Rejected))
	return res, nil
}

func (t *Trader) research(ctx context.Context, mode models.Mode) (string, error) {
	if t.deps.Researcher == nil {
		return "", nil
	}
	ctx, span := t.deps.Tracer.Start(ctx, "research", activity.SpanLabels(t.profile.Name, models.CategoryFunction))
	defer span.End()

	snap := t.account.Snapshot(0)
	req := models.ResearchRequest{
		Trader:   t.profile.Name,
		Strategy: t.profile.Strategy,
		Mode:     mode,
		Symbols:  t.symbolsOfInterest(snap),
		At:       t.now(),
	}
	summary, err := await(ctx, func() (string, error) {
		return t.deps.Researcher.Research(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return summary, nil
}

func (t *Trader) decide(ctx context.Context, mode models.Mode, summary string) (Decision, error) {
	if t.deps.Decider == nil {
		return Decision{}, errors.New("no decider configured")
	}
	ctx, span := t.deps.Tracer.Start(ctx, "decide", activity.SpanLabels(t.profile.Name, models.CategoryGeneration))
	defer span.End()

	req := DecisionRequest{
		Trader:   t.profile.Name,
		Strategy: t.profile.Strategy,
		Mode:     mode,
		Summary:  summary,
		Snapshot: t.account.Snapshot(ledger.DefaultRecentTransactions),
		Targets:  t.profile.Targets,
	}
	decision, err := await(ctx, func() (Decision, error) {
		return t.deps.Decider.Decide(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}

	t.record(models.CategoryResponse, describeDecision(decision))
	return decision, nil
}

// execute fills a market-price order and applies it. It reports whether the
// ledger accepted the order.
func (t *Trader) execute(ctx context.Context, order models.Order) bool {
	if order.Price.IsZero() && order.Quantity > 0 {
		if t.deps.Prices == nil {
			t.record(models.CategoryAccount, fmt.Sprintf("Rejected %s %d %s: no price source", order.Side, order.Quantity, order.Symbol))
			return false
		}
		price, err := t.deps.Prices.Price(ctx, order.Symbol)
		if err != nil {
			t.record(models.CategoryAccount, fmt.Sprintf("Rejected %s %d %s: %v", order.Side, order.Quantity, order.Symbol, err))
			return false
		}
		order.Price = price
	}

	_, err := t.account.Apply(ctx, order)
	return err == nil
}

// await runs a collaborator call on its own goroutine and returns when it
// finishes or ctx is done, whichever comes first. A call that ignores ctx is
// abandoned; its result is discarded. Collaborators never touch the ledger, so
// an abandoned call cannot leave it half-updated.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && ctx.Err() != nil {
			var zero T
			return zero, ctx.Err()
		}
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (t *Trader) fail(span trace.Span, res CycleResult, stage string, cause error) (CycleResult, error) {
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("%w: %w", ferrors.ErrTimeout, cause)
	}
	err := ferrors.NewAgentError(t.profile.Name, stage, cause)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	t.mu.Lock()
	t.phase = models.PhaseFailed
	t.failed++
	res.Phase = models.PhaseFailed
	res.Finished = t.now()
	res.Err = err
	t.last = res
	t.mu.Unlock()

	t.record(models.CategoryTrace, fmt.Sprintf("Cycle failed during %s: %v", stage, cause))
	return res, err
}

// symbolsOfInterest returns held and targeted symbols, sorted.
func (t *Trader) symbolsOfInterest(snap models.AccountSnapshot) []string {
	set := make(map[string]bool, len(snap.Holdings)+len(t.profile.Targets))
	for sym := range snap.Holdings {
		set[sym] = true
	}
	for sym := range t.profile.Targets {
		set[sym] = true
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func describeDecision(d Decision) string {
	var b strings.Builder
	if d.Summary != "" {
		b.WriteString(utils.Truncate(d.Summary, 500))
	} else {
		b.WriteString("Decision")
	}
	if len(d.Orders) == 0 {
		b.WriteString(" | no orders")
		return b.String()
	}
	orders := make([]string, len(d.Orders))
	for i, o := range d.Orders {
		orders[i] = fmt.Sprintf("%s %d %s", o.Side, o.Quantity, o.Symbol)
	}
	b.WriteString(" | orders: ")
	b.WriteString(strings.Join(orders, ", "))
	return b.String()
}
