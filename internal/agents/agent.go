// Package agents provides the traders and the run cycle that takes each one
// from research through decision to executed orders.
package agents

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"trading-floor/internal/models"
)

// ErrCycleInProgress is returned when a trader is asked to start a cycle while
// its previous one is still running.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Researcher produces a best-effort market summary for a trader.
type Researcher interface {
	Research(ctx context.Context, req models.ResearchRequest) (string, error)
}

// ResearcherFunc adapts a function to Researcher.
type ResearcherFunc func(ctx context.Context, req models.ResearchRequest) (string, error)

// Research calls f.
func (f ResearcherFunc) Research(ctx context.Context, req models.ResearchRequest) (string, error) {
	return f(ctx, req)
}

// DecisionRequest is everything a Decider sees.
type DecisionRequest struct {
	Trader   string
	Strategy string
	Mode     models.Mode
	Summary  string
	Snapshot models.AccountSnapshot
	Targets  map[string]float64 // symbol -> portfolio weight, used by rebalance mode
}

// Decision is the ordered list of intended orders plus the decider's own
// account of why.
type Decision struct {
	Orders  []models.Order
	Summary string
}

// Decider turns research and the account state into intended orders.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req DecisionRequest) (Decision, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	return f(ctx, req)
}

// PriceLookup quotes the current price of a symbol.
type PriceLookup interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CycleResult summarises one run cycle.
type CycleResult struct {
	Trader   string
	Mode     models.Mode
	Phase    models.CyclePhase // terminal: DONE or FAILED
	Started  time.Time
	Finished time.Time
	Orders   int
	Accepted int
	Rejected int
	Err      error
}

// Duration returns how long the cycle took.
func (r CycleResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
