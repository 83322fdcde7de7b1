package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-floor/internal/ledger"
	"trading-floor/internal/models"
)

// Feature: trading-floor, Property 3: Decision mode alternation
//
// Property: For any sequence of cycle outcomes, each successful cycle uses the
// mode opposite to the previous successful cycle, starting with trade, and
// failed cycles never change the mode.
func TestProperty_ModeAlternatesAcrossSuccessfulCycles(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("successful cycles alternate trade and rebalance", prop.ForAll(
		func(outcomes []bool) bool {
			var seen []models.Mode
			i := 0
			trader := NewTrader(Profile{Name: "prop"}, ledger.NewAccount("prop", decimal.NewFromInt(100)), Dependencies{
				Researcher: ResearcherFunc(func(context.Context, models.ResearchRequest) (string, error) {
					ok := outcomes[i]
					i++
					if !ok {
						return "", errors.New("research down")
					}
					return "", nil
				}),
				Decider: DeciderFunc(func(_ context.Context, req DecisionRequest) (Decision, error) {
					seen = append(seen, req.Mode)
					return Decision{}, nil
				}),
				Logger: zerolog.Nop(),
			})

			for range outcomes {
				_, _ = trader.RunCycle(context.Background())
			}

			for n, mode := range seen {
				want := models.ModeTrade
				if n%2 == 1 {
					want = models.ModeRebalance
				}
				if mode != want {
					return false
				}
			}

			next := models.ModeTrade
			if len(seen)%2 == 1 {
				next = models.ModeRebalance
			}
			return trader.Mode() == next
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
