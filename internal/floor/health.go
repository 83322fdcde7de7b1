package floor

import (
	"context"
	"fmt"
	"slices"

	"trading-floor/internal/resilience"
)

// defaultProbeSymbol is priced when no trader has allocation targets.
const defaultProbeSymbol = "SPY"

// Health probes the floor's collaborators: the price source, the market gate
// and, when enabled, the archive and its writer.
func (f *Floor) Health(ctx context.Context) resilience.SystemHealth {
	checker := resilience.NewHealthChecker(resilience.DefaultHealthCheckerConfig())
	checker.Register("prices", f.checkPrices)
	checker.Register("market", f.checkMarket)
	if f.archive != nil {
		checker.Register("archive", f.checkArchive)
		checker.Register("writer", f.checkWriter)
	}
	return checker.Check(ctx)
}

func (f *Floor) checkPrices(ctx context.Context) resilience.ComponentHealth {
	if f.breaker != nil && f.breaker.State() == resilience.CircuitOpen {
		return resilience.ComponentHealth{
			Status:  resilience.HealthStatusDegraded,
			Message: "price circuit breaker is open",
			Details: map[string]any{"source": f.cfg.Prices.Source},
		}
	}

	symbol := f.probeSymbol()
	price, err := f.prices.Price(ctx, symbol)
	if err != nil {
		return resilience.ComponentHealth{
			Status:  resilience.HealthStatusUnhealthy,
			Message: fmt.Sprintf("pricing %s: %v", symbol, err),
		}
	}
	return resilience.ComponentHealth{
		Message: fmt.Sprintf("%s at %s", symbol, price.StringFixed(2)),
		Details: map[string]any{"source": f.cfg.Prices.Source},
	}
}

func (f *Floor) checkMarket(ctx context.Context) resilience.ComponentHealth {
	state := "closed"
	if f.gate.IsOpen(ctx, f.now()) {
		state = "open"
	}
	return resilience.ComponentHealth{
		Message: "market is " + state,
		Details: map[string]any{"source": f.cfg.Market.Source},
	}
}

func (f *Floor) checkArchive(ctx context.Context) resilience.ComponentHealth {
	if _, err := f.archive.GetRuns(ctx, 1); err != nil {
		return resilience.ComponentHealth{
			Status:  resilience.HealthStatusUnhealthy,
			Message: err.Error(),
		}
	}
	return resilience.ComponentHealth{Message: f.cfg.Archive.ResolvedPath()}
}

func (f *Floor) checkWriter(ctx context.Context) resilience.ComponentHealth {
	written, dropped, failed := f.writer.Stats()
	health := resilience.ComponentHealth{
		Message: fmt.Sprintf("%d records written", written),
		Details: map[string]any{"written": written, "dropped": dropped, "failed": failed},
	}
	if dropped > 0 || failed > 0 {
		health.Status = resilience.HealthStatusDegraded
		health.Message = fmt.Sprintf("%d records dropped, %d failed", dropped, failed)
	}
	return health
}

// probeSymbol returns the alphabetically first allocation target, if any.
func (f *Floor) probeSymbol() string {
	var symbols []string
	for _, tc := range f.cfg.Traders {
		for sym := range tc.Targets {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return defaultProbeSymbol
	}
	return slices.Min(symbols)
}
