package market

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/resilience"
)

// Guarded wraps a PriceLookup with a circuit breaker so a failing feed is
// short-circuited instead of slowing every cycle down.
type Guarded struct {
	inner   PriceLookup
	breaker *resilience.CircuitBreaker
}

var _ PriceLookup = (*Guarded)(nil)

// NewGuarded wraps inner with breaker.
func NewGuarded(inner PriceLookup, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{inner: inner, breaker: breaker}
}

// Price quotes symbol through the breaker. Failures wrap ErrPriceUnavailable.
func (g *Guarded) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := resilience.ExecuteWithResult(g.breaker, ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return g.inner.Price(ctx, symbol)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", ferrors.ErrPriceUnavailable, symbol, err)
	}
	return price, nil
}

// Breaker returns the underlying circuit breaker.
func (g *Guarded) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
