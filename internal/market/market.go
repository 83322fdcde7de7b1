// Package market provides the market-hours gate and price-lookup
// collaborators consumed by the scheduler and the traders.
package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Gate reports whether the market is open at a given instant.
type Gate interface {
	IsOpen(ctx context.Context, now time.Time) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, now time.Time) bool

// IsOpen calls f.
func (f GateFunc) IsOpen(ctx context.Context, now time.Time) bool {
	return f(ctx, now)
}

// AlwaysOpen is a Gate that never closes.
var AlwaysOpen Gate = GateFunc(func(context.Context, time.Time) bool { return true })

// PriceLookup quotes the current price of a symbol.
type PriceLookup interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceFunc adapts a function to PriceLookup.
type PriceFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// Price calls f.
func (f PriceFunc) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}
