package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Simulated is a seeded random-walk price feed for paper sessions and tests.
// Each lookup moves the symbol's price by a normally distributed step of
// the configured volatility.
type Simulated struct {
	mu         sync.Mutex
	rng        *rand.Rand
	volatility float64
	prices     map[string]float64
}

var _ PriceLookup = (*Simulated)(nil)

// NewSimulated creates a feed. Symbols seen for the first time start at a
// price derived from their name, so runs with the same seed are reproducible.
func NewSimulated(seed int64, volatility float64) *Simulated {
	return &Simulated{
		rng:        rand.New(rand.NewSource(seed)),
		volatility: volatility,
		prices:     make(map[string]float64),
	}
}

// Set pins a symbol's current price.
func (s *Simulated) Set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(symbol)] = price
}

// Price returns the next step of the symbol's walk.
func (s *Simulated) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("empty symbol")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prices[symbol]
	if !ok {
		p = basePrice(symbol)
	} else if s.volatility > 0 {
		p *= 1 + s.volatility*s.rng.NormFloat64()
	}
	p = math.Max(p, 0.01)
	s.prices[symbol] = p

	return decimal.NewFromFloat(p).Round(2), nil
}

// basePrice maps a symbol to a stable starting price between 20 and 500.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return 20 + float64(h.Sum32()%48000)/100
}
