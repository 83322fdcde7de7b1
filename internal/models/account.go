package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a symbol and the quantity held.
type Holding struct {
	Symbol   string
	Quantity int
}

// ValuationPoint is one mark-to-market observation of an account.
type ValuationPoint struct {
	Timestamp time.Time
	Value     decimal.Decimal
}

// AccountSnapshot is a read-only view of an account at one instant.
type AccountSnapshot struct {
	Trader         string
	Strategy       string
	InitialBalance decimal.Decimal
	Cash           decimal.Decimal
	Holdings       map[string]int
	Transactions   []Transaction // most recent last
	Value          decimal.Decimal
	ProfitLoss     decimal.Decimal
	TakenAt        time.Time
}

// SortedHoldings returns the holdings ordered by symbol.
func (s AccountSnapshot) SortedHoldings() []Holding {
	out := make([]Holding, 0, len(s.Holdings))
	for sym, qty := range s.Holdings {
		out = append(out, Holding{Symbol: sym, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
