package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/models"
	"trading-floor/pkg/utils"
)

// PriceLookup quotes the current price of a symbol.
type PriceLookup interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Revalue marks the account to market and appends one valuation point.
//
// Quotes are fetched without holding the account lock. A symbol whose lookup
// fails is valued at its last-known price (a degraded valuation); a symbol with
// no known price at all is left out. Both cases are logged. The point is always
// recorded; the returned error, wrapping ErrPriceUnavailable, lists the
// symbols that could not be quoted.
func (a *Account) Revalue(ctx context.Context, prices PriceLookup) (models.ValuationPoint, error) {
	a.mu.RLock()
	symbols := make([]string, 0, len(a.holdings))
	for sym := range a.holdings {
		symbols = append(symbols, sym)
	}
	a.mu.RUnlock()
	sort.Strings(symbols)

	quotes := make(map[string]decimal.Decimal, len(symbols))
	var lookupErrs []error
	for _, sym := range symbols {
		if prices == nil {
			lookupErrs = append(lookupErrs, fmt.Errorf("%s: no price source", sym))
			continue
		}
		p, err := prices.Price(ctx, sym)
		if err == nil && !p.IsPositive() {
			err = fmt.Errorf("non-positive quote %s", p)
		}
		if err != nil {
			lookupErrs = append(lookupErrs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		quotes[sym] = p
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for sym, p := range quotes {
		a.lastPrice[sym] = p
	}

	var degraded, omitted []string
	total := a.cash
	for sym, qty := range a.holdings {
		price, ok := a.lastPrice[sym]
		if !ok {
			// Apply records a fill price with every holding, so this needs a
			// holding that never went through Apply.
			omitted = append(omitted, sym)
			continue
		}
		if _, fresh := quotes[sym]; !fresh {
			degraded = append(degraded, sym)
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(qty))))
	}
	sort.Strings(degraded)
	sort.Strings(omitted)

	if len(degraded) > 0 {
		a.record(models.CategoryAccount, fmt.Sprintf("Degraded valuation: using last known price for %s",
			strings.Join(degraded, ", ")))
	}
	if len(omitted) > 0 {
		a.record(models.CategoryAccount, fmt.Sprintf("Valuation omits %s: no price available",
			strings.Join(omitted, ", ")))
	}

	point := a.appendValuationLocked(a.stampLocked(), total)
	a.record(models.CategoryAccount, fmt.Sprintf("Portfolio value %s (P&L %s)",
		utils.FormatMoney(total), utils.FormatPnL(total.Sub(a.initial))))

	if len(lookupErrs) > 0 {
		return point, fmt.Errorf("%w: %w", ferrors.ErrPriceUnavailable, errors.Join(lookupErrs...))
	}
	return point, nil
}

func (a *Account) appendValuationLocked(ts time.Time, value decimal.Decimal) models.ValuationPoint {
	point := models.ValuationPoint{Timestamp: ts, Value: value}
	a.valuations = append(a.valuations, point)
	for _, o := range a.observers {
		o.RecordValuation(a.name, point)
	}
	return point
}

// ValuationHistory returns a copy of the valuation time series, oldest first.
func (a *Account) ValuationHistory() []models.ValuationPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.ValuationPoint(nil), a.valuations...)
}

// ProfitLoss returns the latest valuation minus the initial balance. Before any
// valuation it is the cash-only difference, which is zero for a fresh account.
func (a *Account) ProfitLoss() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n := len(a.valuations); n > 0 {
		return a.valuations[n-1].Value.Sub(a.initial)
	}
	return a.markLocked().Sub(a.initial)
}
