package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "trading-floor/internal/errors"
)

type fakePrices map[string]decimal.Decimal

func (f fakePrices) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := f[symbol]
	if !ok {
		return decimal.Zero, errors.New("no quote")
	}
	return p, nil
}

func TestRevalue_MarksToMarket(t *testing.T) {
	acct := NewAccount("Warren", dec(10000))
	ctx := context.Background()
	_, err := acct.Apply(ctx, buy("AAPL", 10, 150))
	require.NoError(t, err)
	_, err = acct.Apply(ctx, buy("MSFT", 2, 400))
	require.NoError(t, err)

	point, err := acct.Revalue(ctx, fakePrices{"AAPL": dec(160), "MSFT": dec(410)})
	require.NoError(t, err)

	// 10000 - 1500 - 800 + 1600 + 820
	assert.True(t, point.Value.Equal(dec(10120)), "value %s", point.Value)
	assert.Len(t, acct.ValuationHistory(), 3)
	assert.True(t, acct.ProfitLoss().Equal(dec(120)))

	p, ok := acct.LastPrice("aapl")
	require.True(t, ok)
	assert.True(t, p.Equal(dec(160)))
}

func TestRevalue_DegradedUsesLastKnownPrice(t *testing.T) {
	rec := &memRecorder{}
	acct := NewAccount("Ray", dec(1000), WithRecorder(rec))
	ctx := context.Background()
	_, err := acct.Apply(ctx, buy("GLD", 2, 100))
	require.NoError(t, err)

	point, err := acct.Revalue(ctx, fakePrices{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ferrors.ErrPriceUnavailable)
	assert.True(t, point.Value.Equal(dec(1000)), "priced at the fill: %s", point.Value)

	var found bool
	for _, e := range rec.entries {
		if strings.Contains(e.Message, "Degraded valuation") && strings.Contains(e.Message, "GLD") {
			found = true
		}
	}
	assert.True(t, found, "degraded valuation is logged")
}

func TestRevalue_OmitsHoldingWithoutAnyPrice(t *testing.T) {
	rec := &memRecorder{}
	acct := NewAccount("Ray", dec(1000), WithRecorder(rec))
	ctx := context.Background()
	_, err := acct.Apply(ctx, buy("GLD", 2, 100))
	require.NoError(t, err)

	// A holding with no fill price behind it.
	acct.mu.Lock()
	acct.holdings["SLV"] = 5
	acct.mu.Unlock()

	point, err := acct.Revalue(ctx, fakePrices{"GLD": dec(110)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ferrors.ErrPriceUnavailable)
	assert.ErrorContains(t, err, "SLV")
	// 800 cash + 2 GLD at 110; SLV contributes nothing.
	assert.True(t, point.Value.Equal(dec(1020)), "value %s", point.Value)

	var omitted, degraded bool
	for _, e := range rec.entries {
		if strings.Contains(e.Message, "Valuation omits SLV: no price available") {
			omitted = true
		}
		if strings.Contains(e.Message, "Degraded valuation") {
			degraded = true
		}
	}
	assert.True(t, omitted, "omitted holding is logged")
	assert.False(t, degraded, "GLD was quoted fresh")
}

func TestRevalue_HistoryOnlyGrows(t *testing.T) {
	acct := NewAccount("Cathie", dec(500))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := acct.Revalue(ctx, nil)
		require.NoError(t, err)
		hist := acct.ValuationHistory()
		require.Len(t, hist, i)
		for j := 1; j < len(hist); j++ {
			assert.False(t, hist[j].Timestamp.Before(hist[j-1].Timestamp))
		}
	}
}
