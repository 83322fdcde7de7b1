package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// ltpClient is the part of the Kite client used for quotes.
type ltpClient interface {
	GetLTP(instruments ...string) (kiteconnect.QuoteLTP, error)
}

// KiteQuotes quotes last traded prices through Zerodha Kite Connect.
// Symbols are looked up as "<exchange>:<symbol>".
type KiteQuotes struct {
	client   ltpClient
	exchange string
}

var _ PriceLookup = (*KiteQuotes)(nil)

// NewKiteQuotes creates a quote source authenticated with an existing access token.
func NewKiteQuotes(apiKey, accessToken, exchange string) (*KiteQuotes, error) {
	if apiKey == "" || accessToken == "" {
		return nil, fmt.Errorf("kite api key and access token are required")
	}
	client := kiteconnect.New(apiKey)
	client.SetAccessToken(accessToken)
	return newKiteQuotes(client, exchange), nil
}

func newKiteQuotes(client ltpClient, exchange string) *KiteQuotes {
	if exchange == "" {
		exchange = "NSE"
	}
	return &KiteQuotes{client: client, exchange: strings.ToUpper(exchange)}
}

// Price returns the last traded price.
func (k *KiteQuotes) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	instrument := symbol
	if !strings.Contains(symbol, ":") {
		instrument = k.exchange + ":" + strings.ToUpper(strings.TrimSpace(symbol))
	}

	quotes, err := k.client.GetLTP(instrument)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get LTP for %s: %w", instrument, err)
	}
	q, ok := quotes[instrument]
	if !ok || q.LastPrice <= 0 {
		return decimal.Zero, fmt.Errorf("quote not found for symbol: %s", instrument)
	}
	return decimal.NewFromFloat(q.LastPrice), nil
}
