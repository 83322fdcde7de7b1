package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-floor/internal/logging"
	"trading-floor/pkg/utils"
)

// DefaultPolygonURL is the Polygon.io REST endpoint.
const DefaultPolygonURL = "https://api.polygon.io"

// PolygonConfig configures a PolygonClient.
type PolygonConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Retry   utils.RetryConfig
}

// PolygonClient quotes previous-day closes and market status from Polygon.io.
// Previous closes only change once a day, so they are cached per trading date.
type PolygonClient struct {
	client *resty.Client
	apiKey string
	retry  utils.RetryConfig
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedClose
}

type cachedClose struct {
	date  string
	price decimal.Decimal
}

var (
	_ PriceLookup = (*PolygonClient)(nil)
	_ Gate        = (*PolygonGate)(nil)
)

type polygonPrevClose struct {
	Status  string `json:"status"`
	Results []struct {
		Ticker string  `json:"T"`
		Close  float64 `json:"c"`
	} `json:"results"`
}

type polygonMarketStatus struct {
	Market string `json:"market"`
}

// NewPolygonClient creates a Polygon client.
func NewPolygonClient(cfg PolygonConfig, logger zerolog.Logger) *PolygonClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPolygonURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = utils.DefaultRetryConfig()
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")

	return &PolygonClient{
		client: client,
		apiKey: cfg.APIKey,
		retry:  cfg.Retry,
		logger: logger.With().Str("component", "polygon").Logger(),
		now:    time.Now,
		cache:  make(map[string]cachedClose),
	}
}

// Price returns the symbol's previous close.
func (p *PolygonClient) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if p.apiKey == "" {
		return decimal.Zero, fmt.Errorf("polygon API key not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	today := p.now().UTC().Format("2006-01-02")

	p.mu.Lock()
	if c, ok := p.cache[symbol]; ok && c.date == today {
		p.mu.Unlock()
		return c.price, nil
	}
	p.mu.Unlock()

	var body polygonPrevClose
	if err := p.get(ctx, "/v2/aggs/ticker/{ticker}/prev", map[string]string{"ticker": symbol}, &body); err != nil {
		return decimal.Zero, fmt.Errorf("previous close for %s: %w", symbol, err)
	}
	if len(body.Results) == 0 || body.Results[0].Close <= 0 {
		return decimal.Zero, fmt.Errorf("previous close for %s: no results (status %s)", symbol, body.Status)
	}

	price := decimal.NewFromFloat(body.Results[0].Close)
	p.mu.Lock()
	p.cache[symbol] = cachedClose{date: today, price: price}
	p.mu.Unlock()
	return price, nil
}

// MarketStatus returns Polygon's current market state: "open", "closed" or "extended-hours".
func (p *PolygonClient) MarketStatus(ctx context.Context) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("polygon API key not configured")
	}
	var body polygonMarketStatus
	if err := p.get(ctx, "/v1/marketstatus/now", nil, &body); err != nil {
		return "", fmt.Errorf("market status: %w", err)
	}
	return body.Market, nil
}

func (p *PolygonClient) get(ctx context.Context, path string, pathParams map[string]string, out interface{}) error {
	start := time.Now()
	_, err := utils.RetryWithResult(ctx, p.retry, func() (struct{}, error) {
		resp, err := p.client.R().
			SetContext(ctx).
			SetPathParams(pathParams).
			SetQueryParam("apiKey", p.apiKey).
			Get(path)
		if err != nil {
			return struct{}{}, err
		}
		if resp.StatusCode() != http.StatusOK {
			return struct{}{}, fmt.Errorf("API error %d: %s", resp.StatusCode(), utils.Truncate(resp.String(), 200))
		}
		return struct{}{}, json.Unmarshal(resp.Body(), out)
	})
	logging.LogAPICall(p.logger, "GET", path, time.Since(start), err)
	return err
}

// PolygonGate asks Polygon whether the market is open and falls back to a
// local calendar when the request fails.
type PolygonGate struct {
	client   *PolygonClient
	fallback Gate
}

// NewPolygonGate creates a gate backed by client.
func NewPolygonGate(client *PolygonClient, fallback Gate) *PolygonGate {
	return &PolygonGate{client: client, fallback: fallback}
}

// IsOpen reports whether Polygon says the market is open. Only the regular
// session counts as open.
func (g *PolygonGate) IsOpen(ctx context.Context, now time.Time) bool {
	status, err := g.client.MarketStatus(ctx)
	if err != nil {
		g.client.logger.Warn().Err(err).Msg("Market status unavailable, using calendar")
		if g.fallback == nil {
			return false
		}
		return g.fallback.IsOpen(ctx, now)
	}
	return status == "open"
}
