package floor

import (
	"fmt"

	"trading-floor/internal/agents"
	"trading-floor/internal/config"
	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/market"
	"trading-floor/internal/models"
	"trading-floor/internal/research"
	"trading-floor/internal/resilience"
)

// buildPrices returns the configured price source behind a circuit breaker.
func (f *Floor) buildPrices() (market.PriceLookup, error) {
	var inner market.PriceLookup
	switch f.cfg.Prices.Source {
	case "polygon":
		client, err := f.polygonClient()
		if err != nil {
			return nil, err
		}
		inner = client
	case "kite":
		creds := f.cfg.Credentials.Kite
		quotes, err := market.NewKiteQuotes(creds.APIKey, creds.AccessToken, f.cfg.Prices.Exchange)
		if err != nil {
			return nil, ferrors.NewValidationError("credentials.kite", "", err.Error())
		}
		inner = quotes
	default:
		inner = market.NewSimulated(f.cfg.Prices.Seed, f.cfg.Prices.Volatility)
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	if f.cfg.Prices.BreakerThreshold > 0 {
		breakerCfg.FailureThreshold = f.cfg.Prices.BreakerThreshold
	}
	if f.cfg.Prices.BreakerTimeout > 0 {
		breakerCfg.Timeout = f.cfg.Prices.BreakerTimeout
	}
	breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		f.logger.Warn().Str("breaker", name).Str("from", string(from)).Str("to", string(to)).Msg("Price feed circuit changed state")
		f.log.Append(models.SystemTrader, models.CategoryTrace,
			fmt.Sprintf("Price feed %s circuit %s -> %s", name, from, to))
	}
	f.breaker = resilience.NewCircuitBreaker(f.cfg.Prices.Source, breakerCfg)
	return market.NewGuarded(inner, f.breaker), nil
}

func (f *Floor) polygonClient() (*market.PolygonClient, error) {
	if f.polygon != nil {
		return f.polygon, nil
	}
	key := f.cfg.Credentials.Polygon.APIKey
	if key == "" {
		return nil, ferrors.NewValidationError("credentials.polygon.api_key", "", "required for polygon prices or market status")
	}
	f.polygon = market.NewPolygonClient(market.PolygonConfig{APIKey: key}, f.logger)
	return f.polygon, nil
}

// buildGate returns the market-hours gate: the local calendar, optionally
// fronted by Polygon's market status.
func (f *Floor) buildGate() (market.Gate, error) {
	hours, err := market.NewHours(market.HoursConfig{
		Timezone: f.cfg.Market.Timezone,
		Open:     f.cfg.Market.Open,
		Close:    f.cfg.Market.Close,
		Holidays: f.cfg.Market.Holidays,
	})
	if err != nil {
		return nil, ferrors.NewValidationError("market", f.cfg.Market.Timezone, err.Error())
	}
	if f.cfg.Market.Source != "polygon" {
		return hours, nil
	}
	client, err := f.polygonClient()
	if err != nil {
		return nil, err
	}
	return market.NewPolygonGate(client, hours), nil
}

// buildResearcher returns the configured research collaborator. LLM research
// without an API key degrades to a headline digest.
func (f *Floor) buildResearcher() agents.Researcher {
	rc := f.cfg.Research
	switch rc.Source {
	case "headlines", "llm":
		scraper := research.NewHeadlineScraper(research.ScraperConfig{
			URLs:         rc.URLs,
			Selector:     rc.Selector,
			MaxHeadlines: rc.MaxHeadlines,
		}, f.logger)
		if rc.Source == "llm" {
			if llm := f.llmClient(f.cfg.LLM.Model); llm != nil {
				return research.NewLLMResearcher(scraper, llm)
			}
			f.logger.Warn().Msg("No OpenAI API key, research falls back to a headline digest")
		}
		return research.Digest{Source: scraper}
	default:
		return research.Static{Text: rc.Static}
	}
}

// buildDecider returns the trader's decision collaborator. An LLM trader
// without an API key trades with the allocation rebalancer instead.
func (f *Floor) buildDecider(tc config.TraderConfig) agents.Decider {
	if tc.Decider == "llm" {
		if llm := f.llmClient(tc.Model); llm != nil {
			return agents.NewOpenAIDecider(llm)
		}
		f.logger.Warn().Str("trader", tc.Name).Msg("No OpenAI API key, using the allocation decider")
	}
	return agents.AllocationDecider{Prices: f.prices}
}

func (f *Floor) llmClient(model string) *agents.OpenAIClient {
	key := f.cfg.Credentials.OpenAI.APIKey
	if key == "" {
		return nil
	}
	if model == "" {
		model = f.cfg.LLM.Model
	}
	return agents.NewOpenAIClient(agents.LLMConfig{
		APIKey:      key,
		BaseURL:     f.cfg.LLM.BaseURL,
		Model:       model,
		Temperature: f.cfg.LLM.Temperature,
		MaxTokens:   f.cfg.LLM.MaxTokens,
	}, f.logger)
}
