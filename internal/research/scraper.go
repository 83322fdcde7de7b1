package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ScraperConfig configures a HeadlineScraper.
type ScraperConfig struct {
	URLs         []string
	Selector     string // CSS selector whose text is a headline
	MaxHeadlines int
	Timeout      time.Duration
}

// HeadlineScraper collects headlines from news pages.
type HeadlineScraper struct {
	cfg    ScraperConfig
	logger zerolog.Logger
}

var _ Headlines = (*HeadlineScraper)(nil)

// NewHeadlineScraper creates a scraper.
func NewHeadlineScraper(cfg ScraperConfig, logger zerolog.Logger) *HeadlineScraper {
	if cfg.Selector == "" {
		cfg.Selector = "h3"
	}
	if cfg.MaxHeadlines <= 0 {
		cfg.MaxHeadlines = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &HeadlineScraper{cfg: cfg, logger: logger.With().Str("component", "scraper").Logger()}
}

// Headlines visits every configured page and returns up to MaxHeadlines
// distinct headlines in page order. A page that fails is skipped; the call
// fails only when every page fails.
func (s *HeadlineScraper) Headlines(ctx context.Context) ([]string, error) {
	if len(s.cfg.URLs) == 0 {
		return nil, fmt.Errorf("no research urls configured")
	}

	var (
		mu        sync.Mutex
		headlines []string
		seen      = make(map[string]bool)
	)

	c := colly.NewCollector(
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
		colly.UserAgent(defaultUserAgent),
	)
	c.SetRequestTimeout(s.cfg.Timeout)

	c.OnHTML(s.cfg.Selector, func(e *colly.HTMLElement) {
		title := strings.Join(strings.Fields(e.Text), " ")
		if title == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if len(headlines) >= s.cfg.MaxHeadlines || seen[title] {
			return
		}
		seen[title] = true
		headlines = append(headlines, title)
	})

	c.OnError(func(r *colly.Response, err error) {
		s.logger.Warn().Err(err).Str("url", r.Request.URL.String()).Int("status", r.StatusCode).Msg("Scraping error")
	})

	var failures []error
	for _, u := range s.cfg.URLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.Visit(u); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", u, err))
		}
	}
	c.Wait()

	if len(headlines) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("no headlines from %d pages: %w", len(s.cfg.URLs), failures[0])
	}
	s.logger.Debug().Int("headlines", len(headlines)).Msg("Scraping completed")
	return headlines, nil
}
