package research

import (
	"context"
	"fmt"
	"strings"

	"trading-floor/internal/models"
)

const researcherSystemPrompt = `You are a financial researcher. You read market headlines and write a short,
factual briefing for a trader. Mention specific companies and tickers where the news concerns them.
Keep it under 200 words. Do not give orders; the trader decides.`

// LLMResearcher summarises scraped headlines for a trader's strategy.
type LLMResearcher struct {
	source Headlines
	llm    Completer
}

// NewLLMResearcher creates a researcher over source using llm.
func NewLLMResearcher(source Headlines, llm Completer) *LLMResearcher {
	return &LLMResearcher{source: source, llm: llm}
}

// Research fetches headlines and asks the model for a briefing.
func (r *LLMResearcher) Research(ctx context.Context, req models.ResearchRequest) (string, error) {
	headlines, err := r.source.Headlines(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching headlines: %w", err)
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Trader: %s\nStrategy: %s\n", req.Trader, req.Strategy)
	if len(req.Symbols) > 0 {
		fmt.Fprintf(&prompt, "Symbols of interest: %s\n", strings.Join(req.Symbols, ", "))
	}
	if !req.At.IsZero() {
		fmt.Fprintf(&prompt, "Date: %s\n", req.At.Format("2006-01-02"))
	}
	prompt.WriteString("\nHeadlines:\n")
	prompt.WriteString(bulletList(headlines))

	summary, err := r.llm.CompleteWithSystem(ctx, researcherSystemPrompt, prompt.String())
	if err != nil {
		return "", fmt.Errorf("summarising research: %w", err)
	}
	return strings.TrimSpace(summary), nil
}
