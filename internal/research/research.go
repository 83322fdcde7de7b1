// Package research provides the research collaborators that give traders a
// market summary at the start of each cycle.
package research

import (
	"context"
	"fmt"
	"strings"

	"trading-floor/internal/models"
)

// Completer is the language-model call used to summarise research.
type Completer interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Static returns a fixed summary. It is the default when no research source is configured.
type Static struct {
	Text string
}

// Research returns the configured text, prefixed with the request's date.
func (s Static) Research(_ context.Context, req models.ResearchRequest) (string, error) {
	text := s.Text
	if text == "" {
		text = "No research available."
	}
	if req.At.IsZero() {
		return text, nil
	}
	return fmt.Sprintf("As of %s: %s", req.At.Format("2006-01-02 15:04 MST"), text), nil
}

// Headlines is a source of market headlines.
type Headlines interface {
	Headlines(ctx context.Context) ([]string, error)
}

// Digest returns the headlines as a bullet list.
type Digest struct {
	Source Headlines
}

// Research returns the current headlines, one per line.
func (d Digest) Research(ctx context.Context, _ models.ResearchRequest) (string, error) {
	headlines, err := d.Source.Headlines(ctx)
	if err != nil {
		return "", err
	}
	return bulletList(headlines), nil
}

func bulletList(lines []string) string {
	if len(lines) == 0 {
		return "No headlines found."
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
