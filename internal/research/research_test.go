package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-floor/internal/models"
)

const page = `<html><body>
<h3>Fed holds rates steady</h3>
<h3>  Apple   unveils new chip </h3>
<h3>Fed holds rates steady</h3>
<h2>Not a headline</h2>
<h3></h3>
<h3>Oil slides on supply news</h3>
</body></html>`

func newsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHeadlineScraper_CollectsDistinctHeadlines(t *testing.T) {
	srv := newsServer(t)
	s := NewHeadlineScraper(ScraperConfig{URLs: []string{srv.URL + "/markets", srv.URL + "/missing"}}, zerolog.Nop())

	got, err := s.Headlines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Fed holds rates steady", "Apple unveils new chip", "Oil slides on supply news"}, got)
}

func TestHeadlineScraper_LimitAndFailures(t *testing.T) {
	srv := newsServer(t)

	s := NewHeadlineScraper(ScraperConfig{URLs: []string{srv.URL}, MaxHeadlines: 2}, zerolog.Nop())
	got, err := s.Headlines(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	s = NewHeadlineScraper(ScraperConfig{URLs: []string{srv.URL + "/missing"}, Timeout: time.Second}, zerolog.Nop())
	_, err = s.Headlines(context.Background())
	assert.Error(t, err)

	_, err = NewHeadlineScraper(ScraperConfig{}, zerolog.Nop()).Headlines(context.Background())
	assert.Error(t, err)
}

type fixedHeadlines []string

func (f fixedHeadlines) Headlines(context.Context) ([]string, error) { return f, nil }

type recordingLLM struct {
	prompt string
	reply  string
	err    error
}

func (r *recordingLLM) CompleteWithSystem(_ context.Context, _, user string) (string, error) {
	r.prompt = user
	return r.reply, r.err
}

func TestLLMResearcher(t *testing.T) {
	llm := &recordingLLM{reply: "  Rates steady; tech strong.  "}
	r := NewLLMResearcher(fixedHeadlines{"Fed holds", "Chips rally"}, llm)
	req := models.ResearchRequest{Trader: "Warren", Strategy: "value", Symbols: []string{"AAPL"}}

	got, err := r.Research(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Rates steady; tech strong.", got)
	assert.Contains(t, llm.prompt, "Warren")
	assert.Contains(t, llm.prompt, "- Chips rally")
	assert.Contains(t, llm.prompt, "AAPL")

	llm.err = errors.New("quota")
	_, err = r.Research(context.Background(), req)
	assert.ErrorContains(t, err, "quota")
}

func TestStaticAndDigest(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	got, err := Static{Text: "Quiet day."}.Research(context.Background(), models.ResearchRequest{At: at})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "As of 2024-05-01"))

	got, err = Digest{Source: fixedHeadlines{"a", "b"}}.Research(context.Background(), models.ResearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, "- a\n- b", got)
}
