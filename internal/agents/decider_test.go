package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-floor/internal/models"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    []models.Order
		summary string
		wantErr bool
	}{
		{
			name:    "plain json",
			reply:   `{"summary":"buy apple","orders":[{"symbol":"aapl","side":"buy","quantity":5,"rationale":"earnings"}]}`,
			summary: "buy apple",
			want:    []models.Order{{Symbol: "AAPL", Side: models.OrderSideBuy, Quantity: 5, Rationale: "earnings"}},
		},
		{
			name:    "fenced with explicit price",
			reply:   "```json\n{\"summary\":\"trim\",\"orders\":[{\"symbol\":\"MSFT\",\"side\":\"SELL\",\"quantity\":2,\"price\":410.5}]}\n```",
			summary: "trim",
			want:    []models.Order{{Symbol: "MSFT", Side: models.OrderSideSell, Quantity: 2, Price: decimal.RequireFromString("410.5")}},
		},
		{
			name:  "unknown side passes through for the ledger to reject",
			reply: `{"orders":[{"symbol":"KO","side":"short","quantity":1}]}`,
			want:  []models.Order{{Symbol: "KO", Side: models.OrderSide("SHORT"), Quantity: 1}},
		},
		{
			name:    "hold",
			reply:   `{"summary":"nothing to do","orders":[]}`,
			want:    []models.Order{},
			summary: "nothing to do",
		},
		{
			name:    "not json",
			reply:   "I would buy some Apple.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDecision(tt.reply)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.summary, got.Summary)
			require.Len(t, got.Orders, len(tt.want))
			for i, o := range tt.want {
				assert.Equal(t, o.Symbol, got.Orders[i].Symbol)
				assert.Equal(t, o.Side, got.Orders[i].Side)
				assert.Equal(t, o.Quantity, got.Orders[i].Quantity)
				assert.True(t, o.Price.Equal(got.Orders[i].Price), "price %s", got.Orders[i].Price)
				assert.Equal(t, o.Rationale, got.Orders[i].Rationale)
			}
		})
	}
}

func TestBuildDecisionPrompt(t *testing.T) {
	req := DecisionRequest{
		Trader: "Ray",
		Mode:   models.ModeRebalance,
		Snapshot: models.AccountSnapshot{
			Cash:     decimal.NewFromInt(2000),
			Value:    decimal.NewFromInt(10000),
			Holdings: map[string]int{"SPY": 80},
		},
		Targets: map[string]float64{"TLT": 0.4, "SPY": 0.3},
	}

	prompt := buildDecisionPrompt(req)
	assert.Contains(t, prompt, "Mode: REBALANCE")
	assert.Contains(t, prompt, "Research:\n(none)")
	assert.Contains(t, prompt, "Cash: $2,000.00")
	assert.Contains(t, prompt, "- SPY: 80")
	assert.Contains(t, prompt, "- SPY: 30%\n- TLT: 40%")

	req.Mode = models.ModeTrade
	req.Summary = "Rates falling"
	prompt = buildDecisionPrompt(req)
	assert.Contains(t, prompt, "Mode: TRADE")
	assert.Contains(t, prompt, "Rates falling")
}

func TestAllocationDecider(t *testing.T) {
	prices := fixedPrices(map[string]float64{"SPY": 100, "TLT": 50})
	d := AllocationDecider{Prices: prices}
	ctx := context.Background()

	t.Run("trade mode holds", func(t *testing.T) {
		got, err := d.Decide(ctx, DecisionRequest{
			Mode:     models.ModeTrade,
			Snapshot: models.AccountSnapshot{Cash: decimal.NewFromInt(10000)},
			Targets:  map[string]float64{"SPY": 1},
		})
		require.NoError(t, err)
		assert.Empty(t, got.Orders)
	})

	t.Run("no targets holds", func(t *testing.T) {
		got, err := d.Decide(ctx, DecisionRequest{Mode: models.ModeRebalance})
		require.NoError(t, err)
		assert.Empty(t, got.Orders)
	})

	t.Run("buys from cash", func(t *testing.T) {
		got, err := d.Decide(ctx, DecisionRequest{
			Mode:     models.ModeRebalance,
			Snapshot: models.AccountSnapshot{Cash: decimal.NewFromInt(10000)},
			Targets:  map[string]float64{"SPY": 0.5, "TLT": 0.5},
		})
		require.NoError(t, err)
		require.Len(t, got.Orders, 2)
		assert.Equal(t, models.Order{Symbol: "SPY", Side: models.OrderSideBuy, Quantity: 50}, stripOrder(got.Orders[0]))
		assert.Equal(t, models.Order{Symbol: "TLT", Side: models.OrderSideBuy, Quantity: 100}, stripOrder(got.Orders[1]))
	})

	t.Run("sells before buys", func(t *testing.T) {
		got, err := d.Decide(ctx, DecisionRequest{
			Mode: models.ModeRebalance,
			Snapshot: models.AccountSnapshot{
				Cash:     decimal.NewFromInt(2000),
				Holdings: map[string]int{"SPY": 80},
			},
			Targets: map[string]float64{"SPY": 0.5, "TLT": 0.5},
		})
		require.NoError(t, err)
		require.Len(t, got.Orders, 2)
		assert.Equal(t, models.Order{Symbol: "SPY", Side: models.OrderSideSell, Quantity: 30}, stripOrder(got.Orders[0]))
		assert.Equal(t, models.Order{Symbol: "TLT", Side: models.OrderSideBuy, Quantity: 100}, stripOrder(got.Orders[1]))
	})

	t.Run("buys are trimmed to cash", func(t *testing.T) {
		got, err := d.Decide(ctx, DecisionRequest{
			Mode:     models.ModeRebalance,
			Snapshot: models.AccountSnapshot{Cash: decimal.NewFromInt(10000)},
			Targets:  map[string]float64{"SPY": 1, "TLT": 1},
		})
		require.NoError(t, err)
		require.Len(t, got.Orders, 1)
		assert.Equal(t, "SPY", got.Orders[0].Symbol)
		assert.Equal(t, 100, got.Orders[0].Quantity)
	})

	t.Run("pricing failure fails the decision", func(t *testing.T) {
		_, err := d.Decide(ctx, DecisionRequest{
			Mode:     models.ModeRebalance,
			Snapshot: models.AccountSnapshot{Cash: decimal.NewFromInt(10000)},
			Targets:  map[string]float64{"GLD": 1},
		})
		assert.ErrorContains(t, err, "pricing GLD")
	})
}

func stripOrder(o models.Order) models.Order {
	return models.Order{Symbol: o.Symbol, Side: o.Side, Quantity: o.Quantity}
}

func TestOpenAIDecider_AgainstCompatibleServer(t *testing.T) {
	var gotFormat string
	var gotMessages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Messages       []json.RawMessage `json:"messages"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotFormat = body.ResponseFormat.Type
		gotMessages = len(body.Messages)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"summary":"Adding to Coca-Cola","orders":[{"symbol":"KO","side":"buy","quantity":3}]}`,
				},
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(LLMConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"}, zerolog.Nop())
	assert.Equal(t, "gpt-4o-mini", client.Model())

	got, err := NewOpenAIDecider(client).Decide(context.Background(), DecisionRequest{
		Trader:   "Warren",
		Strategy: "value",
		Mode:     models.ModeTrade,
		Snapshot: models.AccountSnapshot{Cash: decimal.NewFromInt(10000)},
	})
	require.NoError(t, err)
	assert.Equal(t, "json_object", gotFormat)
	assert.Equal(t, 2, gotMessages)
	assert.Equal(t, "Adding to Coca-Cola", got.Summary)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, "KO", got.Orders[0].Symbol)
	assert.True(t, got.Orders[0].Price.IsZero())
}

func TestOpenAIClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(LLMConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m"}, zerolog.Nop())
	_, err := client.Complete(context.Background(), "hello")
	assert.ErrorContains(t, err, "openai completion failed")
}
