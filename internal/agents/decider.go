package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"trading-floor/internal/models"
	"trading-floor/pkg/utils"
)

// JSONCompleter is the model call used by OpenAIDecider.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const deciderSystemPrompt = `You are %s, a trader managing a simulated brokerage account.
Your strategy: %s

You receive a research briefing and your current account. Reply with a JSON object:
{"summary": "<one or two sentences on what you are doing and why>",
 "orders": [{"symbol": "AAPL", "side": "buy" | "sell", "quantity": 10, "rationale": "<why>"}]}
Orders execute at the current market price in the order given. You cannot spend more cash
than you have or sell shares you do not hold. Return an empty orders list to hold.`

const tradeInstructions = `Mode: TRADE. Look for new opportunities consistent with your strategy.
Buy what the research supports and sell what it undermines.`

const rebalanceInstructions = `Mode: REBALANCE. Do not chase new ideas. Review your holdings and adjust
position sizes so the portfolio matches your strategy and target allocation.`

// OpenAIDecider asks a language model for orders.
type OpenAIDecider struct {
	llm JSONCompleter
}

// NewOpenAIDecider creates a decider backed by llm.
func NewOpenAIDecider(llm JSONCompleter) *OpenAIDecider {
	return &OpenAIDecider{llm: llm}
}

type llmDecision struct {
	Summary string     `json:"summary"`
	Orders  []llmOrder `json:"orders"`
}

type llmOrder struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Rationale string          `json:"rationale"`
}

// Decide prompts the model and parses its orders. A reply that is not valid
// JSON fails the decision; individual malformed orders are passed through so
// the ledger rejects and logs them.
func (d *OpenAIDecider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	system := fmt.Sprintf(deciderSystemPrompt, req.Trader, req.Strategy)
	reply, err := d.llm.CompleteJSON(ctx, system, buildDecisionPrompt(req))
	if err != nil {
		return Decision{}, err
	}
	return parseDecision(reply)
}

func buildDecisionPrompt(req DecisionRequest) string {
	var b strings.Builder
	if req.Mode == models.ModeRebalance {
		b.WriteString(rebalanceInstructions)
	} else {
		b.WriteString(tradeInstructions)
	}

	b.WriteString("\n\nResearch:\n")
	if req.Summary == "" {
		b.WriteString("(none)")
	} else {
		b.WriteString(req.Summary)
	}

	snap := req.Snapshot
	fmt.Fprintf(&b, "\n\nAccount:\nCash: %s\nPortfolio value: %s\nP&L: %s\n",
		utils.FormatMoney(snap.Cash), utils.FormatMoney(snap.Value), utils.FormatPnL(snap.ProfitLoss))
	if holdings := snap.SortedHoldings(); len(holdings) > 0 {
		b.WriteString("Holdings:\n")
		for _, h := range holdings {
			fmt.Fprintf(&b, "- %s: %d\n", h.Symbol, h.Quantity)
		}
	} else {
		b.WriteString("Holdings: none\n")
	}
	if len(snap.Transactions) > 0 {
		b.WriteString("Recent transactions:\n")
		for _, tx := range snap.Transactions {
			fmt.Fprintf(&b, "- %s %s %d %s @ %s\n", tx.Timestamp.Format("2006-01-02 15:04"),
				tx.Side, tx.Quantity, tx.Symbol, utils.FormatMoney(tx.Price))
		}
	}

	if len(req.Targets) > 0 {
		b.WriteString("Target allocation:\n")
		for _, sym := range sortedKeys(req.Targets) {
			fmt.Fprintf(&b, "- %s: %.0f%%\n", sym, req.Targets[sym]*100)
		}
	}
	return b.String()
}

func parseDecision(reply string) (Decision, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")

	var raw llmDecision
	if err := json.Unmarshal([]byte(reply), &raw); err != nil {
		return Decision{}, fmt.Errorf("parsing decision: %w", err)
	}

	out := Decision{Summary: strings.TrimSpace(raw.Summary), Orders: make([]models.Order, 0, len(raw.Orders))}
	for _, o := range raw.Orders {
		side, err := models.ParseOrderSide(o.Side)
		if err != nil {
			side = models.OrderSide(strings.ToUpper(o.Side))
		}
		out.Orders = append(out.Orders, models.Order{
			Symbol:    strings.ToUpper(strings.TrimSpace(o.Symbol)),
			Side:      side,
			Quantity:  o.Quantity,
			Price:     o.Price,
			Rationale: o.Rationale,
		})
	}
	return out, nil
}

// AllocationDecider is a deterministic decider. In trade mode it holds; in
// rebalance mode it sells and buys toward the target weights. Without targets
// it always holds.
type AllocationDecider struct {
	Prices PriceLookup
}

// Decide returns sells first, then buys, so proceeds fund purchases.
func (d AllocationDecider) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	if req.Mode != models.ModeRebalance || len(req.Targets) == 0 {
		return Decision{Summary: "Holding positions"}, nil
	}
	if d.Prices == nil {
		return Decision{}, fmt.Errorf("allocation decider has no price source")
	}

	snap := req.Snapshot
	symbols := make(map[string]bool)
	for sym := range snap.Holdings {
		symbols[sym] = true
	}
	for sym := range req.Targets {
		symbols[sym] = true
	}

	prices := make(map[string]decimal.Decimal, len(symbols))
	total := snap.Cash
	for sym := range symbols {
		p, err := d.Prices.Price(ctx, sym)
		if err != nil {
			return Decision{}, fmt.Errorf("pricing %s: %w", sym, err)
		}
		prices[sym] = p
		total = total.Add(p.Mul(decimal.NewFromInt(int64(snap.Holdings[sym]))))
	}

	var sells, buys []models.Order
	cash := snap.Cash
	for _, sym := range sortedKeys(symbols) {
		price := prices[sym]
		if !price.IsPositive() {
			continue
		}
		weight := decimal.NewFromFloat(req.Targets[sym])
		want := int(total.Mul(weight).Div(price).IntPart())
		have := snap.Holdings[sym]
		switch {
		case want < have:
			qty := have - want
			sells = append(sells, models.Order{Symbol: sym, Side: models.OrderSideSell, Quantity: qty, Price: price,
				Rationale: fmt.Sprintf("rebalance %s toward %s%%", sym, weight.Mul(decimal.NewFromInt(100)).StringFixed(0))})
			cash = cash.Add(price.Mul(decimal.NewFromInt(int64(qty))))
		case want > have:
			buys = append(buys, models.Order{Symbol: sym, Side: models.OrderSideBuy, Quantity: want - have, Price: price,
				Rationale: fmt.Sprintf("rebalance %s toward %s%%", sym, weight.Mul(decimal.NewFromInt(100)).StringFixed(0))})
		}
	}

	// Trim buys that the cash after sells cannot cover.
	orders := sells
	for _, b := range buys {
		affordable := int(cash.Div(b.Price).IntPart())
		if affordable < b.Quantity {
			b.Quantity = affordable
		}
		if b.Quantity <= 0 {
			continue
		}
		cash = cash.Sub(b.Cost())
		orders = append(orders, b)
	}

	summary := "Portfolio already at target allocation"
	if len(orders) > 0 {
		summary = fmt.Sprintf("Rebalancing %d positions toward target allocation", len(orders))
	}
	return Decision{Orders: orders, Summary: summary}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
