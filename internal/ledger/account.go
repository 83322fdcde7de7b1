// Package ledger implements the simulated brokerage account owned by each trader:
// order application with cash and holdings invariants, transaction history, and
// mark-to-market valuation history.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/logging"
	"trading-floor/internal/models"
	"trading-floor/pkg/utils"
)

// DefaultRecentTransactions is how many transactions a snapshot carries by default.
const DefaultRecentTransactions = 5

// Recorder receives one activity entry per order attempt and valuation.
// *activity.Store satisfies it.
type Recorder interface {
	Append(trader string, category models.Category, message string) models.LogEntry
}

// Observer is notified of committed transactions and valuation points, in
// commit order. Calls happen with the account lock held and must not block.
type Observer interface {
	RecordTransaction(trader string, tx models.Transaction)
	RecordValuation(trader string, point models.ValuationPoint)
}

// AccountOption configures an Account.
type AccountOption func(*Account)

// WithStrategy sets the strategy text shown with the account.
func WithStrategy(strategy string) AccountOption {
	return func(a *Account) {
		a.strategy = strategy
	}
}

// WithRecorder sends account activity to r.
func WithRecorder(r Recorder) AccountOption {
	return func(a *Account) {
		a.recorder = r
	}
}

// WithObserver mirrors transactions and valuations to o.
func WithObserver(o Observer) AccountOption {
	return func(a *Account) {
		a.observers = append(a.observers, o)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AccountOption {
	return func(a *Account) {
		a.now = now
	}
}

// Account is one trader's simulated brokerage account.
//
// All mutation goes through Apply and Revalue, which are serialized by the
// account's own lock. Accounts share no state with each other.
type Account struct {
	name     string
	strategy string
	initial  decimal.Decimal

	cash         decimal.Decimal
	holdings     map[string]int
	transactions []models.Transaction
	valuations   []models.ValuationPoint
	lastPrice    map[string]decimal.Decimal
	lastStamp    time.Time

	recorder  Recorder
	observers []Observer
	now       func() time.Time

	mu sync.RWMutex
}

// NewAccount creates an account holding only initial cash.
func NewAccount(name string, initial decimal.Decimal, opts ...AccountOption) *Account {
	a := &Account{
		name:      name,
		initial:   initial,
		cash:      initial,
		holdings:  make(map[string]int),
		lastPrice: make(map[string]decimal.Decimal),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the owning trader's name.
func (a *Account) Name() string {
	return a.name
}

// Strategy returns the account's strategy text.
func (a *Account) Strategy() string {
	return a.strategy
}

// InitialBalance returns the cash the account started with.
func (a *Account) InitialBalance() decimal.Decimal {
	return a.initial
}

// Apply validates and executes order.
//
// Buys debit price*quantity and sells credit it. A rejected order leaves cash,
// holdings and history untouched and returns an *errors.OrderError wrapping
// ErrInvalidOrder, ErrInsufficientFunds or ErrInsufficientHoldings. Every
// attempt, accepted or not, produces exactly one account activity entry; every
// accepted order produces exactly one transaction and one valuation point.
func (a *Account) Apply(ctx context.Context, order models.Order) (models.AccountSnapshot, error) {
	order.Symbol = strings.ToUpper(strings.TrimSpace(order.Symbol))

	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.validateLocked(order)
	logging.LogOrder(logging.WithTrader(logging.FromContext(ctx), a.name),
		order.Symbol, string(order.Side), order.Quantity, order.Price.String(), err)
	if err != nil {
		a.record(models.CategoryAccount, fmt.Sprintf("Rejected %s: %v", order, err))
		return a.snapshotLocked(DefaultRecentTransactions), err
	}

	cost := order.Cost()
	switch order.Side {
	case models.OrderSideBuy:
		a.cash = a.cash.Sub(cost)
		a.holdings[order.Symbol] += order.Quantity
	case models.OrderSideSell:
		a.cash = a.cash.Add(cost)
		a.holdings[order.Symbol] -= order.Quantity
		if a.holdings[order.Symbol] == 0 {
			delete(a.holdings, order.Symbol)
		}
	}
	a.lastPrice[order.Symbol] = order.Price

	ts := a.stampLocked()
	tx := models.Transaction{
		ID:        utils.NewID(ts),
		Timestamp: ts,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Price:     order.Price,
		Rationale: order.Rationale,
		CashAfter: a.cash,
	}
	a.transactions = append(a.transactions, tx)
	for _, o := range a.observers {
		o.RecordTransaction(a.name, tx)
	}

	verb := "Bought"
	if order.Side == models.OrderSideSell {
		verb = "Sold"
	}
	a.record(models.CategoryAccount, fmt.Sprintf("%s %d %s at %s; cash %s",
		verb, order.Quantity, order.Symbol, utils.FormatMoney(order.Price), utils.FormatMoney(a.cash)))

	a.appendValuationLocked(ts, a.markLocked())

	return a.snapshotLocked(DefaultRecentTransactions), nil
}

func (a *Account) validateLocked(order models.Order) error {
	reject := func(sentinel error, reason string) error {
		return ferrors.NewOrderError(a.name, order.Symbol, string(order.Side), reason, sentinel)
	}

	switch {
	case order.Symbol == "":
		return reject(ferrors.ErrInvalidOrder, "symbol is empty")
	case !order.Side.Valid():
		return reject(ferrors.ErrInvalidOrder, fmt.Sprintf("unknown side %q", order.Side))
	case order.Quantity <= 0:
		return reject(ferrors.ErrInvalidOrder, fmt.Sprintf("quantity %d must be positive", order.Quantity))
	case !order.Price.IsPositive():
		return reject(ferrors.ErrInvalidOrder, fmt.Sprintf("price %s must be positive", order.Price))
	}

	switch order.Side {
	case models.OrderSideBuy:
		if cost := order.Cost(); cost.GreaterThan(a.cash) {
			return reject(ferrors.ErrInsufficientFunds,
				fmt.Sprintf("cost %s exceeds cash %s", utils.FormatMoney(cost), utils.FormatMoney(a.cash)))
		}
	case models.OrderSideSell:
		if held := a.holdings[order.Symbol]; order.Quantity > held {
			return reject(ferrors.ErrInsufficientHoldings,
				fmt.Sprintf("selling %d but holding %d", order.Quantity, held))
		}
	}
	return nil
}

// stampLocked returns a timestamp no earlier than any previously issued one.
func (a *Account) stampLocked() time.Time {
	ts := a.now()
	if ts.Before(a.lastStamp) {
		ts = a.lastStamp
	}
	a.lastStamp = ts
	return ts
}

// markLocked values the account at last-known prices.
func (a *Account) markLocked() decimal.Decimal {
	total := a.cash
	for sym, qty := range a.holdings {
		if price, ok := a.lastPrice[sym]; ok {
			total = total.Add(price.Mul(decimal.NewFromInt(int64(qty))))
		}
	}
	return total
}

func (a *Account) record(category models.Category, message string) {
	if a.recorder != nil {
		a.recorder.Append(a.name, category, message)
	}
}

// Snapshot returns an immutable view of the account with the last lastN
// transactions (all when lastN <= 0).
func (a *Account) Snapshot(lastN int) models.AccountSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked(lastN)
}

func (a *Account) snapshotLocked(lastN int) models.AccountSnapshot {
	holdings := make(map[string]int, len(a.holdings))
	for sym, qty := range a.holdings {
		holdings[sym] = qty
	}

	txs := a.transactions
	if lastN > 0 && len(txs) > lastN {
		txs = txs[len(txs)-lastN:]
	}

	value := a.markLocked()
	return models.AccountSnapshot{
		Trader:         a.name,
		Strategy:       a.strategy,
		InitialBalance: a.initial,
		Cash:           a.cash,
		Holdings:       holdings,
		Transactions:   append([]models.Transaction(nil), txs...),
		Value:          value,
		ProfitLoss:     value.Sub(a.initial),
		TakenAt:        a.now(),
	}
}

// Cash returns the current cash balance.
func (a *Account) Cash() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cash
}

// Holdings returns the current holdings ordered by symbol.
func (a *Account) Holdings() []models.Holding {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Holding, 0, len(a.holdings))
	for sym, qty := range a.holdings {
		out = append(out, models.Holding{Symbol: sym, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Transactions returns a copy of the full transaction history, oldest first.
func (a *Account) Transactions() []models.Transaction {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.Transaction(nil), a.transactions...)
}

// LastPrice returns the most recent price seen for symbol.
func (a *Account) LastPrice(symbol string) (decimal.Decimal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.lastPrice[strings.ToUpper(symbol)]
	return p, ok
}
