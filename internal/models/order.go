package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is an intended buy or sell for one trader's account.
// A zero Price means "at the current market price".
type Order struct {
	Symbol    string
	Side      OrderSide
	Quantity  int
	Price     decimal.Decimal
	Rationale string
}

// Cost returns price * quantity.
func (o Order) Cost() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

func (o Order) String() string {
	return fmt.Sprintf("%s %d %s @ %s", o.Side, o.Quantity, o.Symbol, o.Price.StringFixed(2))
}

// Transaction is an immutable record of an accepted order.
type Transaction struct {
	ID        string
	Timestamp time.Time
	Symbol    string
	Side      OrderSide
	Quantity  int
	Price     decimal.Decimal
	Rationale string
	CashAfter decimal.Decimal
}

// Total returns the cash moved by the transaction.
func (t Transaction) Total() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(int64(t.Quantity)))
}
