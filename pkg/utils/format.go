// Package utils provides shared utility functions.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatMoney formats an amount as dollars with thousands separators, e.g. $12,345.67.
func FormatMoney(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	str := amount.Abs().StringFixed(2)
	parts := strings.SplitN(str, ".", 2)

	result := "$" + groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPnL formats P&L with an explicit sign.
func FormatPnL(pnl decimal.Decimal) string {
	formatted := FormatMoney(pnl)
	if pnl.IsPositive() {
		return "+" + formatted
	}
	return formatted
}

// FormatPercent formats a ratio of base as a signed percentage, e.g. +1.25%.
func FormatPercent(value, base decimal.Decimal) string {
	if base.IsZero() {
		return "0.00%"
	}
	pct := value.Div(base).Mul(decimal.NewFromInt(100))
	sign := ""
	if pct.IsPositive() {
		sign = "+"
	}
	return sign + pct.StringFixed(2) + "%"
}

// Truncate shortens s to max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
