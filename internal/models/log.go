package models

import "time"

// Category classifies activity log entries.
type Category string

const (
	CategoryTrace      Category = "trace"
	CategoryAgent      Category = "agent"
	CategoryFunction   Category = "function"
	CategoryGeneration Category = "generation"
	CategoryResponse   Category = "response"
	CategoryAccount    Category = "account"
)

// SystemTrader is the trader name used for scheduler entries.
const SystemTrader = "system"

// LogEntry is one immutable activity log record.
// Seq is assigned by the store and gives the global total order.
type LogEntry struct {
	Seq       uint64
	Timestamp time.Time
	Trader    string
	Category  Category
	Message   string
}
