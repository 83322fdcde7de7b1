// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrCollaboratorFailure  = errors.New("collaborator failure")
	ErrAlreadyRunning       = errors.New("session already running")
	ErrNotRunning           = errors.New("session not running")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrTimeout              = errors.New("operation timed out")
	ErrTraderNotFound       = errors.New("trader not found")
	ErrPriceUnavailable     = errors.New("price unavailable")
)

// OrderError represents a rejected ledger order.
type OrderError struct {
	Trader string
	Symbol string
	Side   string
	Reason string
	Err    error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.Trader, e.Side, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.Trader, e.Side, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(trader, symbol, side, reason string, err error) *OrderError {
	return &OrderError{
		Trader: trader,
		Symbol: symbol,
		Side:   side,
		Reason: reason,
		Err:    err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match validation failures against ErrConfigInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// AgentError represents a failure of one of a trader's collaborators
// (research, pricing or decision). It always matches ErrCollaboratorFailure.
type AgentError struct {
	AgentName string
	Operation string
	Err       error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error [%s] %s: %v", e.AgentName, e.Operation, e.Err)
}

func (e *AgentError) Unwrap() []error {
	return []error{ErrCollaboratorFailure, e.Err}
}

// NewAgentError creates a new AgentError.
func NewAgentError(agentName, operation string, err error) *AgentError {
	return &AgentError{
		AgentName: agentName,
		Operation: operation,
		Err:       err,
	}
}
