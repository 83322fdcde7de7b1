// Package models provides domain models shared by the ledger, the activity log and the scheduler.
package models

import (
	"fmt"
	"strings"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide accepts "buy"/"sell" in any case.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(strings.ToUpper(strings.TrimSpace(s))) {
	case OrderSideBuy:
		return OrderSideBuy, nil
	case OrderSideSell:
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// Valid reports whether the side is BUY or SELL.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Mode is a trader's decision mode. Modes alternate trade, rebalance, trade, ...
// on successive completed cycles.
type Mode string

const (
	ModeTrade     Mode = "trade"
	ModeRebalance Mode = "rebalance"
)

// Next returns the mode used by the cycle after this one.
func (m Mode) Next() Mode {
	if m == ModeTrade {
		return ModeRebalance
	}
	return ModeTrade
}

// CyclePhase is the state of one agent run cycle.
type CyclePhase string

const (
	PhaseIdle        CyclePhase = "IDLE"
	PhaseResearching CyclePhase = "RESEARCHING"
	PhaseDeciding    CyclePhase = "DECIDING"
	PhaseExecuting   CyclePhase = "EXECUTING"
	PhaseDone        CyclePhase = "DONE"
	PhaseFailed      CyclePhase = "FAILED"
)

// Terminal reports whether the phase ends a cycle.
func (p CyclePhase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// SessionStatus is the lifecycle state of the trading session.
type SessionStatus string

const (
	SessionStopped  SessionStatus = "STOPPED"
	SessionRunning  SessionStatus = "RUNNING"
	SessionStopping SessionStatus = "STOPPING"
)
