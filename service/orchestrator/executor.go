package orchestrator

import (
	"fmt"

	"github.com/brojonat/flashtrade/service/codec"
)

// TradeAction is a Buy or Sell tag.
type TradeAction = codec.TradeAction

const (
	Buy  = codec.ActionBuy
	Sell = codec.ActionSell
)

// Executor runs one trade action with the borrowed liquidity. Actions share
// no state; Execute is called once per action in caller order.
type Executor interface {
	Execute(h Host, action TradeAction) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(h Host, action TradeAction) error

func (f ExecutorFunc) Execute(h Host, action TradeAction) error {
	return f(h, action)
}

// AuditExecutor performs no market operation. It records each action as a
// TradeActionEvent.
type AuditExecutor struct{}

func (AuditExecutor) Execute(h Host, action TradeAction) error {
	switch action {
	case Buy:
		h.Log("Executing buy transaction...")
	case Sell:
		h.Log("Executing sell transaction...")
	default:
		return fmt.Errorf("%w: tag %d", ErrUnknownAction, uint8(action))
	}
	return h.Emit(codec.TradeActionEvent{Action: action})
}
