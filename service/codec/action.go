package codec

import (
	"fmt"
)

// TradeAction is the closed set of actions a trade can carry. On the wire it
// is a borsh enum tag (u8).
type TradeAction uint8

const (
	ActionBuy TradeAction = iota
	ActionSell
)

// Valid reports whether the tag is a known action.
func (a TradeAction) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// String returns the audit name of the action ("buy" or "sell").
func (a TradeAction) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseTradeAction maps an audit name back to its tag.
func ParseTradeAction(s string) (TradeAction, error) {
	switch s {
	case "buy":
		return ActionBuy, nil
	case "sell":
		return ActionSell, nil
	default:
		return 0, fmt.Errorf("unknown trade action %q", s)
	}
}

// ParseTradeActions parses a list of audit names.
func ParseTradeActions(values []string) ([]TradeAction, error) {
	out := make([]TradeAction, 0, len(values))
	for _, v := range values {
		a, err := ParseTradeAction(v)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// MarshalText implements encoding.TextMarshaler.
func (a TradeAction) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("unknown trade action tag %d", uint8(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *TradeAction) UnmarshalText(b []byte) error {
	parsed, err := ParseTradeAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
