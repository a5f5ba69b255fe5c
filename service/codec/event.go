package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Event names as they appear in the audit log.
const (
	FlashloanEventName   = "FlashloanEvent"
	TradeActionEventName = "TradeActionEvent"
)

// ErrUnknownEvent is returned for event data carrying a foreign discriminator.
var ErrUnknownEvent = errors.New("unknown event discriminator")

var (
	flashloanEventDiscriminator   = NewDiscriminator("event", FlashloanEventName)
	tradeActionEventDiscriminator = NewDiscriminator("event", TradeActionEventName)
)

// Event is one of the closed set of audit records the orchestrator emits.
type Event interface {
	EventName() string
	Discriminator() Discriminator
	encodeBody(enc *bin.Encoder) error
}

// FlashloanEvent is emitted once per trade, right after the borrow succeeds.
type FlashloanEvent struct {
	Borrower solana.PublicKey `json:"borrower"`
	Amount   uint64           `json:"amount"`
}

func (FlashloanEvent) EventName() string            { return FlashloanEventName }
func (FlashloanEvent) Discriminator() Discriminator { return flashloanEventDiscriminator }

func (e FlashloanEvent) encodeBody(enc *bin.Encoder) error {
	if err := enc.WriteBytes(e.Borrower[:], false); err != nil {
		return err
	}
	return enc.WriteUint64(e.Amount, binary.LittleEndian)
}

// TradeActionEvent is emitted once per processed action. Action is carried on
// the wire as the string "buy" or "sell".
type TradeActionEvent struct {
	Action TradeAction `json:"action_type"`
}

func (TradeActionEvent) EventName() string            { return TradeActionEventName }
func (TradeActionEvent) Discriminator() Discriminator { return tradeActionEventDiscriminator }

func (e TradeActionEvent) encodeBody(enc *bin.Encoder) error {
	if !e.Action.Valid() {
		return fmt.Errorf("unknown trade action tag %d", uint8(e.Action))
	}
	return writeString(enc, e.Action.String())
}

// EncodeEvent serializes an event as discriminator followed by its borsh body.
func EncodeEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil event", ErrEncodingFailure)
	}
	return encode(func(enc *bin.Encoder) error {
		d := e.Discriminator()
		if err := enc.WriteBytes(d[:], false); err != nil {
			return err
		}
		return e.encodeBody(enc)
	})
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: event shorter than discriminator", ErrEncodingFailure)
	}
	var d Discriminator
	copy(d[:], data[:8])
	dec := bin.NewBorshDecoder(data[8:])

	var (
		out Event
		err error
	)
	switch d {
	case flashloanEventDiscriminator:
		out, err = decodeFlashloanEvent(dec)
	case tradeActionEventDiscriminator:
		out, err = decodeTradeActionEvent(dec)
	default:
		return nil, fmt.Errorf("%w: %w %x", ErrEncodingFailure, ErrUnknownEvent, d[:])
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	if err := ensureConsumed(dec); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeFlashloanEvent(dec *bin.Decoder) (Event, error) {
	b, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return nil, err
	}
	amount, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	return FlashloanEvent{Borrower: solana.PublicKeyFromBytes(b), Amount: amount}, nil
}

func decodeTradeActionEvent(dec *bin.Decoder) (Event, error) {
	s, err := readString(dec)
	if err != nil {
		return nil, err
	}
	action, err := ParseTradeAction(s)
	if err != nil {
		return nil, err
	}
	return TradeActionEvent{Action: action}, nil
}
