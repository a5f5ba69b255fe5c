package nats

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/brojonat/flashtrade/service/codec"
)

// AuditEvent is a committed trade event published to NATS.
// This is published to the subject "flashloan.events.{borrower}" in JetStream.
type AuditEvent struct {
	// Execution identifiers
	ExecutionID string `json:"execution_id"`
	TxID        uint64 `json:"tx_id"`
	Sequence    int    `json:"sequence"`

	// Event payload
	EventType  string  `json:"event_type"`
	Borrower   string  `json:"borrower"`
	Amount     *uint64 `json:"amount,omitempty"`
	ActionType string  `json:"action_type,omitempty"`

	// Data is the base64 wire encoding of the event.
	Data string `json:"data"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published to.
func (e *AuditEvent) Subject() string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, e.Borrower)
}

// Decode returns the typed event carried in Data.
func (e *AuditEvent) Decode() (codec.Event, error) {
	raw, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	return codec.DecodeEvent(raw)
}

// FromEvents converts the ordered events of one committed trade into audit
// events. borrower keys the subject for every event of the trade.
func FromEvents(executionID string, txID uint64, borrower string, events []codec.Event) ([]*AuditEvent, error) {
	out := make([]*AuditEvent, 0, len(events))
	now := time.Now().UTC()
	for i, e := range events {
		data, err := codec.EncodeEvent(e)
		if err != nil {
			return nil, err
		}
		ae := &AuditEvent{
			ExecutionID: executionID,
			TxID:        txID,
			Sequence:    i,
			EventType:   e.EventName(),
			Borrower:    borrower,
			Data:        base64.StdEncoding.EncodeToString(data),
			PublishedAt: now,
		}
		switch ev := e.(type) {
		case codec.FlashloanEvent:
			amount := ev.Amount
			ae.Amount = &amount
		case codec.TradeActionEvent:
			ae.ActionType = ev.Action.String()
		}
		out = append(out, ae)
	}
	return out, nil
}
