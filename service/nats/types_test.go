package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEvents(t *testing.T) {
	borrower := solana.NewWallet().PublicKey()
	events := []codec.Event{
		codec.FlashloanEvent{Borrower: borrower, Amount: 1000},
		codec.TradeActionEvent{Action: codec.ActionBuy},
		codec.TradeActionEvent{Action: codec.ActionSell},
	}

	out, err := FromEvents("exec-1", 42, borrower.String(), events)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "FlashloanEvent", out[0].EventType)
	require.NotNil(t, out[0].Amount)
	assert.Equal(t, uint64(1000), *out[0].Amount)
	assert.Equal(t, "buy", out[1].ActionType)
	assert.Equal(t, "sell", out[2].ActionType)

	for i, ae := range out {
		assert.Equal(t, i, ae.Sequence)
		assert.Equal(t, uint64(42), ae.TxID)
		assert.Equal(t, "flashloan.events."+borrower.String(), ae.Subject())

		decoded, err := ae.Decode()
		require.NoError(t, err)
		assert.Equal(t, events[i], decoded)
	}
}

func TestAuditEventJSON(t *testing.T) {
	out, err := FromEvents("exec-2", 1, "borrower", []codec.Event{codec.TradeActionEvent{Action: codec.ActionBuy}})
	require.NoError(t, err)

	data, err := json.Marshal(out[0])
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "buy", raw["action_type"])
	assert.NotContains(t, raw, "amount")
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	events, err := FromEvents("exec-3", 1, "b", []codec.Event{codec.TradeActionEvent{Action: codec.ActionSell}})
	require.NoError(t, err)
	require.NoError(t, m.PublishEvents(ctx, events))
	assert.Len(t, m.GetPublishedEventsForExecution("exec-3"), 1)
	assert.Empty(t, m.GetPublishedEventsForExecution("other"))

	m.SetPublishError(errors.New("down"))
	assert.Error(t, m.PublishEvent(ctx, events[0]))

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}
