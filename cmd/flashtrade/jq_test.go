package main

import (
	"bytes"
	"testing"

	natspkg "github.com/brojonat/flashtrade/service/nats"
	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQFilterMatching(t *testing.T) {
	amount := uint64(1000)
	flashloan := &natspkg.AuditEvent{
		ExecutionID: "exec-1",
		Sequence:    0,
		EventType:   "FlashloanEvent",
		Borrower:    "Borrower1",
		Amount:      &amount,
	}
	action := &natspkg.AuditEvent{
		ExecutionID: "exec-1",
		Sequence:    1,
		EventType:   "TradeActionEvent",
		Borrower:    "Borrower1",
		ActionType:  "sell",
	}

	tests := []struct {
		name        string
		event       *natspkg.AuditEvent
		filters     []string
		expectMatch bool
		expectErr   bool
	}{
		{
			name:        "event type match",
			event:       flashloan,
			filters:     []string{`.event_type == "FlashloanEvent"`},
			expectMatch: true,
		},
		{
			name:        "event type mismatch",
			event:       action,
			filters:     []string{`.event_type == "FlashloanEvent"`},
			expectMatch: false,
		},
		{
			name:        "amount threshold",
			event:       flashloan,
			filters:     []string{`.amount >= 500`},
			expectMatch: true,
		},
		{
			name:        "missing field is null and falsy",
			event:       action,
			filters:     []string{`.amount`},
			expectMatch: false,
		},
		{
			name:        "all filters must match",
			event:       action,
			filters:     []string{`.execution_id == "exec-1"`, `.action_type == "buy"`},
			expectMatch: false,
		},
		{
			name:        "contains on object",
			event:       action,
			filters:     []string{`contains({action_type: "sell", borrower: "Borrower1"})`},
			expectMatch: true,
		},
		{
			name:        "non-boolean result is truthy",
			event:       flashloan,
			filters:     []string{`.borrower`},
			expectMatch: true,
		},
		{
			name:        "empty result does not match",
			event:       flashloan,
			filters:     []string{`empty`},
			expectMatch: false,
		},
		{
			name:      "runtime error",
			event:     flashloan,
			filters:   []string{`.borrower | tonumber`},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var codes []*gojq.Code
			for _, f := range tt.filters {
				code, err := compileJQ(f)
				require.NoError(t, err)
				codes = append(codes, code)
			}

			matched, err := matchesAll(codes, tt.event)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, matched)
		})
	}
}

func TestCompileJQ_Invalid(t *testing.T) {
	_, err := compileJQ(`.[`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid jq filter")
}

func TestWriteJQ(t *testing.T) {
	code, err := compileJQ(`.actions[], {n: (.actions | length)}`)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeJQ(&buf, code, map[string]interface{}{"actions": []string{"buy", "sell"}}))
	assert.Equal(t, "buy\nsell\n{\"n\":2}\n", buf.String())
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}
