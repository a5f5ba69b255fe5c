package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitTrade_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/trades", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)

		assert.Equal(t, []interface{}{"buy", "sell"}, body["actions"])
		assert.Equal(t, float64(1000), body["amount"])
		assert.Equal(t, true, body["simulate"])
		assert.NotContains(t, body, "borrower")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"execution_id": "exec-1",
			"workflow_id":  "trade-exec-1",
			"run_id":       "run-1",
			"status":       "pending",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	sub, err := client.SubmitTrade(context.Background(), TradeRequest{
		Actions:  []string{"buy", "sell"},
		Amount:   1000,
		Simulate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", sub.ExecutionID)
	assert.Equal(t, "trade-exec-1", sub.WorkflowID)
	assert.Equal(t, "pending", sub.Status)
}

func TestSubmitTrade_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "amount must be positive",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	sub, err := client.SubmitTrade(context.Background(), TradeRequest{Actions: []string{"buy"}})
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.Contains(t, err.Error(), "amount must be positive")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGetTrade_Success(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	repay := uint64(1010)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/trades/exec-1", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":           "exec-1",
			"tx_id":        7,
			"status":       "committed",
			"mode":         "execute",
			"amount":       1000,
			"repay_amount": repay,
			"actions":      []string{"buy"},
			"logs":         []string{"Transaction completed."},
			"events": []map[string]interface{}{
				{"sequence": 0, "event_type": "FlashloanEvent", "amount": 1000, "data": []byte{1, 2}},
				{"sequence": 1, "event_type": "TradeActionEvent", "action_type": "buy", "data": []byte{3}},
			},
			"created_at": now,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	trade, err := client.GetTrade(context.Background(), "exec-1")
	require.NoError(t, err)

	assert.Equal(t, "exec-1", trade.ID)
	assert.Equal(t, uint64(7), trade.TxID)
	assert.Equal(t, "committed", trade.Status)
	require.NotNil(t, trade.RepayAmount)
	assert.Equal(t, repay, *trade.RepayAmount)
	require.Len(t, trade.Events, 2)
	assert.Equal(t, []byte{1, 2}, trade.Events[0].Data)
	assert.Equal(t, "buy", *trade.Events[1].ActionType)
	assert.True(t, now.Equal(trade.CreatedAt))
}

func TestGetTrade_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "trade not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	trade, err := client.GetTrade(context.Background(), "missing")
	require.Error(t, err)
	assert.Nil(t, trade)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWaitForTrade(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "trade not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "exec-1", "status": "aborted"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	trade, err := client.WaitForTrade(ctx, "exec-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "aborted", trade.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitForTrade_ContextDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.WaitForTrade(ctx, "exec-1", 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForTrade_OtherErrorStops(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.WaitForTrade(context.Background(), "exec-1", 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListTrades(t *testing.T) {
	tests := []struct {
		name      string
		opts      ListOptions
		wantQuery string
	}{
		{name: "no filters", opts: ListOptions{}, wantQuery: ""},
		{name: "status filter", opts: ListOptions{Status: "aborted"}, wantQuery: "status=aborted"},
		{
			name:      "all filters",
			opts:      ListOptions{Borrower: "11111111111111111111111111111111", Status: "committed", Limit: 10, Offset: 20},
			wantQuery: "borrower=11111111111111111111111111111111&limit=10&offset=20&status=committed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/trades", r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)

				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]interface{}{
					"trades": []map[string]interface{}{
						{"id": "a", "status": "committed"},
						{"id": "b", "status": "aborted"},
					},
					"count": 2,
				})
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			trades, err := client.ListTrades(context.Background(), tt.opts)
			require.NoError(t, err)
			require.Len(t, trades, 2)
			assert.Equal(t, "a", trades[0].ID)
			assert.Equal(t, "aborted", trades[1].Status)
		})
	}
}

func TestAuthority(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/authority", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"program_id": "497cyv12aNpr31KHVJYbRJot1QhpEiVohb2h4zkb4NZh",
			"seed":       "flashloan-seed",
			"address":    "ADDR",
			"bump":       254,
		})
	}))
	defer server.Close()

	info, err := NewClient(server.URL, nil, nil).Authority(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "flashloan-seed", info.Seed)
	assert.Equal(t, uint8(254), info.Bump)
}

func TestHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)
	assert.NoError(t, client.Health(context.Background()))

	healthy.Store(false)
	err := client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}
