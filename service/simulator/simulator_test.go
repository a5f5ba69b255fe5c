package simulator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/metrics"
	"github.com/brojonat/flashtrade/service/orchestrator"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testProgramID = solana.MustPublicKeyFromBase58("497cyv12aNpr31KHVJYbRJot1QhpEiVohb2h4zkb4NZh")
	testLendingID = solana.MustPublicKeyFromBase58("ALend7Ketfx5bxh6ghsCDXAoDrhvEmsXT3cynB6aPLgx")
)

func newTestSimulator(t *testing.T, cfg Config, m *metrics.Metrics) *Simulator {
	t.Helper()
	cfg.ProgramID = testProgramID
	cfg.LendingProgramID = testLendingID
	s, err := New(cfg, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestNewRequiresProgramIDs(t *testing.T) {
	_, err := New(Config{LendingProgramID: testLendingID}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = New(Config{ProgramID: testProgramID}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunCommits(t *testing.T) {
	s := newTestSimulator(t, Config{}, nil)
	borrower := solana.NewWallet().PublicKey()

	res, err := s.Run(context.Background(), Request{
		Actions:  []codec.TradeAction{codec.ActionBuy, codec.ActionSell},
		Amount:   1000,
		Borrower: borrower,
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, ModeExecute, res.Mode)
	require.NotNil(t, res.RepayAmount)
	assert.Equal(t, uint64(1010), *res.RepayAmount)
	assert.Equal(t, s.Authority().Address, res.Accounts.LoanAuthority)

	require.Len(t, res.Events, 3)
	assert.Equal(t, codec.FlashloanEvent{Borrower: borrower, Amount: 1000}, res.Events[0])
	assert.Equal(t, codec.TradeActionEvent{Action: codec.ActionBuy}, res.Events[1])
	assert.Equal(t, codec.TradeActionEvent{Action: codec.ActionSell}, res.Events[2])

	reserve, err := s.ReserveState()
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultReserveLiquidity+10), reserve.Available)
	assert.Zero(t, reserve.Outstanding)

	dest, ok := s.Ledger().Account(res.Accounts.DestinationLiquidity)
	require.True(t, ok)
	assert.Equal(t, uint64(DefaultDestinationBalance-10), dest.Balance)
	assert.False(t, s.Ledger().Exists(res.Accounts.LoanAuthority))
}

func TestRunSimulateDoesNotCommit(t *testing.T) {
	s := newTestSimulator(t, Config{}, nil)

	res, err := s.Run(context.Background(), Request{
		Actions:  []codec.TradeAction{codec.ActionBuy},
		Amount:   500,
		Simulate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSimulated, res.Status)
	assert.Equal(t, ModeSimulate, res.Mode)
	assert.Len(t, res.Events, 2)

	reserve, err := s.ReserveState()
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultReserveLiquidity), reserve.Available)

	dest, ok := s.Ledger().Account(res.Accounts.DestinationLiquidity)
	require.True(t, ok)
	assert.Equal(t, uint64(DefaultDestinationBalance), dest.Balance)
}

func TestRunAborts(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		req       Request
		wantKind  string
		wantState string
	}{
		{
			name:      "zero amount",
			req:       Request{Actions: []codec.TradeAction{codec.ActionBuy}, Amount: 0},
			wantKind:  "invalid_amount",
			wantState: "init",
		},
		{
			name:      "borrow exceeds liquidity",
			cfg:       Config{ReserveLiquidity: 100},
			req:       Request{Actions: []codec.TradeAction{codec.ActionBuy}, Amount: 101},
			wantKind:  "borrow_rejected",
			wantState: "init",
		},
		{
			name:      "unknown action",
			req:       Request{Actions: []codec.TradeAction{codec.ActionBuy, codec.TradeAction(7)}, Amount: 100},
			wantKind:  "unknown_action",
			wantState: "borrowed",
		},
		{
			name:      "fee not covered",
			cfg:       Config{DestinationBalance: 1},
			req:       Request{Actions: []codec.TradeAction{codec.ActionSell}, Amount: 1000},
			wantKind:  "repay_rejected",
			wantState: "actions_executed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSimulator(t, tt.cfg, nil)
			before, err := s.ReserveState()
			require.NoError(t, err)

			res, err := s.Run(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, StatusAborted, res.Status)
			assert.Error(t, res.Err)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			assert.Equal(t, tt.wantState, res.AbortedState)
			assert.Empty(t, res.Events)
			assert.Nil(t, res.RepayAmount)

			after, err := s.ReserveState()
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestRunEmptyActionsCommits(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestSimulator(t, Config{}, metrics.NewMetrics(reg))
	borrower := solana.NewWallet().PublicKey()

	res, err := s.Run(context.Background(), Request{Amount: 1000, Borrower: borrower})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusCommitted, res.Status)
	require.Len(t, res.Events, 1)
	assert.Equal(t, codec.FlashloanEvent{Borrower: borrower, Amount: 1000}, res.Events[0])

	events, err := testutil.GatherAndCount(reg, "flashtrade_audit_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, events)
}

func TestRunRejectsTooManyActions(t *testing.T) {
	s := newTestSimulator(t, Config{}, nil)
	actions := make([]codec.TradeAction, MaxActions+1)
	_, err := s.Run(context.Background(), Request{Actions: actions, Amount: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunWithExecutor(t *testing.T) {
	var seen []orchestrator.TradeAction
	exec := orchestrator.ExecutorFunc(func(h orchestrator.Host, action orchestrator.TradeAction) error {
		seen = append(seen, action)
		if action == orchestrator.Sell {
			return errors.New("market closed")
		}
		return nil
	})
	s := newTestSimulator(t, Config{Executor: exec}, nil)

	res, err := s.Run(context.Background(), Request{
		Actions: []codec.TradeAction{codec.ActionBuy, codec.ActionSell, codec.ActionBuy},
		Amount:  100,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, []orchestrator.TradeAction{orchestrator.Buy, orchestrator.Sell}, seen)
}

func TestRunRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	s := newTestSimulator(t, Config{}, m)

	_, err := s.Run(context.Background(), Request{Actions: []codec.TradeAction{codec.ActionBuy}, Amount: 100})
	require.NoError(t, err)
	_, err = s.Run(context.Background(), Request{Actions: []codec.TradeAction{codec.ActionBuy}, Amount: 0})
	require.NoError(t, err)

	trades, err := testutil.GatherAndCount(reg, "flashtrade_trades_total")
	require.NoError(t, err)
	assert.Equal(t, 2, trades)

	ledgerTxs, err := testutil.GatherAndCount(reg, "flashtrade_ledger_transactions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, ledgerTxs)

	eventSeries, err := testutil.GatherAndCount(reg, "flashtrade_audit_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, eventSeries, "flash loan and trade action events are both counted")
}
