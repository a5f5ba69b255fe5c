package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/db"
	"github.com/brojonat/flashtrade/service/ledger"
	natspkg "github.com/brojonat/flashtrade/service/nats"
	"github.com/brojonat/flashtrade/service/orchestrator"
	"github.com/brojonat/flashtrade/service/simulator"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock trade runner
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req simulator.Request) (*simulator.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*simulator.Result), args.Error(1)
}

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateExecution(ctx context.Context, params db.CreateExecutionParams) (*db.Execution, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Execution), args.Error(1)
}

func newTestActivities(runner TradeRunner, store StoreInterface, publisher PublisherInterface) *Activities {
	return NewActivities(runner, store, publisher, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testAccounts() orchestrator.TradeAccounts {
	return orchestrator.TradeAccounts{
		Payer:          solanago.NewWallet().PublicKey(),
		Borrower:       solanago.NewWallet().PublicKey(),
		LoanAuthority:  solanago.NewWallet().PublicKey(),
		LendingProgram: solanago.NewWallet().PublicKey(),
	}
}

func TestExecuteTrade(t *testing.T) {
	ctx := context.Background()
	borrower := solanago.NewWallet().PublicKey()

	t.Run("committed trade", func(t *testing.T) {
		runner := new(MockRunner)
		accts := testAccounts()
		accts.Borrower = borrower
		repay := uint64(1010)
		runner.On("Run", ctx, simulator.Request{
			Actions:  []codec.TradeAction{codec.ActionBuy},
			Amount:   1000,
			Borrower: borrower,
		}).Return(&simulator.Result{
			TxID:        5,
			Mode:        simulator.ModeExecute,
			Status:      simulator.StatusCommitted,
			Accounts:    accts,
			Amount:      1000,
			RepayAmount: &repay,
			Actions:     []codec.TradeAction{codec.ActionBuy},
			Logs:        []string{"Transaction completed."},
			Events: []codec.Event{
				codec.FlashloanEvent{Borrower: borrower, Amount: 1000},
				codec.TradeActionEvent{Action: codec.ActionBuy},
			},
		}, nil)

		acts := newTestActivities(runner, nil, nil)
		res, err := acts.ExecuteTrade(ctx, ExecuteTradeInput{
			ExecutionID: "exec-1",
			Request: TradeRequest{
				Actions:  []codec.TradeAction{codec.ActionBuy},
				Amount:   1000,
				Borrower: borrower.String(),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "exec-1", res.ExecutionID)
		assert.Equal(t, "committed", res.Status)
		assert.Equal(t, borrower.String(), res.Borrower)
		assert.Equal(t, uint64(1010), *res.RepayAmount)
		require.Len(t, res.Events, 2)
		e, err := codec.DecodeEvent(res.Events[1])
		require.NoError(t, err)
		assert.Equal(t, codec.TradeActionEvent{Action: codec.ActionBuy}, e)
		assert.Nil(t, res.ErrorKind)
		runner.AssertExpectations(t)
	})

	t.Run("aborted trade is not an activity error", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", ctx, mock.Anything).Return(&simulator.Result{
			TxID:         6,
			Status:       simulator.StatusAborted,
			Accounts:     testAccounts(),
			Actions:      []codec.TradeAction{codec.ActionBuy, codec.TradeAction(9)},
			Err:          &orchestrator.AbortError{State: orchestrator.StateBorrowed, Err: orchestrator.ErrUnknownAction},
			ErrorKind:    "unknown_action",
			AbortedState: "borrowed",
		}, nil)

		res, err := newTestActivities(runner, nil, nil).ExecuteTrade(ctx, ExecuteTradeInput{ExecutionID: "exec-2"})
		require.NoError(t, err)
		assert.Equal(t, "aborted", res.Status)
		assert.Equal(t, "unknown_action", *res.ErrorKind)
		assert.Equal(t, "borrowed", *res.AbortedState)
		assert.Contains(t, *res.ErrorMessage, "unknown trade action")
		assert.Equal(t, []codec.TradeAction{codec.ActionBuy}, res.Actions)
		assert.Empty(t, res.Events)
	})

	t.Run("invalid borrower is not retryable", func(t *testing.T) {
		_, err := newTestActivities(new(MockRunner), nil, nil).ExecuteTrade(ctx, ExecuteTradeInput{
			Request: TradeRequest{Borrower: "not-base58!"},
		})
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("invalid request is not retryable", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", ctx, mock.Anything).Return(nil, simulator.ErrInvalidRequest)

		_, err := newTestActivities(runner, nil, nil).ExecuteTrade(ctx, ExecuteTradeInput{})
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, "InvalidRequest", appErr.Type())
	})

	t.Run("lock contention is retryable", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", ctx, mock.Anything).Return(nil, ledger.ErrAccountInUse)

		_, err := newTestActivities(runner, nil, nil).ExecuteTrade(ctx, ExecuteTradeInput{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrAccountInUse)
	})
}

func TestRecordExecution(t *testing.T) {
	ctx := context.Background()

	t.Run("records execution with events", func(t *testing.T) {
		store := new(MockStore)
		result := committedTradeResult(t)

		store.On("CreateExecution", ctx, mock.MatchedBy(func(p db.CreateExecutionParams) bool {
			return p.ID == "exec-1" &&
				p.Status == "committed" &&
				len(p.Events) == 2 &&
				p.Events[0].EventType == codec.FlashloanEventName &&
				p.Events[0].ActionType == nil &&
				*p.Events[1].ActionType == "buy" &&
				p.Actions[0] == "buy"
		})).Return(&db.Execution{ID: "exec-1"}, nil)

		err := newTestActivities(nil, store, nil).RecordExecution(ctx, RecordExecutionInput{Result: result})
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("store error", func(t *testing.T) {
		store := new(MockStore)
		store.On("CreateExecution", ctx, mock.Anything).Return(nil, errors.New("database error"))

		err := newTestActivities(nil, store, nil).RecordExecution(ctx, RecordExecutionInput{Result: committedTradeResult(t)})
		assert.Error(t, err)
	})

	t.Run("corrupt event is not retryable", func(t *testing.T) {
		result := committedTradeResult(t)
		result.Events = append(result.Events, []byte{1, 2})

		err := newTestActivities(nil, new(MockStore), nil).RecordExecution(ctx, RecordExecutionInput{Result: result})
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
	})
}

func TestPublishEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes committed events in order", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		res, err := newTestActivities(nil, nil, pub).PublishEvents(ctx, PublishEventsInput{Result: committedTradeResult(t)})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Published)

		events := pub.GetPublishedEventsForExecution("exec-1")
		require.Len(t, events, 2)
		assert.Equal(t, codec.FlashloanEventName, events[0].EventType)
		assert.Equal(t, "buy", events[1].ActionType)
		assert.Equal(t, 1, events[1].Sequence)
	})

	t.Run("aborted trades publish nothing", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		result := committedTradeResult(t)
		result.Status = "aborted"

		res, err := newTestActivities(nil, nil, pub).PublishEvents(ctx, PublishEventsInput{Result: result})
		require.NoError(t, err)
		assert.Zero(t, res.Published)
		assert.Empty(t, pub.GetPublishedEvents())
	})

	t.Run("simulated trades publish nothing", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		result := committedTradeResult(t)
		result.Status = "simulated"

		res, err := newTestActivities(nil, nil, pub).PublishEvents(ctx, PublishEventsInput{Result: result})
		require.NoError(t, err)
		assert.Zero(t, res.Published)
	})

	t.Run("publisher error", func(t *testing.T) {
		pub := natspkg.NewMockPublisher()
		pub.SetPublishError(errors.New("nats down"))

		_, err := newTestActivities(nil, nil, pub).PublishEvents(ctx, PublishEventsInput{Result: committedTradeResult(t)})
		assert.Error(t, err)
	})

	t.Run("nil publisher", func(t *testing.T) {
		res, err := newTestActivities(nil, nil, nil).PublishEvents(ctx, PublishEventsInput{Result: committedTradeResult(t)})
		require.NoError(t, err)
		assert.Zero(t, res.Published)
	})
}
