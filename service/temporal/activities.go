package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/db"
	"github.com/brojonat/flashtrade/service/metrics"
	natspkg "github.com/brojonat/flashtrade/service/nats"
	"github.com/brojonat/flashtrade/service/simulator"
	solanago "github.com/gagliardetto/solana-go"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// TradeRequest is a trade submitted for execution.
type TradeRequest struct {
	Actions  []codec.TradeAction `json:"actions"`
	Amount   uint64              `json:"amount"`
	Borrower string              `json:"borrower,omitempty"` // Optional base58 address
	Simulate bool                `json:"simulate,omitempty"`
}

// TradeWorkflowInput contains the input parameters for ExecuteTradeWorkflow.
type TradeWorkflowInput struct {
	ExecutionID string       `json:"execution_id"`
	Request     TradeRequest `json:"request"`
}

// TradeWorkflowResult summarizes a finished trade workflow.
type TradeWorkflowResult struct {
	ExecutionID  string  `json:"execution_id"`
	TxID         uint64  `json:"tx_id"`
	Status       string  `json:"status"`
	ErrorKind    *string `json:"error_kind,omitempty"`
	AbortedState *string `json:"aborted_state,omitempty"`
	EventCount   int     `json:"event_count"`
	Published    int     `json:"published"`
}

// ExecuteTradeInput contains parameters for the ExecuteTrade activity.
type ExecuteTradeInput struct {
	ExecutionID string       `json:"execution_id"`
	Request     TradeRequest `json:"request"`
}

// ExecuteTradeResult is the serializable outcome of one trade.
type ExecuteTradeResult struct {
	ExecutionID    string              `json:"execution_id"`
	TxID           uint64              `json:"tx_id"`
	Mode           string              `json:"mode"`
	Status         string              `json:"status"`
	Payer          string              `json:"payer"`
	Borrower       string              `json:"borrower"`
	LoanAuthority  string              `json:"loan_authority"`
	LendingProgram string              `json:"lending_program"`
	Amount         uint64              `json:"amount"`
	RepayAmount    *uint64             `json:"repay_amount,omitempty"`
	Actions        []codec.TradeAction `json:"actions"`
	Logs           []string            `json:"logs"`
	Events         [][]byte            `json:"events"` // Wire encoded, in emission order
	ErrorKind      *string             `json:"error_kind,omitempty"`
	ErrorMessage   *string             `json:"error_message,omitempty"`
	AbortedState   *string             `json:"aborted_state,omitempty"`
}

// RecordExecutionInput contains parameters for the RecordExecution activity.
type RecordExecutionInput struct {
	Result    *ExecuteTradeResult `json:"result"`
	StartedAt time.Time           `json:"started_at"`
}

// PublishEventsInput contains parameters for the PublishEvents activity.
type PublishEventsInput struct {
	Result *ExecuteTradeResult `json:"result"`
}

// PublishEventsResult contains the result of publishing audit events.
type PublishEventsResult struct {
	Published int `json:"published"`
}

// TradeRunner executes trades. *simulator.Simulator implements it.
type TradeRunner interface {
	Run(ctx context.Context, req simulator.Request) (*simulator.Result, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	CreateExecution(ctx context.Context, params db.CreateExecutionParams) (*db.Execution, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishEvents(ctx context.Context, events []*natspkg.AuditEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	runner    TradeRunner
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. If publisher is nil, audit
// events are not published.
func NewActivities(
	runner TradeRunner,
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		runner:    runner,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) recordDuration(activity string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, err, time.Since(start).Seconds())
	}
}

// ExecuteTrade runs one trade. An aborted trade is a successful activity;
// only submission failures are returned as errors. Invalid requests are not
// retried.
func (a *Activities) ExecuteTrade(ctx context.Context, input ExecuteTradeInput) (result *ExecuteTradeResult, err error) {
	start := time.Now()
	defer func() { a.recordDuration("ExecuteTrade", start, err) }()

	a.logger.DebugContext(ctx, "executing trade",
		"execution_id", input.ExecutionID,
		"actions", len(input.Request.Actions),
		"amount", input.Request.Amount,
		"simulate", input.Request.Simulate,
	)

	req := simulator.Request{
		Actions:  input.Request.Actions,
		Amount:   input.Request.Amount,
		Simulate: input.Request.Simulate,
	}
	if input.Request.Borrower != "" {
		borrower, err := solanago.PublicKeyFromBase58(input.Request.Borrower)
		if err != nil {
			return nil, temporalsdk.NewNonRetryableApplicationError(
				fmt.Sprintf("invalid borrower address: %v", err), "InvalidRequest", err)
		}
		req.Borrower = borrower
	}

	res, err := a.runner.Run(ctx, req)
	if errors.Is(err, simulator.ErrInvalidRequest) {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidRequest", err)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to execute trade",
			"execution_id", input.ExecutionID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to execute trade: %w", err)
	}

	result, err = toExecuteTradeResult(input.ExecutionID, res)
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "trade executed",
		"execution_id", input.ExecutionID,
		"tx_id", result.TxID,
		"status", result.Status,
		"events", len(result.Events),
	)
	return result, nil
}

// RecordExecution persists a trade outcome and its events.
func (a *Activities) RecordExecution(ctx context.Context, input RecordExecutionInput) (err error) {
	start := time.Now()
	defer func() { a.recordDuration("RecordExecution", start, err) }()

	r := input.Result
	if r == nil {
		return temporalsdk.NewNonRetryableApplicationError("missing trade result", "InvalidRequest", nil)
	}

	events, err := decodeEvents(r.Events)
	if err != nil {
		return temporalsdk.NewNonRetryableApplicationError(err.Error(), "EncodingFailure", err)
	}

	params := db.CreateExecutionParams{
		ID:             r.ExecutionID,
		TxID:           r.TxID,
		Status:         r.Status,
		Mode:           r.Mode,
		AbortedState:   r.AbortedState,
		ErrorKind:      r.ErrorKind,
		ErrorMessage:   r.ErrorMessage,
		Payer:          r.Payer,
		Borrower:       r.Borrower,
		LoanAuthority:  r.LoanAuthority,
		LendingProgram: r.LendingProgram,
		Amount:         r.Amount,
		RepayAmount:    r.RepayAmount,
		Actions:        actionNames(r.Actions),
		Logs:           r.Logs,
	}
	for i, e := range events {
		ev := &db.Event{Sequence: i, EventType: e.EventName(), Data: r.Events[i]}
		if ta, ok := e.(codec.TradeActionEvent); ok {
			name := ta.Action.String()
			ev.ActionType = &name
		}
		params.Events = append(params.Events, ev)
	}

	if _, err := a.store.CreateExecution(ctx, params); err != nil {
		a.logger.ErrorContext(ctx, "failed to record execution",
			"execution_id", r.ExecutionID,
			"error", err,
		)
		return fmt.Errorf("failed to record execution: %w", err)
	}

	if a.metrics != nil && !input.StartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(r.Status, time.Since(input.StartedAt).Seconds())
	}

	a.logger.InfoContext(ctx, "recorded execution",
		"execution_id", r.ExecutionID,
		"status", r.Status,
		"events", len(params.Events),
	)
	return nil
}

// PublishEvents publishes the audit events of a committed trade to NATS.
// Message IDs make redelivery after a retry idempotent.
func (a *Activities) PublishEvents(ctx context.Context, input PublishEventsInput) (result *PublishEventsResult, err error) {
	start := time.Now()
	defer func() { a.recordDuration("PublishEvents", start, err) }()

	r := input.Result
	if r == nil || r.Status != simulator.StatusCommitted || len(r.Events) == 0 {
		return &PublishEventsResult{}, nil
	}
	if a.publisher == nil {
		a.logger.WarnContext(ctx, "publisher is nil, skipping audit events", "execution_id", r.ExecutionID)
		return &PublishEventsResult{}, nil
	}

	events, err := decodeEvents(r.Events)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "EncodingFailure", err)
	}
	audit, err := natspkg.FromEvents(r.ExecutionID, r.TxID, r.Borrower, events)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "EncodingFailure", err)
	}

	if err := a.publisher.PublishEvents(ctx, audit); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish audit events",
			"execution_id", r.ExecutionID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish audit events: %w", err)
	}

	a.logger.InfoContext(ctx, "published audit events",
		"execution_id", r.ExecutionID,
		"count", len(audit),
	)
	return &PublishEventsResult{Published: len(audit)}, nil
}

func toExecuteTradeResult(executionID string, res *simulator.Result) (*ExecuteTradeResult, error) {
	out := &ExecuteTradeResult{
		ExecutionID:    executionID,
		TxID:           res.TxID,
		Mode:           res.Mode,
		Status:         res.Status,
		Payer:          res.Accounts.Payer.String(),
		Borrower:       res.Accounts.Borrower.String(),
		LoanAuthority:  res.Accounts.LoanAuthority.String(),
		LendingProgram: res.Accounts.LendingProgram.String(),
		Amount:         res.Amount,
		RepayAmount:    res.RepayAmount,
		Actions:        validActions(res.Actions),
		Logs:           res.Logs,
	}
	for _, e := range res.Events {
		data, err := codec.EncodeEvent(e)
		if err != nil {
			return nil, err
		}
		out.Events = append(out.Events, data)
	}
	if res.Err != nil {
		kind := res.ErrorKind
		msg := res.Err.Error()
		out.ErrorKind = &kind
		out.ErrorMessage = &msg
		if res.AbortedState != "" {
			state := res.AbortedState
			out.AbortedState = &state
		}
	}
	return out, nil
}

// validActions drops tags that cannot be serialized. Unknown tags only occur
// in aborted trades, whose error already names them.
func validActions(actions []codec.TradeAction) []codec.TradeAction {
	out := make([]codec.TradeAction, 0, len(actions))
	for _, a := range actions {
		if a.Valid() {
			out = append(out, a)
		}
	}
	return out
}

func actionNames(actions []codec.TradeAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.String())
	}
	return out
}

func decodeEvents(raw [][]byte) ([]codec.Event, error) {
	out := make([]codec.Event, 0, len(raw))
	for i, data := range raw {
		e, err := codec.DecodeEvent(data)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
