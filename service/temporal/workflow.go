package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ExecuteTradeWorkflow runs one trade and records its outcome.
//
// The workflow performs these steps:
// 1. Execute the trade on the ledger (ExecuteTrade activity)
// 2. Persist the outcome and its events (RecordExecution activity)
// 3. Publish the audit events of committed trades to NATS (PublishEvents activity)
//
// An aborted trade completes the workflow successfully with status "aborted".
func ExecuteTradeWorkflow(ctx workflow.Context, input TradeWorkflowInput) (*TradeWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ExecuteTradeWorkflow started",
		"execution_id", input.ExecutionID,
		"amount", input.Request.Amount,
		"actions", len(input.Request.Actions),
	)
	startedAt := workflow.Now(ctx)

	result := &TradeWorkflowResult{ExecutionID: input.ExecutionID}

	// Lock contention on the shared reserve is the common transient failure.
	tradeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        100 * time.Millisecond,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{"InvalidRequest"},
		},
	})
	ioCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{"InvalidRequest", "EncodingFailure"},
		},
	})

	// Step 1: Execute the trade
	var trade *ExecuteTradeResult
	err := workflow.ExecuteActivity(tradeCtx, a.ExecuteTrade, ExecuteTradeInput{
		ExecutionID: input.ExecutionID,
		Request:     input.Request,
	}).Get(ctx, &trade)
	if err != nil {
		logger.Error("failed to execute trade", "execution_id", input.ExecutionID, "error", err)
		return result, fmt.Errorf("failed to execute trade: %w", err)
	}

	result.TxID = trade.TxID
	result.Status = trade.Status
	result.ErrorKind = trade.ErrorKind
	result.AbortedState = trade.AbortedState
	result.EventCount = len(trade.Events)

	logger.Info("trade finished",
		"execution_id", input.ExecutionID,
		"tx_id", trade.TxID,
		"status", trade.Status,
	)

	// Step 2: Record the outcome
	err = workflow.ExecuteActivity(ioCtx, a.RecordExecution, RecordExecutionInput{
		Result:    trade,
		StartedAt: startedAt,
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("failed to record execution", "execution_id", input.ExecutionID, "error", err)
		return result, fmt.Errorf("failed to record execution: %w", err)
	}

	// Step 3: Publish audit events. Only committed trades have any.
	if trade.Status != "committed" || len(trade.Events) == 0 {
		logger.Info("ExecuteTradeWorkflow completed", "execution_id", input.ExecutionID, "status", trade.Status)
		return result, nil
	}

	var published *PublishEventsResult
	err = workflow.ExecuteActivity(ioCtx, a.PublishEvents, PublishEventsInput{Result: trade}).Get(ctx, &published)
	if err != nil {
		logger.Error("failed to publish audit events", "execution_id", input.ExecutionID, "error", err)
		return result, fmt.Errorf("failed to publish audit events: %w", err)
	}
	result.Published = published.Published

	logger.Info("ExecuteTradeWorkflow completed",
		"execution_id", input.ExecutionID,
		"status", trade.Status,
		"published", result.Published,
	)
	return result, nil
}

// WorkflowID returns the workflow ID for an execution.
func WorkflowID(executionID string) string {
	return "trade-" + executionID
}
