package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrTradeExists is returned when an execution ID has already been used.
var ErrTradeExists = errors.New("trade execution already exists")

// Client starts trade workflows on Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClient creates a new Temporal client. timeout bounds each trade
// workflow execution; zero means no bound.
func NewClient(host, namespace, taskQueue string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// StartTrade starts ExecuteTradeWorkflow for one execution. Each execution ID
// runs at most once; reusing one returns ErrTradeExists.
func (c *Client) StartTrade(ctx context.Context, executionID string, req TradeRequest) (workflowID, runID string, err error) {
	workflowID = WorkflowID(executionID)

	c.logger.Debug("starting trade workflow",
		"execution_id", executionID,
		"workflow_id", workflowID,
		"amount", req.Amount,
		"actions", len(req.Actions),
	)

	opts := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: c.timeout,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		Memo: map[string]interface{}{
			"execution_id": executionID,
			"created_by":   "flashtrade",
		},
	}
	// Surface a still-running duplicate instead of attaching to it.
	opts.WorkflowExecutionErrorWhenAlreadyStarted = true

	run, err := c.client.ExecuteWorkflow(ctx, opts, ExecuteTradeWorkflow, TradeWorkflowInput{
		ExecutionID: executionID,
		Request:     req,
	})
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return "", "", fmt.Errorf("%w: %s", ErrTradeExists, executionID)
	}
	if err != nil {
		c.logger.Error("failed to start trade workflow",
			"execution_id", executionID,
			"workflow_id", workflowID,
			"error", err,
		)
		return "", "", fmt.Errorf("failed to start workflow %q: %w", workflowID, err)
	}

	c.logger.Info("trade workflow started",
		"execution_id", executionID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), run.GetRunID(), nil
}

// TradeResult waits for the trade workflow of an execution to finish.
func (c *Client) TradeResult(ctx context.Context, executionID string) (*TradeWorkflowResult, error) {
	var result TradeWorkflowResult
	run := c.client.GetWorkflow(ctx, WorkflowID(executionID), "")
	if err := run.Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("trade workflow %q failed: %w", run.GetID(), err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
