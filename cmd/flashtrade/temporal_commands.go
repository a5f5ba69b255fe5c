package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/temporal"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// getTemporalClient connects using the temporal-* global flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		0,
		logger,
	)
}

func startTradeWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a trade workflow directly, bypassing the HTTP server",
		ArgsUsage: "[ACTION...]",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount to borrow, in base units",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "borrower",
				Usage: "Borrower address",
			},
			&cli.StringFlag{
				Name:  "execution-id",
				Usage: "Execution ID (a UUID is generated when empty)",
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Run the trade without committing it",
			},
		},
		Action: func(c *cli.Context) error {
			actions, err := codec.ParseTradeActions(c.Args().Slice())
			if err != nil {
				return err
			}
			executionID := c.String("execution-id")
			if executionID == "" {
				executionID = uuid.NewString()
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			workflowID, runID, err := tc.StartTrade(context.Background(), executionID, temporal.TradeRequest{
				Actions:  actions,
				Amount:   c.Uint64("amount"),
				Borrower: c.String("borrower"),
				Simulate: c.Bool("simulate"),
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]string{
					"execution_id": executionID,
					"workflow_id":  workflowID,
					"run_id":       runID,
				})
			}
			fmt.Fprintf(c.App.Writer, "✓ Workflow started\n")
			fmt.Fprintf(c.App.Writer, "  Execution ID: %s\n", executionID)
			fmt.Fprintf(c.App.Writer, "  Workflow ID:  %s\n", workflowID)
			fmt.Fprintf(c.App.Writer, "  Run ID:       %s\n", runID)
			return nil
		},
	}
}

func tradeResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a trade workflow to finish and print its result",
		ArgsUsage: "EXECUTION_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait",
				Value: time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: execution id")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			result, err := tc.TradeResult(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, result)
			}
			printWorkflowResult(c.App.Writer, result)
			return nil
		},
	}
}

func describeWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Show the workflow execution state of a trade",
		ArgsUsage: "EXECUTION_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: execution id")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			workflowID := temporal.WorkflowID(c.Args().First())
			resp, err := tc.SDKClient().DescribeWorkflowExecution(context.Background(), workflowID, "")
			if err != nil {
				return fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
			}
			info := resp.GetWorkflowExecutionInfo()

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]interface{}{
					"workflow_id": workflowID,
					"run_id":      info.GetExecution().GetRunId(),
					"status":      info.GetStatus().String(),
					"task_queue":  info.GetTaskQueue(),
					"start_time":  info.GetStartTime().AsTime(),
				})
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Workflow ID: %s\n", workflowID)
			fmt.Fprintf(w, "Run ID:      %s\n", info.GetExecution().GetRunId())
			fmt.Fprintf(w, "Status:      %s\n", info.GetStatus().String())
			fmt.Fprintf(w, "Task Queue:  %s\n", info.GetTaskQueue())
			fmt.Fprintf(w, "Started:     %s\n", info.GetStartTime().AsTime().Format(time.RFC3339))
			if info.GetCloseTime() != nil {
				fmt.Fprintf(w, "Closed:      %s\n", info.GetCloseTime().AsTime().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func printWorkflowResult(w io.Writer, r *temporal.TradeWorkflowResult) {
	fmt.Fprintf(w, "Execution ID: %s\n", r.ExecutionID)
	fmt.Fprintf(w, "Tx ID:        %d\n", r.TxID)
	fmt.Fprintf(w, "Status:       %s\n", r.Status)
	if r.ErrorKind != nil {
		fmt.Fprintf(w, "Error Kind:   %s\n", *r.ErrorKind)
	}
	if r.AbortedState != nil {
		fmt.Fprintf(w, "Aborted In:   %s\n", *r.AbortedState)
	}
	fmt.Fprintf(w, "Events:       %d (%d published)\n", r.EventCount, r.Published)
}
