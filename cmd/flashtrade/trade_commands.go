package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/flashtrade/client"
	"github.com/urfave/cli/v2"
)

func tradeCommands() *cli.Command {
	return &cli.Command{
		Name:  "trades",
		Usage: "HTTP client commands for submitting and inspecting trades",
		Subcommands: []*cli.Command{
			submitTradeCommand(),
			getTradeCommand(),
			listTradesCommand(),
			waitTradeCommand(),
			serverAuthorityCommand(),
		},
	}
}

var jqFlag = &cli.StringFlag{
	Name:  "jq",
	Usage: "jq expression applied to the JSON result (e.g. '.events[].event_type')",
}

// newClient builds an HTTP client for the --server-url global flag. Client
// logs go to stderr and only errors are shown.
func newClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(serverURL, nil, logger), nil
}

func submitTradeCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit a trade",
		ArgsUsage: "[ACTION...]",
		Description: `Submit a flash loan trade. Actions are "buy" or "sell" and run in order.

Example:
  flashtrade trades submit --amount 1000 --wait buy sell`,
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "amount",
				Aliases:  []string{"a"},
				Usage:    "Amount to borrow, in base units",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "borrower",
				Usage: "Borrower address (a fresh address is used when empty)",
			},
			&cli.StringFlag{
				Name:  "execution-id",
				Usage: "Execution ID (generated by the server when empty)",
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Run the trade without committing it",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Wait for the trade to be recorded and print it",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait with --wait",
				Value: time.Minute,
			},
			jqFlag,
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			sub, err := cl.SubmitTrade(context.Background(), client.TradeRequest{
				ExecutionID: c.String("execution-id"),
				Actions:     c.Args().Slice(),
				Amount:      c.Uint64("amount"),
				Borrower:    c.String("borrower"),
				Simulate:    c.Bool("simulate"),
			})
			if err != nil {
				return fmt.Errorf("failed to submit trade: %w", err)
			}

			if !c.Bool("wait") {
				return output(c.App.Writer, c.String("jq"), c.Bool("json"), sub, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Trade submitted\n")
					fmt.Fprintf(w, "  Execution ID: %s\n", sub.ExecutionID)
					fmt.Fprintf(w, "  Workflow ID:  %s\n", sub.WorkflowID)
					fmt.Fprintf(w, "  Run ID:       %s\n", sub.RunID)
				})
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()
			trade, err := cl.WaitForTrade(ctx, sub.ExecutionID, 500*time.Millisecond)
			if err != nil {
				return err
			}
			return output(c.App.Writer, c.String("jq"), c.Bool("json"), trade, func(w io.Writer) {
				printTrade(w, trade)
			})
		},
	}
}

func getTradeCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a recorded trade with its logs and events",
		ArgsUsage: "EXECUTION_ID",
		Flags:     []cli.Flag{jqFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: execution id")
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			trade, err := cl.GetTrade(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get trade: %w", err)
			}
			return output(c.App.Writer, c.String("jq"), c.Bool("json"), trade, func(w io.Writer) {
				printTrade(w, trade)
			})
		},
	}
}

func listTradesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List recorded trades, most recent first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "borrower",
				Usage: "Filter by borrower address",
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (committed, aborted, simulated)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of trades to retrieve (1-1000)",
			},
			&cli.IntFlag{
				Name:    "offset",
				Aliases: []string{"o"},
				Usage:   "Number of trades to skip",
			},
			jqFlag,
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			offset := c.Int("offset")
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			if offset < 0 {
				return fmt.Errorf("offset cannot be negative")
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			trades, err := cl.ListTrades(context.Background(), client.ListOptions{
				Borrower: c.String("borrower"),
				Status:   c.String("status"),
				Limit:    limit,
				Offset:   offset,
			})
			if err != nil {
				return fmt.Errorf("failed to list trades: %w", err)
			}

			return output(c.App.Writer, c.String("jq"), c.Bool("json"), trades, func(w io.Writer) {
				if len(trades) == 0 {
					fmt.Fprintln(w, "No trades found")
					return
				}
				printTradeTable(w, trades)
			})
		},
	}
}

func waitTradeCommand() *cli.Command {
	return &cli.Command{
		Name:      "wait",
		Usage:     "Block until a submitted trade is recorded",
		ArgsUsage: "EXECUTION_ID",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   time.Minute,
				Usage:   "How long to wait",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "Polling interval",
			},
			jqFlag,
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: execution id")
			}
			cl, err := newClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			trade, err := cl.WaitForTrade(ctx, c.Args().First(), c.Duration("interval"))
			if err != nil {
				return err
			}
			return output(c.App.Writer, c.String("jq"), c.Bool("json"), trade, func(w io.Writer) {
				printTrade(w, trade)
			})
		},
	}
}

func serverAuthorityCommand() *cli.Command {
	return &cli.Command{
		Name:  "authority",
		Usage: "Show the loan authority the server signs with",
		Flags: []cli.Flag{jqFlag},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			info, err := cl.Authority(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get authority: %w", err)
			}
			return output(c.App.Writer, c.String("jq"), c.Bool("json"), info, func(w io.Writer) {
				fmt.Fprintf(w, "Program:          %s\n", info.ProgramID)
				fmt.Fprintf(w, "Seed:             %s\n", info.Seed)
				fmt.Fprintf(w, "Address:          %s\n", info.Address)
				fmt.Fprintf(w, "Bump:             %d\n", info.Bump)
				fmt.Fprintf(w, "Lending Programs: %s\n", strings.Join(info.LendingPrograms, ", "))
				fmt.Fprintf(w, "Min Amount:       %d\n", info.MinTradeAmount)
			})
		},
	}
}

func printTrade(w io.Writer, t *client.Trade) {
	fmt.Fprintf(w, "Execution ID:    %s\n", t.ID)
	fmt.Fprintf(w, "Tx ID:           %d\n", t.TxID)
	fmt.Fprintf(w, "Status:          %s\n", t.Status)
	fmt.Fprintf(w, "Mode:            %s\n", t.Mode)
	fmt.Fprintf(w, "Actions:         %s\n", strings.Join(t.Actions, ", "))
	fmt.Fprintf(w, "Amount:          %d\n", t.Amount)
	if t.RepayAmount != nil {
		fmt.Fprintf(w, "Repay Amount:    %d\n", *t.RepayAmount)
	}
	fmt.Fprintf(w, "Borrower:        %s\n", t.Borrower)
	fmt.Fprintf(w, "Loan Authority:  %s\n", t.LoanAuthority)
	fmt.Fprintf(w, "Lending Program: %s\n", t.LendingProgram)
	if t.ErrorKind != nil {
		fmt.Fprintf(w, "Error Kind:      %s\n", *t.ErrorKind)
	}
	if t.AbortedState != nil {
		fmt.Fprintf(w, "Aborted In:      %s\n", *t.AbortedState)
	}
	if t.ErrorMessage != nil {
		fmt.Fprintf(w, "Error:           %s\n", *t.ErrorMessage)
	}
	fmt.Fprintf(w, "Created:         %s\n", t.CreatedAt.Format(time.RFC3339))

	if len(t.Events) > 0 {
		fmt.Fprintf(w, "\nEvents:\n")
		for _, e := range t.Events {
			switch {
			case e.Amount != nil:
				fmt.Fprintf(w, "  [%d] %s borrower=%s amount=%d\n", e.Sequence, e.EventType, e.Borrower, *e.Amount)
			case e.ActionType != nil:
				fmt.Fprintf(w, "  [%d] %s action=%s\n", e.Sequence, e.EventType, *e.ActionType)
			default:
				fmt.Fprintf(w, "  [%d] %s\n", e.Sequence, e.EventType)
			}
		}
	}
	if len(t.Logs) > 0 {
		fmt.Fprintf(w, "\nLogs:\n")
		for _, l := range t.Logs {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}

func printTradeTable(w io.Writer, trades []*client.Trade) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tMODE\tAMOUNT\tACTIONS\tBORROWER\tCREATED")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.Mode,
			t.Amount,
			strings.Join(t.Actions, ","),
			t.Borrower,
			t.CreatedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d trades\n", len(trades))
}
