package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/flashtrade/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listExecutionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List recorded trade executions",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (committed, aborted, simulated)",
			},
			&cli.StringFlag{
				Name:  "borrower",
				Usage: "Filter by borrower address",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   50,
				Usage:   "Maximum number of executions to list",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			executions, err := store.ListExecutions(context.Background(), db.ListExecutionsParams{
				Borrower: c.String("borrower"),
				Status:   c.String("status"),
				Limit:    int32(c.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("failed to list executions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, executions)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTX\tSTATUS\tMODE\tAMOUNT\tACTIONS\tERROR\tCREATED")
			for _, e := range executions {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
					e.ID,
					e.TxID,
					e.Status,
					e.Mode,
					e.Amount,
					strings.Join(e.Actions, ","),
					formatOptional(e.ErrorKind),
					e.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d executions\n", len(executions))
			return nil
		},
	}
}

func getExecutionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get an execution with its logs and events",
		ArgsUsage: "<execution-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: execution id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			exec, err := store.GetExecution(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get execution: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, exec)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "ID:              %s\n", exec.ID)
			fmt.Fprintf(w, "Tx ID:           %d\n", exec.TxID)
			fmt.Fprintf(w, "Status:          %s\n", exec.Status)
			fmt.Fprintf(w, "Mode:            %s\n", exec.Mode)
			fmt.Fprintf(w, "Actions:         %s\n", strings.Join(exec.Actions, ", "))
			fmt.Fprintf(w, "Amount:          %d\n", exec.Amount)
			if exec.RepayAmount != nil {
				fmt.Fprintf(w, "Repay Amount:    %d\n", *exec.RepayAmount)
			}
			fmt.Fprintf(w, "Payer:           %s\n", exec.Payer)
			fmt.Fprintf(w, "Borrower:        %s\n", exec.Borrower)
			fmt.Fprintf(w, "Loan Authority:  %s\n", exec.LoanAuthority)
			fmt.Fprintf(w, "Lending Program: %s\n", exec.LendingProgram)
			fmt.Fprintf(w, "Error Kind:      %s\n", formatOptional(exec.ErrorKind))
			fmt.Fprintf(w, "Aborted In:      %s\n", formatOptional(exec.AbortedState))
			fmt.Fprintf(w, "Created:         %s\n", exec.CreatedAt.Format(time.RFC3339))
			for _, e := range exec.Events {
				fmt.Fprintf(w, "Event %d:         %s %s\n", e.Sequence, e.EventType, formatOptional(e.ActionType))
			}
			for _, l := range exec.Logs {
				fmt.Fprintf(w, "  %s\n", l)
			}
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count recorded executions by status",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			counts, err := store.CountExecutionsByStatus(context.Background())
			if err != nil {
				return fmt.Errorf("failed to count executions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, counts)
			}

			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			var total int64
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
				total += counts[s]
			}
			fmt.Fprintf(w, "total\t%d\n", total)
			return w.Flush()
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete executions recorded before a cutoff",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:     "older-than",
				Usage:    "Delete executions older than this (e.g. 720h)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Confirm deletion",
			},
		},
		Action: func(c *cli.Context) error {
			age := c.Duration("older-than")
			if age <= 0 {
				return fmt.Errorf("older-than must be positive")
			}
			cutoff := time.Now().Add(-age)
			if !c.Bool("yes") {
				return fmt.Errorf("refusing to delete executions before %s without --yes", cutoff.Format(time.RFC3339))
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			n, err := store.DeleteExecutionsOlderThan(context.Background(), cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune executions: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Deleted %d executions recorded before %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the trade history schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Schema is up to date")
			return nil
		},
	}
}

// getStore opens the database named by --database-url or DATABASE_URL.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
