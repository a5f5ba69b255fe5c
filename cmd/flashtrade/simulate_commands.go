package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/config"
	"github.com/brojonat/flashtrade/service/simulator"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// simulationReport is the printable outcome of a local trade run.
type simulationReport struct {
	TxID         uint64                   `json:"tx_id"`
	Status       string                   `json:"status"`
	Mode         string                   `json:"mode"`
	Actions      []string                 `json:"actions"`
	Amount       uint64                   `json:"amount"`
	RepayAmount  *uint64                  `json:"repay_amount,omitempty"`
	Borrower     string                   `json:"borrower"`
	Authority    string                   `json:"loan_authority"`
	ErrorKind    string                   `json:"error_kind,omitempty"`
	AbortedState string                   `json:"aborted_state,omitempty"`
	Error        string                   `json:"error,omitempty"`
	Events       []map[string]interface{} `json:"events"`
	Logs         []string                 `json:"logs"`
	Reserve      *reserveReport           `json:"reserve,omitempty"`
}

type reserveReport struct {
	Available   uint64 `json:"available"`
	Outstanding uint64 `json:"outstanding"`
}

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:      "simulate",
		Usage:     "Run a trade against a local in-memory ledger",
		ArgsUsage: "[ACTION...]",
		Description: `Host the trade program and a mock lending program on a fresh ledger and
run one trade through them. Nothing leaves the process.

Example:
  flashtrade simulate --amount 1000 buy sell`,
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
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Simulate the transaction instead of committing it to the local ledger",
			},
			&cli.Uint64Flag{
				Name:  "reserve-liquidity",
				Usage: "Liquidity available to borrow",
				Value: simulator.DefaultReserveLiquidity,
			},
			&cli.Uint64Flag{
				Name:  "min-amount",
				Usage: "Minimum trade amount",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "program",
				Usage: "Trade program ID",
				Value: config.DefaultProgramID,
			},
			&cli.StringFlag{
				Name:  "lending-program",
				Usage: "Lending program ID",
				Value: config.DefaultLendingProgramID,
			},
			&cli.StringFlag{
				Name:  "seed",
				Usage: "Loan authority seed",
				Value: config.DefaultFlashloanSeed,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log ledger activity to stderr",
			},
		},
		Action: func(c *cli.Context) error {
			actions, err := codec.ParseTradeActions(c.Args().Slice())
			if err != nil {
				return err
			}
			programID, err := solana.PublicKeyFromBase58(c.String("program"))
			if err != nil {
				return fmt.Errorf("invalid program id: %w", err)
			}
			lendingID, err := solana.PublicKeyFromBase58(c.String("lending-program"))
			if err != nil {
				return fmt.Errorf("invalid lending program id: %w", err)
			}
			var borrower solana.PublicKey
			if s := c.String("borrower"); s != "" {
				if borrower, err = solana.PublicKeyFromBase58(s); err != nil {
					return fmt.Errorf("invalid borrower: %w", err)
				}
			}

			level := slog.LevelError
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			sim, err := simulator.New(simulator.Config{
				ProgramID:        programID,
				LendingProgramID: lendingID,
				Seed:             c.String("seed"),
				MinAmount:        c.Uint64("min-amount"),
				ReserveLiquidity: c.Uint64("reserve-liquidity"),
			}, nil, logger)
			if err != nil {
				return err
			}

			res, err := sim.Run(context.Background(), simulator.Request{
				Actions:  actions,
				Amount:   c.Uint64("amount"),
				Borrower: borrower,
				Simulate: c.Bool("dry-run"),
			})
			if err != nil {
				return err
			}

			report := buildReport(sim, res)
			if c.Bool("json") {
				return outputJSON(c.App.Writer, report)
			}
			printReport(c.App.Writer, report)
			return nil
		},
	}
}

func buildReport(sim *simulator.Simulator, res *simulator.Result) *simulationReport {
	report := &simulationReport{
		TxID:         res.TxID,
		Status:       res.Status,
		Mode:         res.Mode,
		Amount:       res.Amount,
		RepayAmount:  res.RepayAmount,
		Borrower:     res.Accounts.Borrower.String(),
		Authority:    res.Accounts.LoanAuthority.String(),
		ErrorKind:    res.ErrorKind,
		AbortedState: res.AbortedState,
		Events:       []map[string]interface{}{},
		Logs:         res.Logs,
	}
	for _, a := range res.Actions {
		report.Actions = append(report.Actions, a.String())
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
	}
	for _, e := range res.Events {
		fields := map[string]interface{}{"event_type": e.EventName()}
		switch ev := e.(type) {
		case codec.FlashloanEvent:
			fields["borrower"] = ev.Borrower.String()
			fields["amount"] = ev.Amount
		case codec.TradeActionEvent:
			fields["action_type"] = ev.Action.String()
		}
		report.Events = append(report.Events, fields)
	}
	if r, err := sim.ReserveState(); err == nil {
		report.Reserve = &reserveReport{Available: r.Available, Outstanding: r.Outstanding}
	}
	return report
}

func printReport(w io.Writer, r *simulationReport) {
	fmt.Fprintf(w, "Tx ID:          %d\n", r.TxID)
	fmt.Fprintf(w, "Status:         %s\n", r.Status)
	fmt.Fprintf(w, "Mode:           %s\n", r.Mode)
	fmt.Fprintf(w, "Amount:         %d\n", r.Amount)
	if r.RepayAmount != nil {
		fmt.Fprintf(w, "Repay Amount:   %d\n", *r.RepayAmount)
	}
	fmt.Fprintf(w, "Borrower:       %s\n", r.Borrower)
	fmt.Fprintf(w, "Loan Authority: %s\n", r.Authority)
	if r.ErrorKind != "" {
		fmt.Fprintf(w, "Error Kind:     %s\n", r.ErrorKind)
		fmt.Fprintf(w, "Aborted In:     %s\n", r.AbortedState)
		fmt.Fprintf(w, "Error:          %s\n", r.Error)
	}
	if r.Reserve != nil {
		fmt.Fprintf(w, "Reserve:        %d available, %d outstanding\n", r.Reserve.Available, r.Reserve.Outstanding)
	}
	if len(r.Events) > 0 {
		fmt.Fprintf(w, "\nEvents:\n")
		for i, e := range r.Events {
			fmt.Fprintf(w, "  [%d] %v\n", i, e["event_type"])
		}
	}
	if len(r.Logs) > 0 {
		fmt.Fprintf(w, "\nLogs:\n")
		for _, l := range r.Logs {
			fmt.Fprintf(w, "  %s\n", l)
		}
	}
}
