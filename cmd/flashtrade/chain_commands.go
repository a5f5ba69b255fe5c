package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/brojonat/flashtrade/service/authority"
	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/config"
	"github.com/brojonat/flashtrade/service/loanrecord"
	"github.com/brojonat/flashtrade/service/orchestrator"
	solanapkg "github.com/brojonat/flashtrade/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// newRPCClient is swapped out in tests.
var newRPCClient = solanapkg.NewRPCClient

var accountFlagNames = []string{
	"seller",
	"source-liquidity",
	"reserve",
	"lending-market",
	"lending-market-authority",
}

func chainSimulateCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "keypair",
			Usage:    "Payer keypair file",
			EnvVars:  []string{"SOLANA_KEYPAIR_PATH"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "destination-keypair",
			Usage:    "Keypair file of the destination liquidity account, which co-signs the trade",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:     "amount",
			Aliases:  []string{"a"},
			Usage:    "Amount to borrow, in base units",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "program",
			Usage:   "Trade program ID",
			EnvVars: []string{"PROGRAM_ID"},
			Value:   config.DefaultProgramID,
		},
		&cli.StringFlag{
			Name:  "lending-program",
			Usage: "Lending program ID",
			Value: config.DefaultLendingProgramID,
		},
		&cli.StringFlag{
			Name:    "seed",
			Usage:   "Loan authority seed",
			EnvVars: []string{"FLASHLOAN_SEED"},
			Value:   config.DefaultFlashloanSeed,
		},
		&cli.StringFlag{
			Name:  "borrower",
			Usage: "Borrower address (defaults to the payer)",
		},
		&cli.BoolFlag{
			Name:  "send",
			Usage: "Submit the transaction after a successful simulation",
		},
	}
	for _, name := range accountFlagNames {
		flags = append(flags, &cli.StringFlag{
			Name:     name,
			Usage:    name + " account address",
			Required: true,
		})
	}

	return &cli.Command{
		Name:      "simulate",
		Usage:     "Build a trade transaction and simulate it on the cluster",
		ArgsUsage: "[ACTION...]",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			actions, err := codec.ParseTradeActions(c.Args().Slice())
			if err != nil {
				return err
			}

			payer, err := solana.PrivateKeyFromSolanaKeygenFile(c.String("keypair"))
			if err != nil {
				return fmt.Errorf("failed to load keypair: %w", err)
			}
			destination, err := solana.PrivateKeyFromSolanaKeygenFile(c.String("destination-keypair"))
			if err != nil {
				return fmt.Errorf("failed to load destination keypair: %w", err)
			}
			accts, programID, err := tradeAccountsFromFlags(c, payer.PublicKey(), destination.PublicKey())
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			sub := solanapkg.NewSubmitter(newRPCClient(c.String("rpc-url")), payer, programID, nil, logger)

			ctx := context.Background()
			tx, err := sub.BuildTrade(ctx, accts, destination, actions, c.Uint64("amount"))
			if err != nil {
				return err
			}
			sim, err := sub.Simulate(ctx, tx)
			if err != nil {
				return err
			}

			w := c.App.Writer
			if !c.Bool("json") {
				fmt.Fprintf(w, "Units Consumed: %d\n", sim.UnitsConsumed)
				for _, l := range sim.Logs {
					fmt.Fprintf(w, "  %s\n", l)
				}
				for i, e := range sim.Events {
					fmt.Fprintf(w, "Event [%d]: %s\n", i, e.EventName())
				}
			}
			if sim.Err != nil {
				return sim.Err
			}

			report := map[string]interface{}{
				"units_consumed": sim.UnitsConsumed,
				"logs":           sim.Logs,
				"event_count":    len(sim.Events),
			}
			if c.Bool("send") {
				sig, err := sub.Send(ctx, tx)
				if err != nil {
					return fmt.Errorf("failed to send transaction: %w", err)
				}
				report["signature"] = sig.String()
				if !c.Bool("json") {
					fmt.Fprintf(w, "✓ Sent: %s\n", sig)
				}
			}
			if c.Bool("json") {
				return outputJSON(w, report)
			}
			return nil
		},
	}
}

// tradeAccountsFromFlags assembles the account set of a cluster trade.
func tradeAccountsFromFlags(c *cli.Context, payer, destination solana.PublicKey) (orchestrator.TradeAccounts, solana.PublicKey, error) {
	keys := make(map[string]solana.PublicKey, len(accountFlagNames)+3)
	for _, name := range append([]string{"program", "lending-program"}, accountFlagNames...) {
		key, err := solana.PublicKeyFromBase58(c.String(name))
		if err != nil {
			return orchestrator.TradeAccounts{}, solana.PublicKey{}, fmt.Errorf("invalid %s: %w", name, err)
		}
		keys[name] = key
	}

	borrower := payer
	if s := c.String("borrower"); s != "" {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return orchestrator.TradeAccounts{}, solana.PublicKey{}, fmt.Errorf("invalid borrower: %w", err)
		}
		borrower = key
	}

	auth, err := authority.Derive([]byte(c.String("seed")), keys["program"])
	if err != nil {
		return orchestrator.TradeAccounts{}, solana.PublicKey{}, err
	}

	return orchestrator.TradeAccounts{
		Payer:                  payer,
		Seller:                 keys["seller"],
		Borrower:               borrower,
		LoanAuthority:          auth.Address,
		LendingProgram:         keys["lending-program"],
		SourceLiquidity:        keys["source-liquidity"],
		DestinationLiquidity:   destination,
		Reserve:                keys["reserve"],
		LendingMarket:          keys["lending-market"],
		LendingMarketAuthority: keys["lending-market-authority"],
		TokenProgram:           solana.TokenProgramID,
		SystemProgram:          solana.SystemProgramID,
	}, keys["program"], nil
}

func loanRecordCommand() *cli.Command {
	return &cli.Command{
		Name:      "loan-record",
		Usage:     "Show the outstanding loan record at an address",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "program",
				Usage:   "Trade program ID that owns loan records",
				EnvVars: []string{"PROGRAM_ID"},
				Value:   config.DefaultProgramID,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: loan record address")
			}
			address, err := solana.PublicKeyFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid address: %w", err)
			}
			programID, err := solana.PublicKeyFromBase58(c.String("program"))
			if err != nil {
				return fmt.Errorf("invalid program id: %w", err)
			}

			// Reads need no signer; the payer is never used.
			sub := solanapkg.NewSubmitter(newRPCClient(c.String("rpc-url")), solana.NewWallet().PrivateKey, programID, nil, nil)
			rec, err := sub.LoanRecord(context.Background(), address)
			if errors.Is(err, loanrecord.ErrNoSuchRecord) {
				fmt.Fprintf(c.App.Writer, "No outstanding loan at %s\n", address)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to fetch loan record: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]interface{}{
					"address":  address.String(),
					"borrower": rec.Borrower.String(),
					"amount":   rec.Amount,
				})
			}
			fmt.Fprintf(c.App.Writer, "Address:  %s\n", address)
			fmt.Fprintf(c.App.Writer, "Borrower: %s\n", rec.Borrower)
			fmt.Fprintf(c.App.Writer, "Amount:   %d\n", rec.Amount)
			return nil
		},
	}
}
