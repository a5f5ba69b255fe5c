package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "flashtrade",
		Usage: "Flash loan trade orchestrator CLI",
		Description: `A command-line tool for running and inspecting flash loan trades.

Use this CLI to submit trades to the server, run trades against a local ledger,
decode wire payloads, inspect recorded history, and follow audit events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Trade commands (HTTP API)
			tradeCommands(),
			// Local ledger commands
			simulateCommand(),
			{
				Name:  "authority",
				Usage: "Loan authority commands",
				Subcommands: []*cli.Command{
					deriveAuthorityCommand(),
				},
			},
			{
				Name:  "codec",
				Usage: "Encode and decode trade wire payloads",
				Subcommands: []*cli.Command{
					encodeBorrowCommand(),
					encodeRepayCommand(),
					encodeTradeCommand(),
					decodeInstructionCommand(),
					decodeEventCommand(),
				},
			},
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listExecutionsCommand(),
					getExecutionCommand(),
					statsCommand(),
					pruneCommand(),
					migrateCommand(),
				},
			},
			{
				Name:  "temporal",
				Usage: "Temporal workflow commands",
				Subcommands: []*cli.Command{
					startTradeWorkflowCommand(),
					tradeResultCommand(),
					describeWorkflowCommand(),
				},
			},
			// NATS audit event streaming commands
			{
				Name:  "nats",
				Usage: "NATS audit event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Cluster RPC commands
			{
				Name:  "chain",
				Usage: "Build and simulate trades against a cluster RPC endpoint",
				Subcommands: []*cli.Command{
					chainSimulateCommand(),
					loanRecordCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "flashtrade",
		},
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "flashtrade server URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
			Value:   "nats://localhost:4222",
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "Cluster RPC endpoint",
			EnvVars: []string{"SOLANA_RPC_URL"},
			Value:   "https://api.mainnet-beta.solana.com",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}
