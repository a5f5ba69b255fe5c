package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/loanrecord"
	"github.com/brojonat/flashtrade/service/metrics"
	"github.com/brojonat/flashtrade/service/orchestrator"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrSimulationFailed is returned when the cluster rejects a simulated trade.
var ErrSimulationFailed = errors.New("transaction simulation failed")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResult, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.Account, error)
}

// Submitter builds, signs and submits trade transactions to a cluster.
type Submitter struct {
	rpc       RPCClient
	payer     solana.PrivateKey
	programID solana.PublicKey
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewSubmitter creates a new Submitter. payer signs and pays for every
// transaction. If metrics is nil, no metrics will be recorded.
func NewSubmitter(rpcClient RPCClient, payer solana.PrivateKey, programID solana.PublicKey, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		rpc:       rpcClient,
		payer:     payer,
		programID: programID,
		logger:    logger.With("component", "submitter"),
		metrics:   m,
	}
}

// Payer returns the address of the signing payer.
func (s *Submitter) Payer() solana.PublicKey {
	return s.payer.PublicKey()
}

// SimulationResult is the outcome of a simulated trade.
type SimulationResult struct {
	Logs          []string
	Events        []codec.Event
	UnitsConsumed uint64
	Err           error
}

// BuildTrade assembles and signs a trade transaction. The payer account in
// accts is overwritten with the submitter's payer and the destination
// liquidity with destination, which co-signs the transaction.
func (s *Submitter) BuildTrade(ctx context.Context, accts orchestrator.TradeAccounts, destination solana.PrivateKey, actions []orchestrator.TradeAction, amount uint64) (*solana.Transaction, error) {
	accts.Payer = s.payer.PublicKey()
	accts.DestinationLiquidity = destination.PublicKey()
	ix, err := orchestrator.NewTradeInstruction(s.programID, accts, actions, amount)
	if err != nil {
		return nil, fmt.Errorf("build trade instruction: %w", err)
	}

	var blockhash solana.Hash
	err = s.call(ctx, "GetLatestBlockhash", func() error {
		var err error
		blockhash, err = s.rpc.GetLatestBlockhash(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(s.payer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		switch {
		case key.Equals(s.payer.PublicKey()):
			return &s.payer
		case key.Equals(destination.PublicKey()):
			return &destination
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

// Simulate runs tx against the cluster without committing and decodes the
// emitted events. A rejected transaction is reported in the result's Err.
func (s *Submitter) Simulate(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	var out *rpc.SimulateTransactionResult
	err := s.call(ctx, "SimulateTransaction", func() error {
		var err error
		out, err = s.rpc.SimulateTransaction(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: empty response", ErrSimulationFailed)
	}

	result := &SimulationResult{Logs: out.Logs}
	if out.UnitsConsumed != nil {
		result.UnitsConsumed = *out.UnitsConsumed
	}
	if out.Err != nil {
		result.Err = fmt.Errorf("%w: %v", ErrSimulationFailed, out.Err)
		s.logger.WarnContext(ctx, "trade simulation rejected",
			"error", out.Err,
			"log_lines", len(out.Logs),
		)
		return result, nil
	}

	events, err := ParseEventLogs(out.Logs)
	if err != nil {
		return nil, err
	}
	result.Events = events
	s.logger.DebugContext(ctx, "trade simulated",
		"events", len(events),
		"units_consumed", result.UnitsConsumed,
	)
	return result, nil
}

// Send submits tx to the cluster and returns its signature.
func (s *Submitter) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := s.call(ctx, "SendTransaction", func() error {
		var err error
		sig, err = s.rpc.SendTransaction(ctx, tx)
		return err
	})
	if err != nil {
		return solana.Signature{}, err
	}
	s.logger.InfoContext(ctx, "trade transaction sent", "signature", sig.String())
	return sig, nil
}

// LoanRecord fetches the outstanding loan record at address, if any.
func (s *Submitter) LoanRecord(ctx context.Context, address solana.PublicKey) (loanrecord.Record, error) {
	var acc *rpc.Account
	err := s.call(ctx, "GetAccountInfo", func() error {
		var err error
		acc, err = s.rpc.GetAccountInfo(ctx, address)
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && acc == nil) {
		return loanrecord.Record{}, loanrecord.ErrNoSuchRecord
	}
	if err != nil {
		return loanrecord.Record{}, err
	}
	if !acc.Owner.Equals(s.programID) || acc.Data == nil {
		return loanrecord.Record{}, loanrecord.ErrNoSuchRecord
	}
	return loanrecord.Unmarshal(acc.Data.GetBinary())
}

// call runs fn with retries and records its latency. Rate limited calls
// back off exponentially; other errors are returned immediately.
func (s *Submitter) call(ctx context.Context, method string, fn func() error) error {
	const maxAttempts = 3

	var err error
	for attempt := range maxAttempts {
		start := time.Now()
		err = fn()
		if s.metrics != nil {
			s.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
		}
		if err == nil || !strings.Contains(err.Error(), "429") {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
		s.logger.WarnContext(ctx, "rate limited, sleeping before retry",
			"method", method,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "rpc call failed", "method", method, "error", err)
	}
	return err
}
