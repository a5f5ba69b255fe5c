// Package simulator hosts the trade program on an in-memory ledger together
// with a mock lending program and funded fixture accounts, so trades can be
// executed end to end without a cluster.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/flashtrade/service/authority"
	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/invocation"
	"github.com/brojonat/flashtrade/service/ledger"
	"github.com/brojonat/flashtrade/service/lending"
	"github.com/brojonat/flashtrade/service/metrics"
	"github.com/brojonat/flashtrade/service/orchestrator"
	"github.com/gagliardetto/solana-go"
)

// Execution modes.
const (
	ModeExecute  = "execute"
	ModeSimulate = "simulate"
)

// Execution outcomes.
const (
	StatusCommitted = "committed"
	StatusSimulated = "simulated"
	StatusAborted   = "aborted"
)

// Fixture defaults.
const (
	DefaultReserveLiquidity   = 1_000_000_000
	DefaultDestinationBalance = 10_000_000
	DefaultPayerLamports      = 10 * solana.LAMPORTS_PER_SOL

	tokenAccountSize = 165
)

// MaxActions caps the number of actions in one trade. An empty list is
// allowed.
const MaxActions = 64

// ErrInvalidRequest is returned for requests that cannot be turned into a
// trade transaction.
var ErrInvalidRequest = errors.New("invalid trade request")

// Config configures the hosted programs and fixture funding.
type Config struct {
	ProgramID          solana.PublicKey
	LendingProgramID   solana.PublicKey
	Seed               string
	MinAmount          uint64
	ReserveLiquidity   uint64
	DestinationBalance uint64
	PayerLamports      uint64
	Executor           orchestrator.Executor
}

// Request describes one trade.
type Request struct {
	Actions []codec.TradeAction
	Amount  uint64
	// Borrower is optional; a fresh address is used when zero.
	Borrower solana.PublicKey
	// Simulate runs the trade without committing it.
	Simulate bool
}

// Result is the outcome of one trade. A trade that aborts is not an error of
// Run: Err, AbortedState and ErrorKind describe the abort.
type Result struct {
	TxID         uint64
	Mode         string
	Status       string
	Accounts     orchestrator.TradeAccounts
	Amount       uint64
	RepayAmount  *uint64
	Actions      []codec.TradeAction
	Logs         []string
	Events       []codec.Event
	Err          error
	AbortedState string
	ErrorKind    string
}

// Simulator owns the ledger and the shared lending fixtures.
type Simulator struct {
	cfg       Config
	ledger    *ledger.Ledger
	orch      *orchestrator.Orchestrator
	authority authority.Authority
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// Shared lending market fixtures. Concurrent trades contend on these.
	reserve                solana.PublicKey
	sourceLiquidity        solana.PublicKey
	lendingMarket          solana.PublicKey
	lendingMarketAuthority solana.PublicKey

	mu sync.Mutex
}

// New creates a simulator with a fresh ledger. m may be nil.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Simulator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProgramID.IsZero() {
		return nil, fmt.Errorf("%w: program id is required", ErrInvalidRequest)
	}
	if cfg.LendingProgramID.IsZero() {
		return nil, fmt.Errorf("%w: lending program id is required", ErrInvalidRequest)
	}
	if cfg.Seed == "" {
		cfg.Seed = authority.DefaultSeed
	}
	if cfg.ReserveLiquidity == 0 {
		cfg.ReserveLiquidity = DefaultReserveLiquidity
	}
	if cfg.DestinationBalance == 0 {
		cfg.DestinationBalance = DefaultDestinationBalance
	}
	if cfg.PayerLamports == 0 {
		cfg.PayerLamports = DefaultPayerLamports
	}

	var recorder orchestrator.Recorder
	if m != nil {
		recorder = m
	}

	l := ledger.New(logger)
	orch := orchestrator.New(cfg.ProgramID, orchestrator.Config{
		LendingPrograms: []solana.PublicKey{cfg.LendingProgramID},
		Seed:            []byte(cfg.Seed),
		MinAmount:       cfg.MinAmount,
		Executor:        cfg.Executor,
		Recorder:        recorder,
	}, logger)
	l.RegisterProgram(orch)
	l.RegisterProgram(lending.New(cfg.LendingProgramID, logger))

	s := &Simulator{
		cfg:                    cfg,
		ledger:                 l,
		orch:                   orch,
		metrics:                m,
		logger:                 logger.With("component", "simulator"),
		reserve:                solana.NewWallet().PublicKey(),
		sourceLiquidity:        solana.NewWallet().PublicKey(),
		lendingMarket:          solana.NewWallet().PublicKey(),
		lendingMarketAuthority: solana.NewWallet().PublicKey(),
	}

	reserve, err := lending.NewReserveAccount(s.reserve, cfg.LendingProgramID, cfg.ReserveLiquidity)
	if err != nil {
		return nil, fmt.Errorf("create reserve: %w", err)
	}
	l.SetAccount(reserve)
	l.SetAccount(lending.NewLiquiditySupply(s.sourceLiquidity, cfg.LendingProgramID, cfg.ReserveLiquidity))

	auth, err := orch.LoanAuthority(s.foreignAccount)
	if err != nil {
		return nil, fmt.Errorf("derive loan authority: %w", err)
	}
	s.authority = auth

	s.logger.Info("simulator initialized",
		"program_id", cfg.ProgramID.String(),
		"lending_program_id", cfg.LendingProgramID.String(),
		"loan_authority", auth.Address.String(),
		"bump", auth.Bump,
		"reserve_liquidity", cfg.ReserveLiquidity,
	)
	return s, nil
}

// Authority returns the loan authority the hosted program signs with.
func (s *Simulator) Authority() authority.Authority {
	return s.authority
}

// Ledger exposes the underlying ledger for inspection.
func (s *Simulator) Ledger() *ledger.Ledger {
	return s.ledger
}

// ReserveState returns the current lending reserve state.
func (s *Simulator) ReserveState() (lending.Reserve, error) {
	acc, ok := s.ledger.Account(s.reserve)
	if !ok {
		return lending.Reserve{}, ledger.ErrAccountNotFound
	}
	return lending.UnmarshalReserve(acc.Data)
}

// Run executes one trade. It returns an error only when the trade could not
// be submitted, including ledger lock contention, which callers may retry.
func (s *Simulator) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Actions) > MaxActions {
		return nil, fmt.Errorf("%w: %d actions exceeds the maximum of %d", ErrInvalidRequest, len(req.Actions), MaxActions)
	}

	accts := s.fixtureAccounts(req.Borrower)
	ix, err := orchestrator.NewTradeInstruction(s.cfg.ProgramID, accts, req.Actions, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	tx := ledger.Tx{
		Instructions: []solana.Instruction{ix},
		Signers:      []solana.PublicKey{accts.Payer, accts.DestinationLiquidity},
	}
	mode := ModeExecute
	run := s.ledger.Execute
	if req.Simulate {
		mode = ModeSimulate
		run = s.ledger.Simulate
	}

	receipt, err := run(ctx, tx)
	if s.metrics != nil {
		s.metrics.RecordLedgerTransaction(mode, err)
	}
	if errors.Is(err, ledger.ErrAccountInUse) {
		if s.metrics != nil {
			s.metrics.RecordLockConflict()
		}
		return nil, err
	}

	res := &Result{
		TxID:     receipt.TxID,
		Mode:     mode,
		Accounts: accts,
		Amount:   req.Amount,
		Actions:  req.Actions,
		Logs:     receipt.Logs,
	}
	if err != nil {
		res.Status = StatusAborted
		res.Err = err
		res.ErrorKind = orchestrator.ErrorKind(err)
		var abort *orchestrator.AbortError
		if errors.As(err, &abort) {
			res.AbortedState = abort.State.String()
		}
		s.logger.InfoContext(ctx, "trade aborted",
			"tx_id", res.TxID,
			"error_kind", res.ErrorKind,
			"aborted_state", res.AbortedState,
		)
		return res, nil
	}

	res.Status = StatusCommitted
	if req.Simulate {
		res.Status = StatusSimulated
	}
	if repay, err := invocation.RepayAmount(req.Amount); err == nil {
		res.RepayAmount = &repay
	}
	for _, rec := range receipt.Events {
		event, err := codec.DecodeEvent(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		res.Events = append(res.Events, event)
	}

	s.logger.InfoContext(ctx, "trade executed",
		"tx_id", res.TxID,
		"status", res.Status,
		"events", len(res.Events),
	)
	return res, nil
}

// fixtureAccounts funds a new payer and destination token account for one
// trade and returns the full account set. Both co-sign the trade.
func (s *Simulator) fixtureAccounts(borrower solana.PublicKey) orchestrator.TradeAccounts {
	if borrower.IsZero() {
		borrower = solana.NewWallet().PublicKey()
	}
	accts := orchestrator.TradeAccounts{
		Payer:                  solana.NewWallet().PublicKey(),
		Seller:                 solana.NewWallet().PublicKey(),
		Borrower:               borrower,
		LoanAuthority:          s.authority.Address,
		LendingProgram:         s.cfg.LendingProgramID,
		SourceLiquidity:        s.sourceLiquidity,
		DestinationLiquidity:   solana.NewWallet().PublicKey(),
		Reserve:                s.reserve,
		LendingMarket:          s.lendingMarket,
		LendingMarketAuthority: s.lendingMarketAuthority,
		TokenProgram:           solana.TokenProgramID,
		SystemProgram:          solana.SystemProgramID,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger.SetAccount(&ledger.Account{
		Key:      accts.Payer,
		Owner:    solana.SystemProgramID,
		Lamports: s.cfg.PayerLamports,
	})
	s.ledger.SetAccount(&ledger.Account{
		Key:       accts.DestinationLiquidity,
		Owner:     solana.TokenProgramID,
		Lamports:  ledger.MinimumBalance(tokenAccountSize),
		Balance:   s.cfg.DestinationBalance,
		Authority: s.authority.Address,
	})
	return accts
}

func (s *Simulator) foreignAccount(key solana.PublicKey) bool {
	acc, ok := s.ledger.Account(key)
	return ok && !acc.Owner.Equals(s.cfg.ProgramID)
}
