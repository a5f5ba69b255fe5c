// Package orchestrator implements the flash loan trade program: inside one
// ledger transaction it borrows from an allowlisted lending program, runs the
// caller's trade actions and repays amount plus fee, signing both calls with
// a program-derived loan authority.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/flashtrade/service/authority"
	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/invocation"
	"github.com/brojonat/flashtrade/service/loanrecord"
	"github.com/gagliardetto/solana-go"
)

// grantUses covers opening the loan record, borrow and repay.
const grantUses = 3

// Host is the execution environment a trade runs in. *ledger.InvokeContext
// implements it.
type Host interface {
	loanrecord.Host
	Context() context.Context
	TxID() uint64
	Done() bool
	IsSigner(key solana.PublicKey) bool
	InvokeSigned(ix solana.Instruction, signerSeeds ...[][]byte) error
	Emit(e codec.Event) error
	Log(format string, args ...any)
}

// Recorder receives trade telemetry. *metrics.Metrics implements it.
type Recorder interface {
	RecordTrade(outcome, errorKind string, actions int, amount uint64, duration time.Duration)
	RecordInvocation(kind string, err error)
	RecordAction(action string)
	RecordEvent(name string)
}

// Config holds the injected trust and policy settings.
type Config struct {
	// LendingPrograms is the allowlist of lending program IDs a trade may
	// borrow from.
	LendingPrograms []solana.PublicKey
	// Seed derives the loan authority. Defaults to authority.DefaultSeed.
	Seed []byte
	// MinAmount is the smallest accepted loan. Zero is always rejected.
	MinAmount uint64
	// Executor runs trade actions. Defaults to AuditExecutor.
	Executor Executor
	// Recorder is optional.
	Recorder Recorder
}

// TradeAccounts are the resolved positional accounts of a trade.
type TradeAccounts struct {
	Payer                  solana.PublicKey
	Seller                 solana.PublicKey
	Borrower               solana.PublicKey
	LoanAuthority          solana.PublicKey
	LendingProgram         solana.PublicKey
	SourceLiquidity        solana.PublicKey
	DestinationLiquidity   solana.PublicKey
	Reserve                solana.PublicKey
	LendingMarket          solana.PublicKey
	LendingMarketAuthority solana.PublicKey
	TokenProgram           solana.PublicKey
	SystemProgram          solana.PublicKey
}

// Orchestrator is the trade program.
type Orchestrator struct {
	programID solana.PublicKey
	lending   map[solana.PublicKey]bool
	seed      []byte
	minAmount uint64
	executor  Executor
	recorder  Recorder
	logger    *slog.Logger
}

// New creates the trade program deployed at programID.
func New(programID solana.PublicKey, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		programID: programID,
		lending:   make(map[solana.PublicKey]bool, len(cfg.LendingPrograms)),
		seed:      cfg.Seed,
		minAmount: cfg.MinAmount,
		executor:  cfg.Executor,
		recorder:  cfg.Recorder,
		logger:    logger.With("component", "orchestrator", "program_id", programID.String()),
	}
	for _, id := range cfg.LendingPrograms {
		o.lending[id] = true
	}
	if len(o.seed) == 0 {
		o.seed = []byte(authority.DefaultSeed)
	}
	if o.minAmount == 0 {
		o.minAmount = 1
	}
	if o.executor == nil {
		o.executor = AuditExecutor{}
	}
	return o
}

// Trade runs the trade state machine. Any returned error is an *AbortError
// and aborts the enclosing transaction.
func (o *Orchestrator) Trade(h Host, accts TradeAccounts, actions []TradeAction, amount uint64) (err error) {
	ctx := h.Context()
	start := time.Now()
	state := StateInit

	defer func() {
		outcome := StateCommitted.String()
		if err != nil {
			err = &AbortError{State: state, Err: err}
			outcome = StateAborted.String()
			o.logger.InfoContext(ctx, "trade aborted",
				"tx_id", h.TxID(),
				"state", state.String(),
				"error", err,
			)
		}
		if o.recorder != nil {
			o.recorder.RecordTrade(outcome, ErrorKind(err), len(actions), amount, time.Since(start))
		}
	}()

	h.Log("Starting transaction for buy/sell actions...")

	auth, err := o.validate(h, accts, amount)
	if err != nil {
		return err
	}
	grant := authority.Authorize(auth, h, grantUses)

	flash := invocation.FlashLoanAccounts{
		SourceLiquidity:        accts.SourceLiquidity,
		DestinationLiquidity:   accts.DestinationLiquidity,
		Reserve:                accts.Reserve,
		LendingMarket:          accts.LendingMarket,
		LendingMarketAuthority: accts.LendingMarketAuthority,
		TokenProgram:           accts.TokenProgram,
		ReceiverProgram:        o.programID,
		ReceiverAccounts: solana.AccountMetaSlice{
			solana.Meta(auth.Address).SIGNER(),
			solana.Meta(accts.Borrower).WRITE(),
		},
	}

	// Init -> Borrowed
	seeds, err := grant.Seeds(h)
	if err != nil {
		return err
	}
	if err := loanrecord.Open(h, auth.Address, accts.Payer, seeds, loanrecord.Record{Borrower: accts.Borrower, Amount: amount}); err != nil {
		return err
	}
	h.Log("Flash loan program ID: %s", accts.LendingProgram)
	h.Log("Borrower: %s", accts.Borrower)
	h.Log("Amount: %d", amount)

	borrow, err := invocation.BuildBorrow(accts.LendingProgram, flash, amount)
	if err != nil {
		return err
	}
	if err := o.invoke(h, grant, "borrow", borrow); err != nil {
		return fmt.Errorf("%w: %w", ErrBorrowRejected, err)
	}
	state = StateBorrowed
	if err := o.emit(h, codec.FlashloanEvent{Borrower: accts.Borrower, Amount: amount}); err != nil {
		return err
	}

	// Borrowed -> ActionsExecuted
	exec := recordingHost{Host: h, o: o}
	for i, action := range actions {
		if !action.Valid() {
			return fmt.Errorf("%w: action %d has tag %d", ErrUnknownAction, i, uint8(action))
		}
		if err := o.executor.Execute(exec, action); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, action, err)
		}
		if o.recorder != nil {
			o.recorder.RecordAction(action.String())
		}
	}
	state = StateActionsExecuted

	// ActionsExecuted -> Repaid
	repay, err := invocation.BuildRepay(accts.LendingProgram, flash, amount)
	if err != nil {
		return err
	}
	if err := o.invoke(h, grant, "repay", repay); err != nil {
		return fmt.Errorf("%w: %w", ErrRepayRejected, err)
	}
	state = StateRepaid

	// Repaid -> Committed
	if _, err := loanrecord.Close(h, auth.Address, accts.Payer); err != nil {
		return err
	}
	state = StateCommitted

	h.Log("Transaction completed.")
	o.logger.DebugContext(ctx, "trade completed",
		"tx_id", h.TxID(),
		"borrower", accts.Borrower.String(),
		"amount", amount,
		"actions", len(actions),
	)
	return nil
}

// validate checks every account with a fixed or derived identity and returns
// the loan authority. The amount is checked last so that a bad account set
// always fails with ErrInvalidAccount.
func (o *Orchestrator) validate(h Host, accts TradeAccounts, amount uint64) (authority.Authority, error) {
	if !h.IsSigner(accts.Payer) {
		return authority.Authority{}, fmt.Errorf("%w: payer %s must sign", ErrInvalidAccount, accts.Payer)
	}
	if !h.IsSigner(accts.DestinationLiquidity) {
		return authority.Authority{}, fmt.Errorf("%w: destination liquidity %s must sign", ErrInvalidAccount, accts.DestinationLiquidity)
	}
	if !o.lending[accts.LendingProgram] {
		return authority.Authority{}, fmt.Errorf("%w: lending program %s is not allowlisted", ErrInvalidAccount, accts.LendingProgram)
	}
	if !accts.TokenProgram.Equals(solana.TokenProgramID) {
		return authority.Authority{}, fmt.Errorf("%w: token program %s", ErrInvalidAccount, accts.TokenProgram)
	}
	if !accts.SystemProgram.Equals(solana.SystemProgramID) {
		return authority.Authority{}, fmt.Errorf("%w: system program %s", ErrInvalidAccount, accts.SystemProgram)
	}

	auth, err := authority.DeriveAvailable(o.seed, o.programID, o.foreignAccount(h))
	if err != nil {
		return authority.Authority{}, fmt.Errorf("%w: loan authority: %v", ErrInvalidAccount, err)
	}
	if !accts.LoanAuthority.Equals(auth.Address) {
		return authority.Authority{}, fmt.Errorf("%w: loan authority %s, want %s", ErrInvalidAccount, accts.LoanAuthority, auth.Address)
	}

	if amount == 0 || amount < o.minAmount {
		return authority.Authority{}, fmt.Errorf("%w: %d is below the minimum of %d", ErrInvalidAmount, amount, o.minAmount)
	}
	return auth, nil
}

// foreignAccount reports addresses occupied by accounts this program does
// not own; the authority search skips them.
func (o *Orchestrator) foreignAccount(h Host) func(solana.PublicKey) bool {
	return func(key solana.PublicKey) bool {
		acc, err := h.Account(key)
		return err == nil && !acc.Owner.Equals(o.programID)
	}
}

func (o *Orchestrator) invoke(h Host, grant *authority.Grant, kind string, ix solana.Instruction) error {
	seeds, err := grant.Seeds(h)
	if err == nil {
		err = h.InvokeSigned(ix, seeds)
	}
	if o.recorder != nil {
		o.recorder.RecordInvocation(kind, err)
	}
	return err
}

func (o *Orchestrator) emit(h Host, e codec.Event) error {
	if err := h.Emit(e); err != nil {
		return err
	}
	if o.recorder != nil {
		o.recorder.RecordEvent(e.EventName())
	}
	return nil
}

// recordingHost is the Host executors see. Events they emit are recorded
// like the program's own.
type recordingHost struct {
	Host
	o *Orchestrator
}

func (r recordingHost) Emit(e codec.Event) error {
	return r.o.emit(r.Host, e)
}

// LoanAuthority derives the loan authority as a trade would, given a view of
// which addresses are occupied by foreign accounts.
func (o *Orchestrator) LoanAuthority(occupied func(solana.PublicKey) bool) (authority.Authority, error) {
	return authority.DeriveAvailable(o.seed, o.programID, occupied)
}
