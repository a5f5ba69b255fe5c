// Package lending is an in-process stand-in for the external flash loan
// lending program. It enforces the lending program's account ABI, moves
// reserve liquidity on borrow and repay, charges the 1% fee and refuses to
// let a transaction commit while a flash loan is outstanding.
package lending

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/invocation"
	"github.com/brojonat/flashtrade/service/ledger"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidInstruction    = errors.New("invalid lending instruction")
	ErrInvalidAccounts       = errors.New("invalid lending accounts")
	ErrInsufficientLiquidity = errors.New("insufficient reserve liquidity")
	ErrLoanOutstanding       = errors.New("flash loan already outstanding on reserve")
	ErrNoOutstandingLoan     = errors.New("no outstanding flash loan on reserve")
	ErrInsufficientRepayment = errors.New("repayment below amount plus fee")
	ErrUnrepaidLoan          = errors.New("flash loan not repaid")
)

const (
	accSource = iota
	accDestination
	accReserve
	accLendingMarket
	accLendingMarketAuthority
	accTokenProgram
	accReceiverProgram
	accReceiverAuthority
)

// Program is the mock lending program.
type Program struct {
	id     solana.PublicKey
	logger *slog.Logger
}

// New creates the lending program deployed at id.
func New(id solana.PublicKey, logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.Default()
	}
	return &Program{
		id:     id,
		logger: logger.With("component", "lending_program", "program_id", id.String()),
	}
}

// ID implements ledger.Program.
func (p *Program) ID() solana.PublicKey { return p.id }

// Process implements ledger.Program.
func (p *Program) Process(ic *ledger.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	op, err := codec.PeekOpcode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	if err := p.checkAccounts(ic, accounts); err != nil {
		return err
	}

	switch op {
	case codec.BorrowOpcode:
		payload, err := codec.DecodeBorrowPayload(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		return p.borrow(ic, accounts, payload.Amount)
	case codec.RepayOpcode:
		payload, err := codec.DecodeRepayPayload(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		return p.repay(ic, accounts, payload.Amount)
	default:
		return fmt.Errorf("%w: opcode %d", ErrInvalidInstruction, op)
	}
}

func (p *Program) checkAccounts(ic *ledger.InvokeContext, accounts []*solana.AccountMeta) error {
	if len(accounts) <= accReceiverAuthority {
		return fmt.Errorf("%w: got %d accounts, need at least %d", ErrInvalidAccounts, len(accounts), accReceiverAuthority+1)
	}
	for _, i := range []int{accSource, accDestination, accReserve} {
		if !accounts[i].IsWritable {
			return fmt.Errorf("%w: account %d must be writable", ErrInvalidAccounts, i)
		}
	}
	if !accounts[accDestination].IsSigner || !ic.IsSigner(accounts[accDestination].PublicKey) {
		return fmt.Errorf("%w: destination liquidity %s must sign", ErrInvalidAccounts, accounts[accDestination].PublicKey)
	}
	if !accounts[accTokenProgram].PublicKey.Equals(solana.TokenProgramID) {
		return fmt.Errorf("%w: token program %s", ErrInvalidAccounts, accounts[accTokenProgram].PublicKey)
	}
	if !accounts[accReceiverAuthority].IsSigner || !ic.IsSigner(accounts[accReceiverAuthority].PublicKey) {
		return fmt.Errorf("%w: receiver authority %s must sign", ErrInvalidAccounts, accounts[accReceiverAuthority].PublicKey)
	}
	src, err := ic.Account(accounts[accSource].PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccounts, err)
	}
	if !src.Owner.Equals(p.id) {
		return fmt.Errorf("%w: source liquidity %s not owned by lending program", ErrInvalidAccounts, src.Key)
	}
	return nil
}

func (p *Program) loadReserve(ic *ledger.InvokeContext, key solana.PublicKey) (Reserve, error) {
	acc, err := ic.Account(key)
	if err != nil {
		return Reserve{}, fmt.Errorf("%w: %v", ErrInvalidAccounts, err)
	}
	if !acc.Owner.Equals(p.id) {
		return Reserve{}, fmt.Errorf("%w: reserve %s not owned by lending program", ErrInvalidAccounts, key)
	}
	r, err := UnmarshalReserve(acc.Data)
	if err != nil {
		return Reserve{}, fmt.Errorf("%w: %v", ErrInvalidAccounts, err)
	}
	return r, nil
}

func (p *Program) storeReserve(ic *ledger.InvokeContext, key solana.PublicKey, r Reserve) error {
	data, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return ic.SetData(key, data)
}

func (p *Program) borrow(ic *ledger.InvokeContext, accounts []*solana.AccountMeta, amount uint64) error {
	reserveKey := accounts[accReserve].PublicKey
	r, err := p.loadReserve(ic, reserveKey)
	if err != nil {
		return err
	}
	if r.Outstanding > 0 {
		return fmt.Errorf("%w: %s owes %d", ErrLoanOutstanding, reserveKey, r.Outstanding)
	}
	if amount == 0 || r.Available < amount {
		return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientLiquidity, amount, r.Available)
	}
	if err := ic.Transfer(accounts[accSource].PublicKey, accounts[accDestination].PublicKey, amount); err != nil {
		return fmt.Errorf("borrow transfer: %w", err)
	}
	r.Available -= amount
	r.Outstanding = amount
	if err := p.storeReserve(ic, reserveKey, r); err != nil {
		return err
	}

	ic.Log("Instruction: FlashBorrowReserveLiquidity amount=%d", amount)
	p.logger.DebugContext(ic.Context(), "flash loan borrowed",
		"tx_id", ic.TxID(),
		"reserve", reserveKey.String(),
		"amount", amount,
	)
	return nil
}

func (p *Program) repay(ic *ledger.InvokeContext, accounts []*solana.AccountMeta, amount uint64) error {
	reserveKey := accounts[accReserve].PublicKey
	r, err := p.loadReserve(ic, reserveKey)
	if err != nil {
		return err
	}
	if r.Outstanding == 0 {
		return fmt.Errorf("%w: %s", ErrNoOutstandingLoan, reserveKey)
	}
	required, err := invocation.RepayAmount(r.Outstanding)
	if err != nil {
		return err
	}
	if amount < required {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientRepayment, amount, required)
	}
	if err := ic.Transfer(accounts[accDestination].PublicKey, accounts[accSource].PublicKey, amount); err != nil {
		return fmt.Errorf("repay transfer: %w", err)
	}
	if r.Available+amount < r.Available {
		return ledger.ErrArithmeticOverflow
	}
	r.Available += amount
	r.Outstanding = 0
	if err := p.storeReserve(ic, reserveKey, r); err != nil {
		return err
	}

	ic.Log("Instruction: FlashRepayReserveLiquidity amount=%d", amount)
	p.logger.DebugContext(ic.Context(), "flash loan repaid",
		"tx_id", ic.TxID(),
		"reserve", reserveKey.String(),
		"amount", amount,
	)
	return nil
}

// Finalize implements ledger.Finalizer. Any reserve the program touched in
// the transaction must have no outstanding loan.
func (p *Program) Finalize(ic *ledger.InvokeContext) error {
	for _, m := range ic.Accounts() {
		acc, err := ic.Account(m.PublicKey)
		if err != nil || !acc.Owner.Equals(p.id) || !IsReserve(acc.Data) {
			continue
		}
		r, err := UnmarshalReserve(acc.Data)
		if err != nil {
			return err
		}
		if r.Outstanding > 0 {
			return fmt.Errorf("%w: reserve %s owes %d", ErrUnrepaidLoan, m.PublicKey, r.Outstanding)
		}
	}
	return nil
}
