// Package invocation assembles the cross-program calls the orchestrator makes
// to the lending program. The account order and the signer/writable flags
// are the lending program's ABI:
//
//	0 source liquidity            writable
//	1 destination liquidity       writable, signer
//	2 reserve                     writable
//	3 lending market              readonly
//	4 lending market authority    readonly
//	5 token program               readonly
//	6 receiver program            readonly
//	7.. receiver accounts         as given (loan authority signs)
package invocation

import (
	"errors"
	"fmt"
	"math"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/gagliardetto/solana-go"
)

// ErrAmountOverflow is returned when amount plus fee does not fit in a u64.
var ErrAmountOverflow = errors.New("repay amount overflows u64")

// FeeDivisor sets the flash loan fee at amount / 100 (1%, truncating).
const FeeDivisor = 100

// FixedAccounts is the number of accounts before the receiver accounts.
const FixedAccounts = 7

// Fee returns the flash loan fee for amount.
func Fee(amount uint64) uint64 {
	return amount / FeeDivisor
}

// RepayAmount returns amount plus the fee.
func RepayAmount(amount uint64) (uint64, error) {
	fee := Fee(amount)
	if amount > math.MaxUint64-fee {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, amount, fee)
	}
	return amount + fee, nil
}

// FlashLoanAccounts are the resolved accounts of a borrow or repay call.
type FlashLoanAccounts struct {
	SourceLiquidity        solana.PublicKey
	DestinationLiquidity   solana.PublicKey
	Reserve                solana.PublicKey
	LendingMarket          solana.PublicKey
	LendingMarketAuthority solana.PublicKey
	TokenProgram           solana.PublicKey
	ReceiverProgram        solana.PublicKey
	ReceiverAccounts       solana.AccountMetaSlice
}

// Metas returns the accounts in ABI order.
func (a FlashLoanAccounts) Metas() solana.AccountMetaSlice {
	metas := solana.AccountMetaSlice{
		solana.Meta(a.SourceLiquidity).WRITE(),
		solana.Meta(a.DestinationLiquidity).SIGNER().WRITE(),
		solana.Meta(a.Reserve).WRITE(),
		solana.Meta(a.LendingMarket),
		solana.Meta(a.LendingMarketAuthority),
		solana.Meta(a.TokenProgram),
		solana.Meta(a.ReceiverProgram),
	}
	for _, m := range a.ReceiverAccounts {
		cp := *m
		metas = append(metas, &cp)
	}
	return metas
}

// BuildBorrow returns the borrow call for amount.
func BuildBorrow(programID solana.PublicKey, accounts FlashLoanAccounts, amount uint64) (*solana.GenericInstruction, error) {
	data, err := codec.BorrowPayload{Amount: amount}.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, accounts.Metas(), data), nil
}

// BuildRepay returns the repay call for a loan of amount; the payload
// carries amount plus fee.
func BuildRepay(programID solana.PublicKey, accounts FlashLoanAccounts, amount uint64) (*solana.GenericInstruction, error) {
	repay, err := RepayAmount(amount)
	if err != nil {
		return nil, err
	}
	data, err := codec.RepayPayload{Amount: repay}.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, accounts.Metas(), data), nil
}
