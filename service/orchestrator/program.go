package orchestrator

import (
	"fmt"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/ledger"
	"github.com/gagliardetto/solana-go"
)

// TradeAccountCount is the number of positional accounts of a trade.
const TradeAccountCount = 12

// ID implements ledger.Program.
func (o *Orchestrator) ID() solana.PublicKey { return o.programID }

// Process implements ledger.Program: it decodes a trade instruction and runs
// Trade.
func (o *Orchestrator) Process(ic *ledger.InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	ix, err := codec.DecodeTradeInstruction(data)
	if err != nil {
		return &AbortError{State: StateInit, Err: err}
	}
	accts, err := TradeAccountsFromMetas(accounts)
	if err != nil {
		return &AbortError{State: StateInit, Err: err}
	}
	return o.Trade(ic, accts, ix.Actions, ix.Amount)
}

// TradeAccountsFromMetas maps positional accounts to their roles.
func TradeAccountsFromMetas(metas []*solana.AccountMeta) (TradeAccounts, error) {
	if len(metas) < TradeAccountCount {
		return TradeAccounts{}, fmt.Errorf("%w: got %d accounts, need %d", ErrInvalidAccount, len(metas), TradeAccountCount)
	}
	return TradeAccounts{
		Payer:                  metas[0].PublicKey,
		Seller:                 metas[1].PublicKey,
		Borrower:               metas[2].PublicKey,
		LoanAuthority:          metas[3].PublicKey,
		LendingProgram:         metas[4].PublicKey,
		SourceLiquidity:        metas[5].PublicKey,
		DestinationLiquidity:   metas[6].PublicKey,
		Reserve:                metas[7].PublicKey,
		LendingMarket:          metas[8].PublicKey,
		LendingMarketAuthority: metas[9].PublicKey,
		TokenProgram:           metas[10].PublicKey,
		SystemProgram:          metas[11].PublicKey,
	}, nil
}

// Metas returns the accounts in positional order with the flags a trade
// needs: the payer and the destination liquidity sign, and every account the trade or the lending program
// writes is writable.
func (a TradeAccounts) Metas() solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.Meta(a.Payer).SIGNER().WRITE(),
		solana.Meta(a.Seller),
		solana.Meta(a.Borrower).WRITE(),
		solana.Meta(a.LoanAuthority).WRITE(),
		solana.Meta(a.LendingProgram),
		solana.Meta(a.SourceLiquidity).WRITE(),
		solana.Meta(a.DestinationLiquidity).SIGNER().WRITE(),
		solana.Meta(a.Reserve).WRITE(),
		solana.Meta(a.LendingMarket),
		solana.Meta(a.LendingMarketAuthority),
		solana.Meta(a.TokenProgram),
		solana.Meta(a.SystemProgram),
	}
}

// NewTradeInstruction builds the instruction a client submits to run a trade.
func NewTradeInstruction(programID solana.PublicKey, accts TradeAccounts, actions []TradeAction, amount uint64) (*solana.GenericInstruction, error) {
	data, err := codec.TradeInstruction{Actions: actions, Amount: amount}.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, accts.Metas(), data), nil
}
