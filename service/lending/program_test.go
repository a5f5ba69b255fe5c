package lending

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/flashtrade/service/invocation"
	"github.com/brojonat/flashtrade/service/ledger"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type world struct {
	ledger    *ledger.Ledger
	programID solana.PublicKey
	authority solana.PublicKey
	accounts  invocation.FlashLoanAccounts
}

func newWorld(t *testing.T, liquidity, float uint64) *world {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := &world{
		ledger:    ledger.New(logger),
		programID: solana.NewWallet().PublicKey(),
		authority: solana.NewWallet().PublicKey(),
	}
	w.ledger.RegisterProgram(New(w.programID, logger))

	w.accounts = invocation.FlashLoanAccounts{
		SourceLiquidity:        solana.NewWallet().PublicKey(),
		DestinationLiquidity:   solana.NewWallet().PublicKey(),
		Reserve:                solana.NewWallet().PublicKey(),
		LendingMarket:          solana.NewWallet().PublicKey(),
		LendingMarketAuthority: solana.NewWallet().PublicKey(),
		TokenProgram:           solana.TokenProgramID,
		ReceiverProgram:        solana.NewWallet().PublicKey(),
		ReceiverAccounts: solana.AccountMetaSlice{
			solana.Meta(w.authority).SIGNER(),
		},
	}

	reserve, err := NewReserveAccount(w.accounts.Reserve, w.programID, liquidity)
	require.NoError(t, err)
	w.ledger.SetAccount(reserve)
	w.ledger.SetAccount(NewLiquiditySupply(w.accounts.SourceLiquidity, w.programID, liquidity))
	w.ledger.SetAccount(&ledger.Account{
		Key:       w.accounts.DestinationLiquidity,
		Owner:     solana.TokenProgramID,
		Balance:   float,
		Authority: w.authority,
	})
	return w
}

func (w *world) exec(t *testing.T, build ...func() (*solana.GenericInstruction, error)) error {
	t.Helper()
	ixs := make([]solana.Instruction, 0, len(build))
	for _, b := range build {
		ix, err := b()
		require.NoError(t, err)
		ixs = append(ixs, ix)
	}
	_, err := w.ledger.Execute(context.Background(), ledger.Tx{Instructions: ixs, Signers: []solana.PublicKey{w.authority, w.accounts.DestinationLiquidity}})
	return err
}

func (w *world) borrow(amount uint64) func() (*solana.GenericInstruction, error) {
	return func() (*solana.GenericInstruction, error) {
		return invocation.BuildBorrow(w.programID, w.accounts, amount)
	}
}

func (w *world) repay(amount uint64) func() (*solana.GenericInstruction, error) {
	return func() (*solana.GenericInstruction, error) {
		return invocation.BuildRepay(w.programID, w.accounts, amount)
	}
}

func (w *world) reserve(t *testing.T) Reserve {
	t.Helper()
	acc, ok := w.ledger.Account(w.accounts.Reserve)
	require.True(t, ok)
	r, err := UnmarshalReserve(acc.Data)
	require.NoError(t, err)
	return r
}

func TestBorrowAndRepay(t *testing.T) {
	w := newWorld(t, 5000, 100)

	require.NoError(t, w.exec(t, w.borrow(1000), w.repay(1000)))

	assert.Equal(t, Reserve{Available: 5010}, w.reserve(t))
	dst, _ := w.ledger.Account(w.accounts.DestinationLiquidity)
	assert.Equal(t, uint64(90), dst.Balance)
}

func TestUnrepaidLoanCannotCommit(t *testing.T) {
	w := newWorld(t, 5000, 100)

	err := w.exec(t, w.borrow(1000))
	assert.ErrorIs(t, err, ErrUnrepaidLoan)
	assert.Equal(t, Reserve{Available: 5000}, w.reserve(t))
}

func TestBorrowRejections(t *testing.T) {
	t.Run("insufficient liquidity", func(t *testing.T) {
		w := newWorld(t, 10, 0)
		assert.ErrorIs(t, w.exec(t, w.borrow(11), w.repay(11)), ErrInsufficientLiquidity)
	})

	t.Run("second loan on the same reserve", func(t *testing.T) {
		w := newWorld(t, 5000, 100)
		assert.ErrorIs(t, w.exec(t, w.borrow(10), w.borrow(10)), ErrLoanOutstanding)
	})

	t.Run("receiver authority must sign", func(t *testing.T) {
		w := newWorld(t, 5000, 100)
		w.accounts.ReceiverAccounts[0].IsSigner = false
		assert.ErrorIs(t, w.exec(t, w.borrow(10), w.repay(10)), ErrInvalidAccounts)
	})

	t.Run("destination liquidity must sign", func(t *testing.T) {
		w := newWorld(t, 5000, 100)
		err := w.exec(t, func() (*solana.GenericInstruction, error) {
			ix, err := invocation.BuildBorrow(w.programID, w.accounts, 10)
			if err != nil {
				return nil, err
			}
			ix.AccountValues[1].IsSigner = false
			return ix, nil
		})
		assert.ErrorIs(t, err, ErrInvalidAccounts)
		assert.Equal(t, Reserve{Available: 5000}, w.reserve(t))
	})

	t.Run("wrong token program", func(t *testing.T) {
		w := newWorld(t, 5000, 100)
		w.accounts.TokenProgram = solana.NewWallet().PublicKey()
		assert.ErrorIs(t, w.exec(t, w.borrow(10), w.repay(10)), ErrInvalidAccounts)
	})

	t.Run("unknown opcode", func(t *testing.T) {
		w := newWorld(t, 5000, 100)
		err := w.exec(t, func() (*solana.GenericInstruction, error) {
			return solana.NewInstruction(w.programID, w.accounts.Metas(), []byte{3, 0, 0, 0, 0, 0, 0, 0, 0}), nil
		})
		assert.ErrorIs(t, err, ErrInvalidInstruction)
	})
}

func TestRepayRejections(t *testing.T) {
	t.Run("short repayment", func(t *testing.T) {
		w := newWorld(t, 5000, 100)
		short := func() (*solana.GenericInstruction, error) {
			return invocation.BuildRepay(w.programID, w.accounts, 500)
		}
		assert.ErrorIs(t, w.exec(t, w.borrow(1000), short), ErrInsufficientRepayment)
	})

	t.Run("nothing outstanding", func(t *testing.T) {
		w := newWorld(t, 5000, 100)
		assert.ErrorIs(t, w.exec(t, w.repay(10)), ErrNoOutstandingLoan)
	})

	t.Run("cannot cover the fee", func(t *testing.T) {
		w := newWorld(t, 5000, 0)
		assert.ErrorIs(t, w.exec(t, w.borrow(1000), w.repay(1000)), ledger.ErrInsufficientFunds)
		assert.Equal(t, Reserve{Available: 5000}, w.reserve(t))
	})
}

func TestReserveEncoding(t *testing.T) {
	data, err := Reserve{Available: 7, Outstanding: 3}.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, ReserveSize)
	assert.True(t, IsReserve(data))

	r, err := UnmarshalReserve(data)
	require.NoError(t, err)
	assert.Equal(t, Reserve{Available: 7, Outstanding: 3}, r)

	assert.False(t, IsReserve(data[:8]))
}
