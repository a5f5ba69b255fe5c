package ledger

import (
	"github.com/gagliardetto/solana-go"
)

// Rent parameters: an account must hold (128 + len(data)) * 6960 lamports
// to be rent exempt.
const (
	accountStorageOverhead = 128
	lamportsPerByte        = 6960
)

// MinimumBalance returns the rent-exempt balance for an account of the given
// data size.
func MinimumBalance(space uint64) uint64 {
	return (accountStorageOverhead + space) * lamportsPerByte
}

// Account is the ledger's unit of state.
type Account struct {
	Key        solana.PublicKey
	Owner      solana.PublicKey
	Lamports   uint64
	Data       []byte
	Executable bool

	// Balance and Authority model token accounts: Balance is the liquidity
	// held and Authority is the address that may move it besides the owner
	// program.
	Balance   uint64
	Authority solana.PublicKey
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return &out
}
