package ledger

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// lockTable enforces the account-locking discipline: one writer or many
// readers per account. Acquisition is all-or-nothing and never blocks.
type lockTable struct {
	mu      sync.Mutex
	writers map[solana.PublicKey]uint64
	readers map[solana.PublicKey]int
}

func newLockTable() *lockTable {
	return &lockTable{
		writers: make(map[solana.PublicKey]uint64),
		readers: make(map[solana.PublicKey]int),
	}
}

func (t *lockTable) acquire(txID uint64, writable, readonly []solana.PublicKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, k := range writable {
		if owner, held := t.writers[k]; held {
			return fmt.Errorf("%w: %s write-locked by tx %d", ErrAccountInUse, k, owner)
		}
		if t.readers[k] > 0 {
			return fmt.Errorf("%w: %s read-locked", ErrAccountInUse, k)
		}
	}
	for _, k := range readonly {
		if owner, held := t.writers[k]; held {
			return fmt.Errorf("%w: %s write-locked by tx %d", ErrAccountInUse, k, owner)
		}
	}

	for _, k := range writable {
		t.writers[k] = txID
	}
	for _, k := range readonly {
		t.readers[k]++
	}
	return nil
}

func (t *lockTable) release(writable, readonly []solana.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, k := range writable {
		delete(t.writers, k)
	}
	for _, k := range readonly {
		if t.readers[k] <= 1 {
			delete(t.readers, k)
			continue
		}
		t.readers[k]--
	}
}

// lockSets splits the accounts referenced by a transaction into writable and
// readonly sets. An account writable anywhere is writable everywhere.
func lockSets(instructions []solana.Instruction) (writable, readonly []solana.PublicKey) {
	isWritable := make(map[solana.PublicKey]bool)
	order := make([]solana.PublicKey, 0)
	seen := func(k solana.PublicKey) {
		if _, ok := isWritable[k]; !ok {
			isWritable[k] = false
			order = append(order, k)
		}
	}
	for _, ix := range instructions {
		seen(ix.ProgramID())
		for _, m := range ix.Accounts() {
			seen(m.PublicKey)
			if m.IsWritable {
				isWritable[m.PublicKey] = true
			}
		}
	}
	for _, k := range order {
		if isWritable[k] {
			writable = append(writable, k)
		} else {
			readonly = append(readonly, k)
		}
	}
	return writable, readonly
}
