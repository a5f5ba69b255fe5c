package ledger

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// txState is the copy-on-write view of one transaction. A nil overlay entry
// marks an account deleted by the transaction.
type txState struct {
	ledger  *Ledger
	id      uint64
	signers map[solana.PublicKey]bool
	overlay map[solana.PublicKey]*Account
	logs    []string
	events  []EventRecord
	invoked []solana.PublicKey
	touched map[solana.PublicKey][]*solana.AccountMeta
	closed  bool
}

func newTxState(l *Ledger, id uint64, signers []solana.PublicKey) *txState {
	st := &txState{
		ledger:  l,
		id:      id,
		signers: make(map[solana.PublicKey]bool, len(signers)),
		overlay: make(map[solana.PublicKey]*Account),
		touched: make(map[solana.PublicKey][]*solana.AccountMeta),
	}
	for _, s := range signers {
		st.signers[s] = true
	}
	return st
}

func (st *txState) execute(ctx context.Context, instructions []solana.Instruction) error {
	for i, ix := range instructions {
		if err := ctx.Err(); err != nil {
			return err
		}
		metas := ix.Accounts()
		signers := make(map[solana.PublicKey]bool)
		for _, m := range metas {
			if !m.IsSigner {
				continue
			}
			if !st.signers[m.PublicKey] {
				return fmt.Errorf("instruction %d: %w: %s", i, ErrMissingSignature, m.PublicKey)
			}
			signers[m.PublicKey] = true
		}
		root := &InvokeContext{ctx: ctx, tx: st, metas: metas, signers: signers}
		if err := root.dispatch(ix, 1); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}

	for _, id := range st.invoked {
		p, err := st.ledger.program(id)
		if err != nil {
			return err
		}
		f, ok := p.(Finalizer)
		if !ok {
			continue
		}
		ic := &InvokeContext{ctx: ctx, tx: st, program: id, metas: st.touched[id], signers: map[solana.PublicKey]bool{}}
		if err := f.Finalize(ic); err != nil {
			st.log("Program %s finalize failed: %v", id, err)
			return fmt.Errorf("finalize %s: %w", id, err)
		}
	}
	return nil
}

// load returns the writable overlay copy of key, pulling it from committed
// state on first touch.
func (st *txState) load(key solana.PublicKey) (*Account, bool) {
	if acc, ok := st.overlay[key]; ok {
		return acc, acc != nil
	}
	acc, ok := st.ledger.committed(key)
	if !ok {
		return nil, false
	}
	cp := acc.Clone()
	st.overlay[key] = cp
	return cp, true
}

// peek reads key without copying it into the overlay.
func (st *txState) peek(key solana.PublicKey) (*Account, bool) {
	if acc, ok := st.overlay[key]; ok {
		return acc, acc != nil
	}
	return st.ledger.committed(key)
}

func (st *txState) log(format string, args ...any) {
	st.logs = append(st.logs, fmt.Sprintf(format, args...))
}

func (st *txState) emit(program solana.PublicKey, data []byte) {
	st.events = append(st.events, EventRecord{Program: program, Data: append([]byte(nil), data...)})
	st.log("Program data: %s", base64.StdEncoding.EncodeToString(data))
}

// markInvoked records that program id ran with metas. Finalizers see every
// account their program was handed during the transaction, readonly.
func (st *txState) markInvoked(id solana.PublicKey, metas []*solana.AccountMeta) {
	for _, m := range metas {
		st.touched[id] = append(st.touched[id], solana.Meta(m.PublicKey))
	}
	for _, k := range st.invoked {
		if k.Equals(id) {
			return
		}
	}
	st.invoked = append(st.invoked, id)
}
