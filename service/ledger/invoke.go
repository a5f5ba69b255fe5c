package ledger

import (
	"context"
	"fmt"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/gagliardetto/solana-go"
)

// InvokeContext is what a program sees while it runs: the accounts and
// signers of its own instruction plus the host primitives.
type InvokeContext struct {
	ctx     context.Context
	tx      *txState
	program solana.PublicKey
	metas   []*solana.AccountMeta
	signers map[solana.PublicKey]bool
	depth   int
}

// Context returns the context the transaction was submitted with.
func (ic *InvokeContext) Context() context.Context { return ic.ctx }

// ProgramID returns the program currently executing.
func (ic *InvokeContext) ProgramID() solana.PublicKey { return ic.program }

// TxID identifies the enclosing transaction.
func (ic *InvokeContext) TxID() uint64 { return ic.tx.id }

// Depth returns the invocation depth (1 for top-level instructions).
func (ic *InvokeContext) Depth() int { return ic.depth }

// Done reports whether the enclosing transaction has finished.
func (ic *InvokeContext) Done() bool { return ic.tx.closed }

// Accounts returns the accounts of the current instruction. Inside Finalize
// it returns every account the program saw in the transaction, readonly.
func (ic *InvokeContext) Accounts() []*solana.AccountMeta {
	return ic.metas
}

// IsSigner reports whether key signed the current instruction.
func (ic *InvokeContext) IsSigner(key solana.PublicKey) bool {
	return ic.signers[key]
}

// IsWritable reports whether key is writable in the current instruction.
func (ic *InvokeContext) IsWritable(key solana.PublicKey) bool {
	for _, m := range ic.metas {
		if m.PublicKey.Equals(key) && m.IsWritable {
			return true
		}
	}
	return false
}

// Exists reports whether an account is live at key in this transaction.
func (ic *InvokeContext) Exists(key solana.PublicKey) bool {
	_, ok := ic.tx.peek(key)
	return ok
}

// Account returns a copy of the account at key.
func (ic *InvokeContext) Account(key solana.PublicKey) (*Account, error) {
	acc, ok := ic.tx.peek(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	return acc.Clone(), nil
}

// Log appends a program log line.
func (ic *InvokeContext) Log(format string, args ...any) {
	ic.tx.log("Program log: "+format, args...)
}

// Emit appends an encoded event to the transaction's audit log.
func (ic *InvokeContext) Emit(e codec.Event) error {
	data, err := codec.EncodeEvent(e)
	if err != nil {
		return err
	}
	ic.tx.emit(ic.program, data)
	return nil
}

// SetData overwrites the data of an account owned by the running program.
func (ic *InvokeContext) SetData(key solana.PublicKey, data []byte) error {
	acc, err := ic.mutable(key)
	if err != nil {
		return err
	}
	if !acc.Owner.Equals(ic.program) {
		return fmt.Errorf("%w: %s", ErrIllegalOwner, key)
	}
	if len(data) != len(acc.Data) {
		return fmt.Errorf("data size %d does not match allocation %d for %s", len(data), len(acc.Data), key)
	}
	copy(acc.Data, data)
	return nil
}

// Allocate creates a rent-exempt account of space bytes at key, owned by
// owner and funded by payer. Both payer and key must sign; key may sign
// through signerSeeds derived from the running program.
func (ic *InvokeContext) Allocate(payer, key solana.PublicKey, space uint64, owner solana.PublicKey, signerSeeds ...[][]byte) error {
	signers, err := ic.withSeeds(signerSeeds)
	if err != nil {
		return err
	}
	if !signers[payer] {
		return fmt.Errorf("%w: payer %s", ErrMissingSignature, payer)
	}
	if !signers[key] {
		return fmt.Errorf("%w: new account %s", ErrMissingSignature, key)
	}
	if !ic.IsWritable(key) {
		return fmt.Errorf("%w: %s", ErrReadonlyAccount, key)
	}
	if ic.Exists(key) {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyExists, key)
	}
	payerAcc, err := ic.mutable(payer)
	if err != nil {
		return err
	}
	rent := MinimumBalance(space)
	if payerAcc.Lamports < rent {
		return fmt.Errorf("%w: payer %s has %d lamports, needs %d", ErrInsufficientFunds, payer, payerAcc.Lamports, rent)
	}
	payerAcc.Lamports -= rent
	ic.tx.overlay[key] = &Account{
		Key:      key,
		Owner:    owner,
		Lamports: rent,
		Data:     make([]byte, space),
	}
	return nil
}

// Close deletes an account owned by the running program and moves its
// lamports to refundTo.
func (ic *InvokeContext) Close(key, refundTo solana.PublicKey) error {
	acc, err := ic.mutable(key)
	if err != nil {
		return err
	}
	if !acc.Owner.Equals(ic.program) {
		return fmt.Errorf("%w: %s", ErrIllegalOwner, key)
	}
	dest, err := ic.mutable(refundTo)
	if err != nil {
		return err
	}
	if dest.Lamports+acc.Lamports < dest.Lamports {
		return ErrArithmeticOverflow
	}
	dest.Lamports += acc.Lamports
	ic.tx.overlay[key] = nil
	return nil
}

// Transfer moves token balance between two accounts. The debit is allowed
// when the running program owns from, or when from's authority signed.
func (ic *InvokeContext) Transfer(from, to solana.PublicKey, amount uint64) error {
	src, err := ic.mutable(from)
	if err != nil {
		return err
	}
	dst, err := ic.mutable(to)
	if err != nil {
		return err
	}
	if !src.Owner.Equals(ic.program) && !ic.IsSigner(src.Authority) {
		return fmt.Errorf("%w: authority %s did not sign for %s", ErrMissingSignature, src.Authority, from)
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, src.Balance, amount)
	}
	if dst.Balance+amount < dst.Balance {
		return ErrArithmeticOverflow
	}
	src.Balance -= amount
	dst.Balance += amount
	return nil
}

// InvokeSigned calls another program with the given instruction. Each entry
// of signerSeeds is re-derived against the running program's ID and the
// resulting addresses sign the callee's instruction.
func (ic *InvokeContext) InvokeSigned(ix solana.Instruction, signerSeeds ...[][]byte) error {
	if ic.tx.closed {
		return ErrTransactionClosed
	}
	if ic.depth >= maxInvokeDepth {
		return ErrCallDepth
	}
	available, err := ic.withSeeds(signerSeeds)
	if err != nil {
		return err
	}

	metas := ix.Accounts()
	signers := make(map[solana.PublicKey]bool)
	for _, m := range metas {
		if m.IsSigner {
			if !available[m.PublicKey] {
				return fmt.Errorf("%w: %s", ErrMissingSignature, m.PublicKey)
			}
			signers[m.PublicKey] = true
		}
		if m.IsWritable && !ic.IsWritable(m.PublicKey) {
			return fmt.Errorf("%w: %s is not writable in caller", ErrPrivilegeEscalation, m.PublicKey)
		}
	}

	child := &InvokeContext{ctx: ic.ctx, tx: ic.tx, metas: metas, signers: signers}
	return child.dispatch(ix, ic.depth+1)
}

// dispatch runs ix in ic, which must already hold the callee's metas and
// signers.
func (ic *InvokeContext) dispatch(ix solana.Instruction, depth int) error {
	id := ix.ProgramID()
	p, err := ic.tx.ledger.program(id)
	if err != nil {
		return err
	}
	data, err := ix.Data()
	if err != nil {
		return err
	}
	ic.program = id
	ic.depth = depth
	ic.tx.markInvoked(id, ic.metas)

	ic.tx.log("Program %s invoke [%d]", id, depth)
	if err := p.Process(ic, ic.metas, data); err != nil {
		ic.tx.log("Program %s failed: %v", id, err)
		return err
	}
	ic.tx.log("Program %s success", id)
	return nil
}

func (ic *InvokeContext) withSeeds(signerSeeds [][][]byte) (map[solana.PublicKey]bool, error) {
	out := make(map[solana.PublicKey]bool, len(ic.signers)+len(signerSeeds))
	for k, v := range ic.signers {
		out[k] = v
	}
	for _, seeds := range signerSeeds {
		pda, err := solana.CreateProgramAddress(seeds, ic.program)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		out[pda] = true
	}
	return out, nil
}

func (ic *InvokeContext) mutable(key solana.PublicKey) (*Account, error) {
	if ic.tx.closed {
		return nil, ErrTransactionClosed
	}
	if !ic.IsWritable(key) {
		return nil, fmt.Errorf("%w: %s", ErrReadonlyAccount, key)
	}
	acc, ok := ic.tx.load(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	return acc, nil
}
