// Package ledger is an in-process host for on-chain programs. It executes
// transactions atomically against a copy-on-write view of account state:
// either every instruction succeeds and the view is committed, or the view,
// its logs and its events are discarded and state is exactly what it was
// before the transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrAccountInUse         = errors.New("account in use")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrMissingSignature     = errors.New("missing required signature")
	ErrPrivilegeEscalation  = errors.New("privilege escalation")
	ErrReadonlyAccount      = errors.New("account not writable")
	ErrIllegalOwner         = errors.New("account not owned by program")
	ErrProgramNotFound      = errors.New("program not found")
	ErrInvalidSeeds         = errors.New("invalid signer seeds")
	ErrCallDepth            = errors.New("cross-program invocation depth exceeded")
	ErrTransactionClosed    = errors.New("transaction closed")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
)

// maxInvokeDepth mirrors the host limit on nested cross-program invocations.
const maxInvokeDepth = 4

// Program is an executable registered with the ledger.
type Program interface {
	ID() solana.PublicKey
	Process(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error
}

// Finalizer is implemented by programs that must approve a transaction
// before it commits. Finalize runs once for every program invoked in the
// transaction, in first-invocation order.
type Finalizer interface {
	Finalize(ic *InvokeContext) error
}

// Tx is a transaction submitted to the ledger.
type Tx struct {
	Instructions []solana.Instruction
	Signers      []solana.PublicKey
}

// Receipt reports what a transaction did. Events are only present when the
// transaction committed (or was simulated successfully).
type Receipt struct {
	TxID   uint64
	Logs   []string
	Events []EventRecord
	Err    error
}

// EventRecord is an encoded event together with the program that emitted it.
type EventRecord struct {
	Program solana.PublicKey
	Data    []byte
}

// Ledger holds committed account state and the registered programs.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]*Account
	programs map[solana.PublicKey]Program
	locks    *lockTable
	nextTx   atomic.Uint64
	logger   *slog.Logger
}

// New creates an empty ledger.
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		accounts: make(map[solana.PublicKey]*Account),
		programs: make(map[solana.PublicKey]Program),
		locks:    newLockTable(),
		logger:   logger.With("component", "ledger"),
	}
}

// RegisterProgram deploys p at its ID.
func (l *Ledger) RegisterProgram(p Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := p.ID()
	l.programs[id] = p
	l.accounts[id] = &Account{Key: id, Executable: true, Lamports: 1}
}

// SetAccount writes an account directly, bypassing transactions. It is meant
// for genesis state and fixtures.
func (l *Ledger) SetAccount(a *Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[a.Key] = a.Clone()
}

// Account returns a copy of the committed account.
func (l *Ledger) Account(key solana.PublicKey) (*Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[key]
	return a.Clone(), ok
}

// Exists reports whether an account is committed at key.
func (l *Ledger) Exists(key solana.PublicKey) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[key]
	return ok
}

// Execute runs tx atomically and commits it on success.
func (l *Ledger) Execute(ctx context.Context, tx Tx) (*Receipt, error) {
	return l.run(ctx, tx, true)
}

// Simulate runs tx exactly like Execute but never commits.
func (l *Ledger) Simulate(ctx context.Context, tx Tx) (*Receipt, error) {
	return l.run(ctx, tx, false)
}

func (l *Ledger) run(ctx context.Context, tx Tx, commit bool) (*Receipt, error) {
	id := l.nextTx.Add(1)
	writable, readonly := lockSets(tx.Instructions)
	if err := l.locks.acquire(id, writable, readonly); err != nil {
		l.logger.WarnContext(ctx, "transaction lock contention", "tx_id", id, "error", err)
		return &Receipt{TxID: id, Err: err}, err
	}
	defer l.locks.release(writable, readonly)

	st := newTxState(l, id, tx.Signers)
	err := st.execute(ctx, tx.Instructions)
	st.closed = true

	receipt := &Receipt{TxID: id, Logs: st.logs, Err: err}
	if err != nil {
		l.logger.InfoContext(ctx, "transaction aborted",
			"tx_id", id,
			"instructions", len(tx.Instructions),
			"error", err,
		)
		return receipt, err
	}

	receipt.Events = st.events
	if commit {
		l.commit(st)
	}
	l.logger.DebugContext(ctx, "transaction executed",
		"tx_id", id,
		"committed", commit,
		"events", len(st.events),
	)
	return receipt, nil
}

func (l *Ledger) commit(st *txState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, acc := range st.overlay {
		if acc == nil {
			delete(l.accounts, key)
			continue
		}
		l.accounts[key] = acc
	}
}

func (l *Ledger) program(id solana.PublicKey) (Program, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, id)
	}
	return p, nil
}

func (l *Ledger) committed(key solana.PublicKey) (*Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[key]
	return a, ok
}
