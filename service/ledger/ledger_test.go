package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/flashtrade/service/codec"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcProgram struct {
	id       solana.PublicKey
	process  func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error
	finalize func(ic *InvokeContext) error
}

func (p *funcProgram) ID() solana.PublicKey { return p.id }

func (p *funcProgram) Process(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
	return p.process(ic, accounts, data)
}

type finalizingProgram struct {
	*funcProgram
}

func (p finalizingProgram) Finalize(ic *InvokeContext) error {
	return p.finalize(ic)
}

func newTestLedger() *Ledger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func tokenAccount(key, owner, authority solana.PublicKey, balance uint64) *Account {
	return &Account{Key: key, Owner: owner, Lamports: MinimumBalance(165), Balance: balance, Authority: authority}
}

func TestMinimumBalance(t *testing.T) {
	assert.Equal(t, uint64(128*6960), MinimumBalance(0))
	assert.Equal(t, uint64((128+48)*6960), MinimumBalance(48))
}

func TestExecuteCommitsAndAborts(t *testing.T) {
	l := newTestLedger()
	owner, from, to := newKey(), newKey(), newKey()
	l.SetAccount(tokenAccount(from, owner, newKey(), 100))
	l.SetAccount(tokenAccount(to, owner, newKey(), 0))

	fail := false
	prog := &funcProgram{id: owner, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		if err := ic.Transfer(accounts[0].PublicKey, accounts[1].PublicKey, 40); err != nil {
			return err
		}
		if err := ic.Emit(codec.FlashloanEvent{Borrower: accounts[0].PublicKey, Amount: 40}); err != nil {
			return err
		}
		ic.Log("moved %d", 40)
		if fail {
			return errors.New("late failure")
		}
		return nil
	}}
	l.RegisterProgram(prog)

	tx := Tx{Instructions: []solana.Instruction{
		solana.NewInstruction(owner, solana.AccountMetaSlice{solana.Meta(from).WRITE(), solana.Meta(to).WRITE()}, nil),
	}}

	receipt, err := l.Execute(context.Background(), tx)
	require.NoError(t, err)
	assert.Len(t, receipt.Events, 1)
	assert.Contains(t, receipt.Logs, "Program log: moved 40")

	src, _ := l.Account(from)
	dst, _ := l.Account(to)
	assert.Equal(t, uint64(60), src.Balance)
	assert.Equal(t, uint64(40), dst.Balance)

	fail = true
	receipt, err = l.Execute(context.Background(), tx)
	require.Error(t, err)
	assert.Empty(t, receipt.Events, "events of an aborted transaction are discarded")
	src, _ = l.Account(from)
	dst, _ = l.Account(to)
	assert.Equal(t, uint64(60), src.Balance)
	assert.Equal(t, uint64(40), dst.Balance)
	assert.NotEqual(t, receipt.TxID, uint64(0))
}

func TestSimulateDoesNotCommit(t *testing.T) {
	l := newTestLedger()
	owner, from, to := newKey(), newKey(), newKey()
	l.SetAccount(tokenAccount(from, owner, newKey(), 100))
	l.SetAccount(tokenAccount(to, owner, newKey(), 0))
	l.RegisterProgram(&funcProgram{id: owner, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		return ic.Transfer(accounts[0].PublicKey, accounts[1].PublicKey, 100)
	}})

	_, err := l.Simulate(context.Background(), Tx{Instructions: []solana.Instruction{
		solana.NewInstruction(owner, solana.AccountMetaSlice{solana.Meta(from).WRITE(), solana.Meta(to).WRITE()}, nil),
	}})
	require.NoError(t, err)

	src, _ := l.Account(from)
	assert.Equal(t, uint64(100), src.Balance)
}

func TestMissingTopLevelSignature(t *testing.T) {
	l := newTestLedger()
	id, signer := newKey(), newKey()
	l.RegisterProgram(&funcProgram{id: id, process: func(*InvokeContext, []*solana.AccountMeta, []byte) error { return nil }})

	ix := solana.NewInstruction(id, solana.AccountMetaSlice{solana.Meta(signer).SIGNER()}, nil)
	_, err := l.Execute(context.Background(), Tx{Instructions: []solana.Instruction{ix}})
	assert.ErrorIs(t, err, ErrMissingSignature)

	_, err = l.Execute(context.Background(), Tx{Instructions: []solana.Instruction{ix}, Signers: []solana.PublicKey{signer}})
	assert.NoError(t, err)
}

func TestTransferRequiresAuthority(t *testing.T) {
	l := newTestLedger()
	id, authority, from, to := newKey(), newKey(), newKey(), newKey()
	l.SetAccount(tokenAccount(from, solana.TokenProgramID, authority, 10))
	l.SetAccount(tokenAccount(to, solana.TokenProgramID, newKey(), 0))
	l.RegisterProgram(&funcProgram{id: id, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		return ic.Transfer(from, to, 5)
	}})

	metas := solana.AccountMetaSlice{solana.Meta(from).WRITE(), solana.Meta(to).WRITE()}
	_, err := l.Execute(context.Background(), Tx{Instructions: []solana.Instruction{solana.NewInstruction(id, metas, nil)}})
	assert.ErrorIs(t, err, ErrMissingSignature)

	metas = append(metas, solana.Meta(authority).SIGNER())
	_, err = l.Execute(context.Background(), Tx{
		Instructions: []solana.Instruction{solana.NewInstruction(id, metas, nil)},
		Signers:      []solana.PublicKey{authority},
	})
	require.NoError(t, err)
	dst, _ := l.Account(to)
	assert.Equal(t, uint64(5), dst.Balance)
}

func TestInvokeSignedWithProgramAddress(t *testing.T) {
	l := newTestLedger()
	caller, callee := newKey(), newKey()
	seeds := [][]byte{[]byte("vault")}
	pda, bump, err := solana.FindProgramAddress(seeds, caller)
	require.NoError(t, err)
	signerSeeds := [][]byte{[]byte("vault"), {bump}}

	var calleeSawSigner bool
	l.RegisterProgram(&funcProgram{id: callee, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		calleeSawSigner = ic.IsSigner(pda)
		assert.Equal(t, 2, ic.Depth())
		return nil
	}})

	var useSeeds [][]byte
	l.RegisterProgram(&funcProgram{id: caller, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		ix := solana.NewInstruction(callee, solana.AccountMetaSlice{solana.Meta(pda).SIGNER()}, nil)
		return ic.InvokeSigned(ix, useSeeds)
	}})

	run := func() error {
		_, err := l.Execute(context.Background(), Tx{Instructions: []solana.Instruction{
			solana.NewInstruction(caller, solana.AccountMetaSlice{solana.Meta(pda)}, nil),
		}})
		return err
	}

	useSeeds = signerSeeds
	require.NoError(t, run())
	assert.True(t, calleeSawSigner)

	useSeeds = [][]byte{[]byte("other"), {bump}}
	err = run()
	assert.True(t, errors.Is(err, ErrMissingSignature) || errors.Is(err, ErrInvalidSeeds), "got %v", err)
}

func TestInvokeSignedPrivilegeEscalation(t *testing.T) {
	l := newTestLedger()
	caller, callee, target := newKey(), newKey(), newKey()
	l.RegisterProgram(&funcProgram{id: callee, process: func(*InvokeContext, []*solana.AccountMeta, []byte) error { return nil }})
	l.RegisterProgram(&funcProgram{id: caller, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		return ic.InvokeSigned(solana.NewInstruction(callee, solana.AccountMetaSlice{solana.Meta(target).WRITE()}, nil))
	}})

	_, err := l.Execute(context.Background(), Tx{Instructions: []solana.Instruction{
		solana.NewInstruction(caller, solana.AccountMetaSlice{solana.Meta(target)}, nil),
	}})
	assert.ErrorIs(t, err, ErrPrivilegeEscalation)
}

func TestInvokeDepthLimit(t *testing.T) {
	l := newTestLedger()
	id := newKey()
	var prog *funcProgram
	prog = &funcProgram{id: id, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		return ic.InvokeSigned(solana.NewInstruction(id, nil, nil))
	}}
	l.RegisterProgram(prog)

	_, err := l.Execute(context.Background(), Tx{Instructions: []solana.Instruction{solana.NewInstruction(id, nil, nil)}})
	assert.ErrorIs(t, err, ErrCallDepth)
}

func TestAllocateAndClose(t *testing.T) {
	l := newTestLedger()
	id, payer := newKey(), newKey()
	pda, bump, err := solana.FindProgramAddress([][]byte{[]byte("record")}, id)
	require.NoError(t, err)
	seeds := [][]byte{[]byte("record"), {bump}}
	l.SetAccount(&Account{Key: payer, Owner: solana.SystemProgramID, Lamports: MinimumBalance(16)})

	closeAfter := false
	l.RegisterProgram(&funcProgram{id: id, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		if err := ic.Allocate(payer, pda, 16, id, seeds); err != nil {
			return err
		}
		if err := ic.SetData(pda, make([]byte, 15)); err == nil {
			return errors.New("size mismatch accepted")
		}
		if err := ic.SetData(pda, []byte("0123456789abcdef")); err != nil {
			return err
		}
		if closeAfter {
			return ic.Close(pda, payer)
		}
		return nil
	}})

	tx := Tx{
		Instructions: []solana.Instruction{solana.NewInstruction(id, solana.AccountMetaSlice{
			solana.Meta(payer).SIGNER().WRITE(),
			solana.Meta(pda).WRITE(),
		}, nil)},
		Signers: []solana.PublicKey{payer},
	}

	_, err = l.Execute(context.Background(), tx)
	require.NoError(t, err)
	acc, ok := l.Account(pda)
	require.True(t, ok)
	assert.Equal(t, id, acc.Owner)
	assert.Equal(t, []byte("0123456789abcdef"), acc.Data)
	p, _ := l.Account(payer)
	assert.Equal(t, uint64(0), p.Lamports)

	_, err = l.Execute(context.Background(), tx)
	assert.ErrorIs(t, err, ErrAccountAlreadyExists)

	l2 := newTestLedger()
	l2.RegisterProgram(&funcProgram{id: id, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		if err := ic.Allocate(payer, pda, 16, id, seeds); err != nil {
			return err
		}
		return ic.Close(pda, payer)
	}})
	l2.SetAccount(&Account{Key: payer, Owner: solana.SystemProgramID, Lamports: MinimumBalance(16)})
	_, err = l2.Execute(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, l2.Exists(pda))
	p, _ = l2.Account(payer)
	assert.Equal(t, MinimumBalance(16), p.Lamports, "rent refunded on close")

	l3 := newTestLedger()
	l3.RegisterProgram(&funcProgram{id: id, process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
		return ic.Allocate(payer, pda, 16, id, seeds)
	}})
	l3.SetAccount(&Account{Key: payer, Owner: solana.SystemProgramID, Lamports: 1})
	_, err = l3.Execute(context.Background(), tx)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestFinalizerRejectsCommit(t *testing.T) {
	l := newTestLedger()
	id, owner, from, to := newKey(), newKey(), newKey(), newKey()
	l.SetAccount(tokenAccount(from, id, owner, 10))
	l.SetAccount(tokenAccount(to, id, owner, 0))

	var finalized []solana.PublicKey
	prog := finalizingProgram{&funcProgram{
		id: id,
		process: func(ic *InvokeContext, accounts []*solana.AccountMeta, data []byte) error {
			return ic.Transfer(from, to, 10)
		},
		finalize: func(ic *InvokeContext) error {
			for _, m := range ic.Accounts() {
				finalized = append(finalized, m.PublicKey)
				assert.False(t, m.IsWritable)
			}
			acc, err := ic.Account(to)
			if err != nil {
				return err
			}
			if acc.Balance > 5 {
				return errors.New("too much moved")
			}
			return nil
		},
	}}
	l.RegisterProgram(prog)

	_, err := l.Execute(context.Background(), Tx{Instructions: []solana.Instruction{
		solana.NewInstruction(id, solana.AccountMetaSlice{solana.Meta(from).WRITE(), solana.Meta(to).WRITE()}, nil),
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too much moved")
	assert.Equal(t, []solana.PublicKey{from, to}, finalized)

	src, _ := l.Account(from)
	assert.Equal(t, uint64(10), src.Balance)
}

func TestAccountLocks(t *testing.T) {
	l := newTestLedger()
	blocking, quick, shared := newKey(), newKey(), newKey()

	entered := make(chan struct{})
	release := make(chan struct{})
	l.RegisterProgram(&funcProgram{id: blocking, process: func(*InvokeContext, []*solana.AccountMeta, []byte) error {
		close(entered)
		<-release
		return nil
	}})
	l.RegisterProgram(&funcProgram{id: quick, process: func(*InvokeContext, []*solana.AccountMeta, []byte) error { return nil }})

	run := func(program solana.PublicKey, meta *solana.AccountMeta) error {
		_, err := l.Execute(context.Background(), Tx{Instructions: []solana.Instruction{
			solana.NewInstruction(program, solana.AccountMetaSlice{meta}, nil),
		}})
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var first error
	go func() {
		defer wg.Done()
		first = run(blocking, solana.Meta(shared).WRITE())
	}()
	<-entered

	assert.ErrorIs(t, run(quick, solana.Meta(shared).WRITE()), ErrAccountInUse)
	assert.ErrorIs(t, run(quick, solana.Meta(shared)), ErrAccountInUse)
	assert.NoError(t, run(quick, solana.Meta(newKey()).WRITE()), "independent accounts run concurrently")

	close(release)
	wg.Wait()
	require.NoError(t, first)
	assert.NoError(t, run(quick, solana.Meta(shared).WRITE()), "locks are released after commit")
}

func TestReadLocksAreShared(t *testing.T) {
	locks := newLockTable()
	k := newKey()
	require.NoError(t, locks.acquire(1, nil, []solana.PublicKey{k}))
	require.NoError(t, locks.acquire(2, nil, []solana.PublicKey{k}))
	assert.ErrorIs(t, locks.acquire(3, []solana.PublicKey{k}, nil), ErrAccountInUse)

	locks.release(nil, []solana.PublicKey{k})
	locks.release(nil, []solana.PublicKey{k})
	assert.NoError(t, locks.acquire(3, []solana.PublicKey{k}, nil))
}

func TestLockSets(t *testing.T) {
	prog, a, b := newKey(), newKey(), newKey()
	ixs := []solana.Instruction{
		solana.NewInstruction(prog, solana.AccountMetaSlice{solana.Meta(a), solana.Meta(b).WRITE()}, nil),
		solana.NewInstruction(prog, solana.AccountMetaSlice{solana.Meta(a).WRITE()}, nil),
	}
	writable, readonly := lockSets(ixs)
	assert.ElementsMatch(t, []solana.PublicKey{a, b}, writable)
	assert.Equal(t, []solana.PublicKey{prog}, readonly)
}
