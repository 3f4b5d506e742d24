package runtime

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/transfersol/internal/account"
	"github.com/eigerco/transfersol/internal/constraint"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/safemath"
	"github.com/eigerco/transfersol/internal/store"
	"github.com/eigerco/transfersol/internal/testutils"
	"github.com/eigerco/transfersol/internal/transaction"
	"github.com/eigerco/transfersol/pkg/db/pebble"
)

const (
	opMove byte = iota
	opRawMove
	opMint
	opInvoke
	opInvokeAsSigner
	opRecurse
	opDuplicateName
)

var bankID = crypto.Pubkey{0xB1}

type fakeProgram struct {
	id  crypto.Pubkey
	eps map[byte]Entrypoint
}

func (p *fakeProgram) ID() crypto.Pubkey { return p.id }

func (p *fakeProgram) Entrypoint(data []byte) (Entrypoint, []byte, error) {
	if len(data) == 0 {
		return Entrypoint{}, nil, ErrInvalidInstructionData
	}
	ep, ok := p.eps[data[0]]
	if !ok {
		return Entrypoint{}, nil, ErrInvalidInstructionData
	}
	return ep, data[1:], nil
}

func move(_ *InvokeContext, accounts BoundAccounts, args []byte) error {
	amount := binary.LittleEndian.Uint64(args)
	if err := accounts.Get("from").Debit(amount); err != nil {
		return err
	}
	return accounts.Get("to").Credit(amount)
}

// invokeWith calls the program passed first with the remaining accounts and
// the given argument bytes as instruction data.
func invokeWith(asSigner bool) Handler {
	return func(ic *InvokeContext, accounts BoundAccounts, args []byte) error {
		ix := transaction.Instruction{ProgramID: accounts.Get("program").Key(), Data: args}
		for _, r := range accounts.Remaining {
			ix.Accounts = append(ix.Accounts, transaction.AccountMeta{
				Pubkey:     r.Key(),
				IsSigner:   asSigner || r.IsSigner(),
				IsWritable: r.IsWritable(),
			})
		}
		return ic.Invoke(ix)
	}
}

func newBank(id crypto.Pubkey) *fakeProgram {
	return &fakeProgram{id: id, eps: map[byte]Entrypoint{
		opMove: {
			Name:     "move",
			Accounts: constraint.Descriptor{constraint.Writable("from"), constraint.Writable("to")},
			Handler:  move,
		},
		opRawMove: {
			Name:     "raw_move",
			Accounts: constraint.Descriptor{{Name: "from"}, {Name: "to"}},
			Handler:  move,
		},
		opMint: {
			Name:     "mint",
			Accounts: constraint.Descriptor{constraint.Writable("to")},
			Handler: func(_ *InvokeContext, accounts BoundAccounts, args []byte) error {
				return accounts.Get("to").Credit(binary.LittleEndian.Uint64(args))
			},
		},
		opInvoke: {
			Name:     "invoke",
			Accounts: constraint.Descriptor{{Name: "program", Executable: true}},
			Handler:  invokeWith(false),
		},
		opInvokeAsSigner: {
			Name:     "invoke_as_signer",
			Accounts: constraint.Descriptor{{Name: "program", Executable: true}},
			Handler:  invokeWith(true),
		},
		opDuplicateName: {
			Name:     "duplicate_name",
			Accounts: constraint.Descriptor{constraint.Writable("to"), constraint.Writable("to")},
			Handler:  move,
		},
		opRecurse: {
			Name:     "recurse",
			Accounts: constraint.Descriptor{{Name: "program", Executable: true}},
			Handler: func(ic *InvokeContext, accounts BoundAccounts, _ []byte) error {
				self := accounts.Get("program").Key()
				return ic.Invoke(transaction.Instruction{
					ProgramID: self,
					Accounts:  []transaction.AccountMeta{transaction.NewReadonly(self)},
					Data:      []byte{opRecurse},
				})
			},
		},
	}}
}

func amountData(op byte, amount uint64) []byte {
	return binary.LittleEndian.AppendUint64([]byte{op}, amount)
}

type testEnv struct {
	rt       *Runtime
	accounts *store.Accounts
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	kv, err := pebble.NewMemKVStore()
	require.NoError(t, err)
	accounts := store.NewAccounts(kv)
	t.Cleanup(func() { _ = accounts.Close() })

	rt := New(accounts, opts...)
	require.NoError(t, rt.Register(newBank(bankID)))
	return &testEnv{rt: rt, accounts: accounts}
}

func (e *testEnv) put(t *testing.T, pk crypto.Pubkey, lamports uint64, owner crypto.Pubkey) {
	require.NoError(t, e.accounts.Put(pk, account.Account{Lamports: lamports, Owner: owner}))
}

func (e *testEnv) lamports(t *testing.T, pk crypto.Pubkey) uint64 {
	acc, err := e.accounts.Load(pk)
	require.NoError(t, err)
	return acc.Lamports
}

func (e *testEnv) process(t *testing.T, ixs []transaction.Instruction, signers ...crypto.Keypair) error {
	tx := transaction.New(testutils.RandomHash(t), ixs...)
	require.NoError(t, tx.Sign(signers...))
	return e.rt.ProcessTransaction(context.Background(), tx)
}

func moveIx(from, to crypto.Pubkey, amount uint64) transaction.Instruction {
	return transaction.Instruction{
		ProgramID: bankID,
		Accounts:  []transaction.AccountMeta{transaction.NewWritable(from), transaction.NewWritable(to)},
		Data:      amountData(opMove, amount),
	}
}

func TestProcessTransaction_Move(t *testing.T) {
	env := newTestEnv(t)
	from, to := testutils.RandomPubkey(t), testutils.RandomPubkey(t)
	env.put(t, from, 1_000, bankID)

	require.NoError(t, env.process(t, []transaction.Instruction{moveIx(from, to, 400)}))

	assert.Equal(t, uint64(600), env.lamports(t, from))
	assert.Equal(t, uint64(400), env.lamports(t, to))
}

func TestProcessTransaction_Errors(t *testing.T) {
	from, to := crypto.Pubkey{1}, crypto.Pubkey{2}

	tests := []struct {
		name     string
		ixs      []transaction.Instruction
		wantErr  error
		wantKind ErrorKind
	}{
		{
			name:     "empty message",
			wantErr:  ErrEmptyMessage,
			wantKind: KindNativeCallFailure,
		},
		{
			name:     "unknown program",
			ixs:      []transaction.Instruction{{ProgramID: crypto.Pubkey{0xEE}, Data: []byte{opMove}}},
			wantErr:  ErrProgramNotFound,
			wantKind: KindNativeCallFailure,
		},
		{
			name:     "unknown entrypoint",
			ixs:      []transaction.Instruction{{ProgramID: bankID, Data: []byte{0x7F}}},
			wantErr:  ErrInvalidInstructionData,
			wantKind: KindNativeCallFailure,
		},
		{
			name: "gate rejects readonly account",
			ixs: []transaction.Instruction{{
				ProgramID: bankID,
				Accounts:  []transaction.AccountMeta{transaction.NewWritable(from), transaction.NewReadonly(to)},
				Data:      amountData(opMove, 1),
			}},
			wantErr:  constraint.ErrNotWritable,
			wantKind: KindAuthorizationRejected,
		},
		{
			name: "entrypoint declares one name twice",
			ixs: []transaction.Instruction{{
				ProgramID: bankID,
				Accounts:  []transaction.AccountMeta{transaction.NewWritable(from), transaction.NewWritable(to)},
				Data:      amountData(opDuplicateName, 1),
			}},
			wantErr:  constraint.ErrDuplicateName,
			wantKind: KindNativeCallFailure,
		},
		{
			name: "readonly lamport change",
			ixs: []transaction.Instruction{{
				ProgramID: bankID,
				Accounts:  []transaction.AccountMeta{transaction.NewWritable(from), transaction.NewReadonly(to)},
				Data:      amountData(opRawMove, 1),
			}},
			wantErr:  ErrReadonlyLamportChange,
			wantKind: KindNativeCallFailure,
		},
		{
			name:     "spend from account owned by another program",
			ixs:      []transaction.Instruction{moveIx(to, from, 1)},
			wantErr:  ErrExternalAccountLamportSpend,
			wantKind: KindNativeCallFailure,
		},
		{
			name:     "debit more than balance",
			ixs:      []transaction.Instruction{moveIx(from, to, 1_001)},
			wantErr:  ErrInsufficientFunds,
			wantKind: KindInsufficientBalance,
		},
		{
			name: "unbalanced instruction",
			ixs: []transaction.Instruction{{
				ProgramID: bankID,
				Accounts:  []transaction.AccountMeta{transaction.NewWritable(to)},
				Data:      amountData(opMint, 5),
			}},
			wantErr:  ErrUnbalancedInstruction,
			wantKind: KindNativeCallFailure,
		},
		{
			name:     "later instruction fails",
			ixs:      []transaction.Instruction{moveIx(from, to, 500), moveIx(from, to, 501)},
			wantErr:  ErrInsufficientFunds,
			wantKind: KindInsufficientBalance,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.put(t, from, 1_000, bankID)
			env.put(t, to, 10, account.SystemProgramID)

			err := env.process(t, tc.ixs)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.wantKind, Classify(err))

			// nothing was committed
			assert.Equal(t, uint64(1_000), env.lamports(t, from))
			assert.Equal(t, uint64(10), env.lamports(t, to))
		})
	}
}

func TestProcessTransaction_BalanceSumOverflow(t *testing.T) {
	env := newTestEnv(t)
	from, to := testutils.RandomPubkey(t), testutils.RandomPubkey(t)
	env.put(t, from, math.MaxUint64, bankID)
	env.put(t, to, 1, account.SystemProgramID)

	err := env.process(t, []transaction.Instruction{moveIx(from, to, 0)})
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	require.ErrorIs(t, err, safemath.ErrOverflow)
	assert.Equal(t, KindNativeCallFailure, Classify(err))
	assert.Equal(t, uint64(math.MaxUint64), env.lamports(t, from))
}

func TestProcessTransaction_InstructionError(t *testing.T) {
	env := newTestEnv(t)
	from, to := testutils.RandomPubkey(t), testutils.RandomPubkey(t)
	env.put(t, from, 100, bankID)

	err := env.process(t, []transaction.Instruction{moveIx(from, to, 10), moveIx(from, to, 1_000)})

	var ixErr *InstructionError
	require.ErrorAs(t, err, &ixErr)
	assert.Equal(t, 1, ixErr.Index)
	assert.Equal(t, bankID, ixErr.Program)
	assert.Equal(t, uint64(100), env.lamports(t, from))
}

func TestProcessTransaction_Signatures(t *testing.T) {
	env := newTestEnv(t)
	signer := testutils.RandomKeypair(t)
	other := testutils.RandomKeypair(t)
	to := testutils.RandomPubkey(t)
	env.put(t, signer.Pubkey, 1_000, bankID)

	ix := moveIx(signer.Pubkey, to, 1)
	ix.Accounts[0].IsSigner = true

	t.Run("missing signature", func(t *testing.T) {
		err := env.process(t, []transaction.Instruction{ix})
		require.ErrorIs(t, err, ErrMissingSignature)
		assert.Equal(t, KindAuthorizationRejected, Classify(err))
	})

	t.Run("signature by another key", func(t *testing.T) {
		tx := transaction.New(testutils.RandomHash(t), ix)
		require.NoError(t, tx.Sign(other))
		tx.Signatures[0].Pubkey = signer.Pubkey

		err := env.rt.ProcessTransaction(context.Background(), tx)
		require.ErrorIs(t, err, ErrInvalidSignature)
		assert.Equal(t, KindAuthorizationRejected, Classify(err))
	})

	t.Run("signature over a different message", func(t *testing.T) {
		tx := transaction.New(testutils.RandomHash(t), ix)
		require.NoError(t, tx.Sign(signer))
		tx.Message.Instructions[0].Data = amountData(opMove, 999)

		err := env.rt.ProcessTransaction(context.Background(), tx)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("signed", func(t *testing.T) {
		require.NoError(t, env.process(t, []transaction.Instruction{ix}, signer))
		assert.Equal(t, uint64(999), env.lamports(t, signer.Pubkey))
	})
}

func TestInvoke(t *testing.T) {
	from, to := crypto.Pubkey{1}, crypto.Pubkey{2}

	invokeIx := func(op byte, metas ...transaction.AccountMeta) transaction.Instruction {
		return transaction.Instruction{
			ProgramID: bankID,
			Accounts:  append([]transaction.AccountMeta{transaction.NewReadonly(bankID)}, metas...),
			Data:      append([]byte{op}, amountData(opMove, 300)...),
		}
	}

	t.Run("delegated move", func(t *testing.T) {
		env := newTestEnv(t)
		env.put(t, from, 1_000, bankID)

		ix := invokeIx(opInvoke, transaction.NewWritable(from), transaction.NewWritable(to))
		require.NoError(t, env.process(t, []transaction.Instruction{ix}))
		assert.Equal(t, uint64(700), env.lamports(t, from))
		assert.Equal(t, uint64(300), env.lamports(t, to))
	})

	t.Run("callee error is returned as is", func(t *testing.T) {
		env := newTestEnv(t)
		env.put(t, from, 100, bankID)

		ix := invokeIx(opInvoke, transaction.NewWritable(from), transaction.NewWritable(to))
		err := env.process(t, []transaction.Instruction{ix})
		require.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, uint64(100), env.lamports(t, from))
	})

	t.Run("signer escalation", func(t *testing.T) {
		env := newTestEnv(t)
		env.put(t, from, 1_000, bankID)

		ix := invokeIx(opInvokeAsSigner, transaction.NewWritable(from), transaction.NewWritable(to))
		err := env.process(t, []transaction.Instruction{ix})
		require.ErrorIs(t, err, ErrPrivilegeEscalation)
	})

	t.Run("program account not passed", func(t *testing.T) {
		env := newTestEnv(t)
		ix := transaction.Instruction{
			ProgramID: bankID,
			// the callee slot holds a plain wallet
			Accounts: []transaction.AccountMeta{transaction.NewReadonly(from)},
			Data:     append([]byte{opInvoke}, amountData(opMove, 1)...),
		}
		err := env.process(t, []transaction.Instruction{ix})
		require.ErrorIs(t, err, constraint.ErrNotExecutable)
		assert.Equal(t, KindAuthorizationRejected, Classify(err))
	})

	t.Run("call depth", func(t *testing.T) {
		env := newTestEnv(t)
		ix := transaction.Instruction{
			ProgramID: bankID,
			Accounts:  []transaction.AccountMeta{transaction.NewReadonly(bankID)},
			Data:      []byte{opRecurse},
		}
		err := env.process(t, []transaction.Instruction{ix})
		require.ErrorIs(t, err, ErrCallDepth)
	})

	t.Run("outside of a program", func(t *testing.T) {
		ic := &InvokeContext{}
		assert.ErrorIs(t, ic.Invoke(transaction.Instruction{}), ErrNoActiveProgram)
		assert.Equal(t, 0, ic.Depth())
	})
}

func TestProcessTransaction_Canceled(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tx := transaction.New(crypto.Hash{}, moveIx(crypto.Pubkey{1}, crypto.Pubkey{2}, 0))
	assert.ErrorIs(t, env.rt.ProcessTransaction(ctx, tx), context.Canceled)
}

func TestExclusive_HoldsOffTransactions(t *testing.T) {
	env := newTestEnv(t)
	from, to := testutils.RandomPubkey(t), testutils.RandomPubkey(t)
	env.put(t, from, 1_000, bankID)

	tx := transaction.New(testutils.RandomHash(t), moveIx(from, to, 400))
	done := make(chan error, 1)
	err := env.rt.Exclusive(func() error {
		go func() { done <- env.rt.ProcessTransaction(context.Background(), tx) }()
		assert.Never(t, func() bool { return len(done) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

		// writes made here are seen by the waiting transaction
		return env.accounts.Put(from, account.Account{Lamports: 300, Owner: bankID})
	})
	require.NoError(t, err)

	require.ErrorIs(t, <-done, ErrInsufficientFunds)
	assert.Equal(t, uint64(300), env.lamports(t, from))
	assert.Equal(t, uint64(0), env.lamports(t, to))
}

func TestExclusive_ReturnsError(t *testing.T) {
	env := newTestEnv(t)
	want := errors.New("boom")
	assert.Same(t, want, env.rt.Exclusive(func() error { return want }))
}

func TestRegister_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	err := env.rt.Register(newBank(bankID))
	assert.ErrorIs(t, err, ErrProgramAlreadyRegistered)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	env := newTestEnv(t, WithMetrics(metrics))
	from, to := testutils.RandomPubkey(t), testutils.RandomPubkey(t)
	env.put(t, from, 1_000, bankID)

	require.NoError(t, env.process(t, []transaction.Instruction{moveIx(from, to, 250)}))
	require.Error(t, env.process(t, []transaction.Instruction{moveIx(from, to, 5_000)}))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transactions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transactions.WithLabelValues("insufficient_balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.instructions.WithLabelValues(bankID.String(), "success")))
	assert.Equal(t, 250.0, testutil.ToFloat64(metrics.lamportsMoved))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "collectors are registered only once")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindAuthorizationRejected, Classify(&InstructionError{Err: ErrAuthorizationRejected}))
	assert.Equal(t, KindInsufficientBalance, Classify(&InstructionError{Err: ErrInsufficientFunds}))
	assert.Equal(t, KindNativeCallFailure, Classify(errors.New("boom")))
	assert.Equal(t, "native_call_failure", KindNativeCallFailure.String())
}
