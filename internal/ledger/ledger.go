// Package ledger assembles the account store, the runtime and the built-in
// programs into a single entry point for tools.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/eigerco/transfersol/internal/account"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/runtime"
	"github.com/eigerco/transfersol/internal/store"
	"github.com/eigerco/transfersol/internal/system"
	"github.com/eigerco/transfersol/internal/transaction"
	"github.com/eigerco/transfersol/internal/transfer"
	"github.com/eigerco/transfersol/pkg/db"
	"github.com/eigerco/transfersol/pkg/log"
)

var ErrGenesisAccountExists = errors.New("genesis account already exists")

type Ledger struct {
	accounts *store.Accounts
	runtime  *runtime.Runtime
}

// New takes ownership of kv. The system program and the transfer program are
// registered on the returned ledger.
func New(kv db.KVStore, opts ...runtime.Option) (*Ledger, error) {
	accounts := store.NewAccounts(kv)
	rt := runtime.New(accounts, opts...)
	if err := rt.Register(system.New(), transfer.New(system.CPI{})); err != nil {
		_ = accounts.Close()
		return nil, err
	}
	return &Ledger{accounts: accounts, runtime: rt}, nil
}

// Genesis funds fresh wallets. It fails without writing anything when any of
// the addresses already holds an account. No transaction runs between the
// existence checks and the commit.
func (l *Ledger) Genesis(balances map[crypto.Pubkey]uint64) error {
	return l.runtime.Exclusive(func() error {
		accounts := make(map[crypto.Pubkey]account.Account, len(balances))
		for pk, lamports := range balances {
			_, err := l.accounts.Get(pk)
			if err == nil {
				return fmt.Errorf("%w: %s", ErrGenesisAccountExists, pk)
			}
			if !errors.Is(err, store.ErrAccountNotFound) {
				return err
			}
			accounts[pk] = account.New(lamports)
		}
		if err := l.accounts.Commit(accounts); err != nil {
			return fmt.Errorf("commit genesis: %w", err)
		}
		log.Root.Info().Int("accounts", len(accounts)).Msg("genesis written")
		return nil
	})
}

func (l *Ledger) Account(pk crypto.Pubkey) (account.Account, error) {
	return l.accounts.Load(pk)
}

func (l *Ledger) Balance(pk crypto.Pubkey) (uint64, error) {
	acc, err := l.accounts.Load(pk)
	if err != nil {
		return 0, err
	}
	return acc.Lamports, nil
}

// Accounts lists every stored account.
func (l *Ledger) Accounts() (map[crypto.Pubkey]account.Account, error) {
	return l.accounts.All()
}

// Transfer signs and submits a transfer_sol instruction moving amount
// lamports from sender to receiver. It returns the transaction ID.
func (l *Ledger) Transfer(ctx context.Context, sender crypto.Keypair, receiver crypto.Pubkey, amount uint64) (crypto.Hash, error) {
	ix := transfer.NewTransferInstruction(sender.Pubkey, receiver, amount)
	return l.Submit(ctx, []crypto.Keypair{sender}, ix)
}

// Submit signs the instructions with signers and processes them as one
// transaction.
func (l *Ledger) Submit(ctx context.Context, signers []crypto.Keypair, instructions ...transaction.Instruction) (crypto.Hash, error) {
	var blockhash crypto.Hash
	if _, err := rand.Read(blockhash[:]); err != nil {
		return crypto.Hash{}, fmt.Errorf("generate blockhash: %w", err)
	}
	tx := transaction.New(blockhash, instructions...)
	if err := tx.Sign(signers...); err != nil {
		return crypto.Hash{}, err
	}
	id, err := tx.Message.ID()
	if err != nil {
		return crypto.Hash{}, err
	}
	return id, l.runtime.ProcessTransaction(ctx, tx)
}

func (l *Ledger) Rent() account.Rent {
	return l.runtime.Rent()
}

func (l *Ledger) Close() error {
	return l.accounts.Close()
}
