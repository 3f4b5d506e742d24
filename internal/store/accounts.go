package store

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/eigerco/transfersol/internal/account"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/pkg/db"
	"github.com/eigerco/transfersol/pkg/db/pebble"
	"github.com/eigerco/transfersol/pkg/log"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountsClosed  = errors.New("accounts store is closed")
)

// Accounts persists ledger accounts in a key-value store.
type Accounts struct {
	db     db.KVStore
	closed atomic.Bool
}

// NewAccounts creates a new accounts store using KVStore
func NewAccounts(db db.KVStore) *Accounts {
	return &Accounts{db: db}
}

// Get retrieves the account stored under pk.
func (a *Accounts) Get(pk crypto.Pubkey) (account.Account, error) {
	if a.closed.Load() {
		return account.Account{}, ErrAccountsClosed
	}

	b, err := a.db.Get(makeKey(prefixAccount, pk[:]))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return account.Account{}, ErrAccountNotFound
		}
		return account.Account{}, fmt.Errorf("get account %s: %w", pk, err)
	}

	var acc account.Account
	if err := acc.UnmarshalBinary(b); err != nil {
		return account.Account{}, fmt.Errorf("decode account %s: %w", pk, err)
	}
	return acc, nil
}

// Load is Get, except that a key that was never written yields an empty
// account owned by the system program.
func (a *Accounts) Load(pk crypto.Pubkey) (account.Account, error) {
	acc, err := a.Get(pk)
	if errors.Is(err, ErrAccountNotFound) {
		return account.New(0), nil
	}
	return acc, err
}

// Commit stores all accounts atomically. Accounts left without lamports and
// data are removed.
func (a *Accounts) Commit(accounts map[crypto.Pubkey]account.Account) error {
	if a.closed.Load() {
		return ErrAccountsClosed
	}

	batch := a.db.NewBatch()
	defer batch.Close() //nolint:errcheck

	for _, pk := range sortedKeys(accounts) {
		acc := accounts[pk]
		key := makeKey(prefixAccount, pk[:])
		if acc.Lamports == 0 && len(acc.Data) == 0 {
			if err := batch.Delete(key); err != nil {
				return fmt.Errorf("delete account %s: %w", pk, err)
			}
			continue
		}
		b, err := acc.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode account %s: %w", pk, err)
		}
		if err := batch.Put(key, b); err != nil {
			return fmt.Errorf("store account %s: %w", pk, err)
		}
	}

	writes := batch.Len()
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	log.Store.Debug().Int("accounts", len(accounts)).Int("writes", writes).Msg("committed accounts")
	return nil
}

// Put stores a single account.
func (a *Accounts) Put(pk crypto.Pubkey, acc account.Account) error {
	return a.Commit(map[crypto.Pubkey]account.Account{pk: acc})
}

// All returns every stored account keyed by address.
func (a *Accounts) All() (map[crypto.Pubkey]account.Account, error) {
	if a.closed.Load() {
		return nil, ErrAccountsClosed
	}

	iter, err := a.db.NewIterator([]byte{prefixAccount}, []byte{prefixAccount + 1})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	accounts := make(map[crypto.Pubkey]account.Account)
	for iter.Next() {
		key := iter.Key()
		if len(key) != 1+crypto.PubkeySize {
			log.Store.Warn().Str("prefix", PrefixToString(key[0])).Int("len", len(key)).Msg("skipping malformed account key")
			continue
		}
		value, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read account value: %w", err)
		}
		var acc account.Account
		if err := acc.UnmarshalBinary(value); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		accounts[crypto.Pubkey(key[1:])] = acc
	}
	return accounts, nil
}

// Close closes the accounts store and the underlying database.
func (a *Accounts) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return a.db.Close()
}

func sortedKeys(accounts map[crypto.Pubkey]account.Account) []crypto.Pubkey {
	keys := make([]crypto.Pubkey, 0, len(accounts))
	for pk := range accounts {
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})
	return keys
}
