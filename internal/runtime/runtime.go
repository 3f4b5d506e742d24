package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/eigerco/transfersol/internal/account"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/safemath"
	"github.com/eigerco/transfersol/internal/transaction"
	"github.com/eigerco/transfersol/pkg/log"
)

// AccountsDB is the account storage the runtime loads from and commits to.
type AccountsDB interface {
	// Load returns the account stored under pk, or an empty system owned
	// account when there is none.
	Load(pk crypto.Pubkey) (account.Account, error)
	// Commit writes all accounts atomically.
	Commit(accounts map[crypto.Pubkey]account.Account) error
}

// Runtime executes transactions against an accounts database. Transactions
// are processed one at a time and either apply completely or not at all.
type Runtime struct {
	mu       sync.Mutex
	db       AccountsDB
	programs map[crypto.Pubkey]Program
	rent     account.Rent
	metrics  *Metrics
}

type Option func(*Runtime)

func WithRent(rent account.Rent) Option {
	return func(r *Runtime) {
		r.rent = rent
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

func New(db AccountsDB, opts ...Option) *Runtime {
	r := &Runtime{
		db:       db,
		programs: make(map[crypto.Pubkey]Program),
		rent:     account.DefaultRent(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes programs callable by their ID.
func (r *Runtime) Register(programs ...Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range programs {
		if _, ok := r.programs[p.ID()]; ok {
			return fmt.Errorf("%w: %s", ErrProgramAlreadyRegistered, p.ID())
		}
		r.programs[p.ID()] = p
		log.Runtime.Info().Stringer("program", p.ID()).Msg("registered program")
	}
	return nil
}

// Exclusive runs fn while no transaction is being processed. Writes made by fn
// directly against the accounts database are ordered with transactions.
func (r *Runtime) Exclusive(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

func (r *Runtime) Rent() account.Rent {
	return r.rent
}

type loadedAccount struct {
	account  *account.Account
	signer   bool
	writable bool
	program  bool
	original uint64
}

// ProcessTransaction verifies the signatures of tx, runs its instructions in
// order and commits the resulting accounts. If any step fails nothing is
// written and the error is returned, wrapped in an *InstructionError when an
// instruction failed.
func (r *Runtime) ProcessTransaction(ctx context.Context, tx *transaction.Transaction) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := tx.Message.ID()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	logger := log.Runtime.With().Stringer("tx", id).Logger()
	defer func() {
		r.metrics.observeTransaction(err)
		if err != nil {
			logger.Warn().Err(err).Str("kind", Classify(err).String()).Msg("transaction failed")
		}
	}()

	if len(tx.Message.Instructions) == 0 {
		return ErrEmptyMessage
	}
	if err := verifySignatures(tx); err != nil {
		return err
	}

	loaded, err := r.loadAccounts(tx.Message)
	if err != nil {
		return err
	}

	ic := &InvokeContext{programs: r.programs, rent: r.rent}
	for i, ix := range tx.Message.Instructions {
		infos := make([]*AccountInfo, len(ix.Accounts))
		for j, meta := range ix.Accounts {
			la := loaded[meta.Pubkey]
			infos[j] = &AccountInfo{
				key:      meta.Pubkey,
				signer:   la.signer,
				writable: la.writable,
				account:  la.account,
				program:  ix.ProgramID,
			}
		}
		err := ic.execute(ix.ProgramID, infos, ix.Data)
		r.metrics.observeInstruction(ix.ProgramID, err)
		if err != nil {
			return &InstructionError{Index: i, Program: ix.ProgramID, Err: err}
		}
	}

	changed := make(map[crypto.Pubkey]account.Account)
	var moved uint64
	for pk, la := range loaded {
		if !la.writable || la.program {
			continue
		}
		changed[pk] = *la.account
		if la.account.Lamports < la.original {
			moved, _ = safemath.Add64(moved, la.original-la.account.Lamports)
		}
	}
	if err := r.db.Commit(changed); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	r.metrics.observeMoved(moved)

	logger.Info().
		Int("instructions", len(tx.Message.Instructions)).
		Uint64("lamports_moved", moved).
		Msg("transaction committed")
	return nil
}

func verifySignatures(tx *transaction.Transaction) error {
	msg, err := tx.Message.Bytes()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	signed := crypto.PubkeySet{}
	for _, entry := range tx.Signatures {
		if !entry.Pubkey.Verify(msg, entry.Signature) {
			return fmt.Errorf("%w: %w: %s", ErrAuthorizationRejected, ErrInvalidSignature, entry.Pubkey)
		}
		signed.Add(entry.Pubkey)
	}
	for _, signer := range tx.Message.Signers() {
		if !signed.Has(signer) {
			return fmt.Errorf("%w: %w: %s", ErrAuthorizationRejected, ErrMissingSignature, signer)
		}
	}
	return nil
}

// loadAccounts reads every account the message references once. The flags of
// a key are the union of what all its metas request.
func (r *Runtime) loadAccounts(msg transaction.Message) (map[crypto.Pubkey]*loadedAccount, error) {
	loaded := make(map[crypto.Pubkey]*loadedAccount)
	load := func(pk crypto.Pubkey) (*loadedAccount, error) {
		if la, ok := loaded[pk]; ok {
			return la, nil
		}
		la := &loadedAccount{}
		if _, ok := r.programs[pk]; ok {
			la.program = true
			la.account = &account.Account{Lamports: 1, Owner: account.NativeLoaderID, Executable: true}
		} else {
			acc, err := r.db.Load(pk)
			if err != nil {
				return nil, fmt.Errorf("load account %s: %w", pk, err)
			}
			la.account = &acc
		}
		la.original = la.account.Lamports
		loaded[pk] = la
		return la, nil
	}

	for _, ix := range msg.Instructions {
		for _, meta := range ix.Accounts {
			la, err := load(meta.Pubkey)
			if err != nil {
				return nil, err
			}
			la.signer = la.signer || meta.IsSigner
			la.writable = la.writable || meta.IsWritable
		}
	}
	return loaded, nil
}
