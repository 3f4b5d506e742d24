package runtime

import (
	"fmt"

	"github.com/eigerco/transfersol/internal/account"
	"github.com/eigerco/transfersol/internal/constraint"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/safemath"
)

var _ constraint.Ref = (*AccountInfo)(nil)

// AccountInfo is the view of an account handed to one program invocation.
// Views of the same key share the underlying account, so a change made by a
// callee is seen by its caller. The privileges are those of the invocation.
type AccountInfo struct {
	key      crypto.Pubkey
	signer   bool
	writable bool
	account  *account.Account
	// program executing the invocation the view belongs to
	program crypto.Pubkey
}

func (a *AccountInfo) Key() crypto.Pubkey   { return a.key }
func (a *AccountInfo) IsSigner() bool       { return a.signer }
func (a *AccountInfo) IsWritable() bool     { return a.writable }
func (a *AccountInfo) IsExecutable() bool   { return a.account.Executable }
func (a *AccountInfo) Lamports() uint64     { return a.account.Lamports }
func (a *AccountInfo) Owner() crypto.Pubkey { return a.account.Owner }
func (a *AccountInfo) DataLen() int         { return len(a.account.Data) }

// Debit takes lamports from the account. Only the owning program may do so,
// and only through a writable view.
func (a *AccountInfo) Debit(lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	if err := a.checkLamportChange(); err != nil {
		return err
	}
	if a.account.Owner != a.program {
		return fmt.Errorf("%w: %s is owned by %s", ErrExternalAccountLamportSpend, a.key, a.account.Owner)
	}
	v, ok := safemath.Sub64(a.account.Lamports, lamports)
	if !ok {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, a.key, a.account.Lamports, lamports)
	}
	a.account.Lamports = v
	return nil
}

// Credit adds lamports to the account through a writable view.
func (a *AccountInfo) Credit(lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	if err := a.checkLamportChange(); err != nil {
		return err
	}
	v, ok := safemath.Add64(a.account.Lamports, lamports)
	if !ok {
		return fmt.Errorf("%w: crediting %d to %s", ErrArithmeticOverflow, lamports, a.key)
	}
	a.account.Lamports = v
	return nil
}

func (a *AccountInfo) checkLamportChange() error {
	if !a.writable {
		return fmt.Errorf("%w: %s", ErrReadonlyLamportChange, a.key)
	}
	if a.account.Executable {
		return fmt.Errorf("%w: %s", ErrExecutableLamportChange, a.key)
	}
	return nil
}

// sumLamports adds up the balances of the distinct accounts behind infos.
func sumLamports(infos []*AccountInfo) (uint64, error) {
	seen := crypto.PubkeySet{}
	balances := make([]uint64, 0, len(infos))
	for _, info := range infos {
		if seen.Has(info.key) {
			continue
		}
		seen.Add(info.key)
		balances = append(balances, info.account.Lamports)
	}
	total, err := safemath.Sum64(balances...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrArithmeticOverflow, err)
	}
	return total, nil
}
