// Package constraint declares the accounts an instruction expects and the
// capabilities each one must carry. A Descriptor is static data: it is
// evaluated by the runtime before the instruction handler is entered, so the
// authorization surface of a program can be read without reading its code.
package constraint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eigerco/transfersol/internal/crypto"
)

var (
	ErrNotEnoughAccounts = errors.New("not enough account keys")
	ErrMissingSigner     = errors.New("missing required signature")
	ErrNotWritable       = errors.New("account is not writable")
	ErrNotExecutable     = errors.New("account is not executable")
	ErrAddressMismatch   = errors.New("account address mismatch")
	ErrDuplicateName     = errors.New("duplicate account name")
)

// Ref is the view of an account reference the gate needs.
type Ref interface {
	Key() crypto.Pubkey
	IsSigner() bool
	IsWritable() bool
	IsExecutable() bool
}

// Constraint lists the capabilities one positional account must have.
type Constraint struct {
	Name       string
	Signer     bool
	Writable   bool
	Executable bool
	// Address pins the account to a fixed identity when set.
	Address *crypto.Pubkey
}

func Signer(name string) Constraint {
	return Constraint{Name: name, Signer: true}
}

func Writable(name string) Constraint {
	return Constraint{Name: name, Writable: true}
}

func WritableSigner(name string) Constraint {
	return Constraint{Name: name, Signer: true, Writable: true}
}

// Program requires the account to be the executable account of program id.
func Program(name string, id crypto.Pubkey) Constraint {
	return Constraint{Name: name, Executable: true, Address: &id}
}

func (c Constraint) check(ref Ref) error {
	if c.Address != nil && ref.Key() != *c.Address {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrAddressMismatch, c.Name, ref.Key(), *c.Address)
	}
	if c.Signer && !ref.IsSigner() {
		return fmt.Errorf("%w: %s (%s)", ErrMissingSigner, c.Name, ref.Key())
	}
	if c.Writable && !ref.IsWritable() {
		return fmt.Errorf("%w: %s (%s)", ErrNotWritable, c.Name, ref.Key())
	}
	if c.Executable && !ref.IsExecutable() {
		return fmt.Errorf("%w: %s (%s)", ErrNotExecutable, c.Name, ref.Key())
	}
	return nil
}

func (c Constraint) String() string {
	var flags []string
	if c.Signer {
		flags = append(flags, "signer")
	}
	if c.Writable {
		flags = append(flags, "mut")
	}
	if c.Executable {
		flags = append(flags, "executable")
	}
	if c.Address != nil {
		flags = append(flags, "address="+c.Address.String())
	}
	return c.Name + "[" + strings.Join(flags, ",") + "]"
}

// Descriptor is the ordered account list of an instruction.
type Descriptor []Constraint

// Validate reports descriptor mistakes, such as two accounts sharing a name.
func (d Descriptor) Validate() error {
	names := make(map[string]struct{}, len(d))
	for _, c := range d {
		if _, ok := names[c.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateName, c.Name)
		}
		names[c.Name] = struct{}{}
	}
	return nil
}

func (d Descriptor) String() string {
	parts := make([]string, len(d))
	for i, c := range d {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// Accounts are the references that satisfied a descriptor, keyed by name.
type Accounts[R Ref] struct {
	byName    map[string]R
	Remaining []R
}

// Get returns the bound account for name. Names come from the descriptor the
// accounts were bound with, so a miss is a programming error.
func (a Accounts[R]) Get(name string) R {
	r, ok := a.byName[name]
	if !ok {
		panic(fmt.Sprintf("constraint: account %q is not part of the descriptor", name))
	}
	return r
}

// Bind checks refs against the descriptor position by position. Accounts
// beyond the descriptor are handed over untouched in Remaining.
func Bind[R Ref](d Descriptor, refs []R) (Accounts[R], error) {
	if len(refs) < len(d) {
		return Accounts[R]{}, fmt.Errorf("%w: expected %d, got %d", ErrNotEnoughAccounts, len(d), len(refs))
	}
	bound := Accounts[R]{byName: make(map[string]R, len(d))}
	for i, c := range d {
		if err := c.check(refs[i]); err != nil {
			return Accounts[R]{}, err
		}
		bound.byName[c.Name] = refs[i]
	}
	bound.Remaining = refs[len(d):]
	return bound, nil
}
