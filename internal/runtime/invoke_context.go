package runtime

import (
	"fmt"
	"slices"

	"github.com/eigerco/transfersol/internal/account"
	"github.com/eigerco/transfersol/internal/constraint"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/transaction"
	"github.com/eigerco/transfersol/pkg/log"
)

// MaxInvokeDepth bounds the number of nested program invocations, the
// top-level instruction included.
const MaxInvokeDepth = 4

type frame struct {
	program crypto.Pubkey
	infos   []*AccountInfo
}

// InvokeContext carries the state of one transaction through its program
// invocations.
type InvokeContext struct {
	programs map[crypto.Pubkey]Program
	rent     account.Rent
	stack    []frame
}

func (ic *InvokeContext) Rent() account.Rent {
	return ic.rent
}

// Depth is the number of active invocations.
func (ic *InvokeContext) Depth() int {
	return len(ic.stack)
}

// Invoke performs a delegated call from the executing program into the
// program named by ix. The callee sees the same accounts as the caller with
// at most the caller's privileges, and the callee's error is returned as is.
func (ic *InvokeContext) Invoke(ix transaction.Instruction) error {
	if ic.Depth() == 0 {
		return ErrNoActiveProgram
	}
	if ic.Depth() >= MaxInvokeDepth {
		return fmt.Errorf("%w: depth %d", ErrCallDepth, ic.Depth())
	}
	caller := ic.stack[len(ic.stack)-1]

	programInfo := findInfo(caller.infos, ix.ProgramID)
	if programInfo == nil {
		return fmt.Errorf("%w: program account %s was not passed to the caller", ErrProgramNotFound, ix.ProgramID)
	}
	if !programInfo.IsExecutable() {
		return fmt.Errorf("%w: %s", ErrAccountNotExecutable, ix.ProgramID)
	}
	if ix.ProgramID != caller.program && slices.ContainsFunc(ic.stack, func(f frame) bool { return f.program == ix.ProgramID }) {
		return fmt.Errorf("%w: %s", ErrReentrancy, ix.ProgramID)
	}

	infos := make([]*AccountInfo, 0, len(ix.Accounts))
	for _, meta := range ix.Accounts {
		callerInfo := findInfo(caller.infos, meta.Pubkey)
		if callerInfo == nil {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Pubkey)
		}
		if meta.IsSigner && !callerInfo.signer {
			return fmt.Errorf("%w: %s is not a signer of the caller", ErrPrivilegeEscalation, meta.Pubkey)
		}
		if meta.IsWritable && !callerInfo.writable {
			return fmt.Errorf("%w: %s is not writable for the caller", ErrPrivilegeEscalation, meta.Pubkey)
		}
		infos = append(infos, &AccountInfo{
			key:      meta.Pubkey,
			signer:   meta.IsSigner,
			writable: meta.IsWritable,
			account:  callerInfo.account,
			program:  ix.ProgramID,
		})
	}

	log.Runtime.Debug().
		Stringer("caller", caller.program).
		Stringer("callee", ix.ProgramID).
		Int("depth", ic.Depth()+1).
		Msg("cross-program invocation")
	return ic.execute(ix.ProgramID, infos, ix.Data)
}

// execute checks the declaration of the addressed entrypoint, runs its account
// gate and, when that passes, the entrypoint's handler in a new frame.
func (ic *InvokeContext) execute(programID crypto.Pubkey, infos []*AccountInfo, data []byte) error {
	program, ok := ic.programs[programID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, programID)
	}
	ep, args, err := program.Entrypoint(data)
	if err != nil {
		return err
	}

	if err := ep.Accounts.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntrypoint, ep.Name, err)
	}
	accounts, err := constraint.Bind(ep.Accounts, infos)
	if err != nil {
		log.Runtime.Debug().
			Stringer("program", programID).
			Str("entrypoint", ep.Name).
			Stringer("accounts", ep.Accounts).
			Err(err).
			Msg("account constraints not met")
		return fmt.Errorf("%w: %s: %w", ErrAuthorizationRejected, ep.Name, err)
	}

	before, err := sumLamports(infos)
	if err != nil {
		return err
	}

	ic.stack = append(ic.stack, frame{program: programID, infos: infos})
	err = ep.Handler(ic, accounts, args)
	ic.stack = ic.stack[:len(ic.stack)-1]
	if err != nil {
		return err
	}

	after, err := sumLamports(infos)
	if err != nil {
		return err
	}
	if before != after {
		return fmt.Errorf("%w: %s: %d before, %d after", ErrUnbalancedInstruction, ep.Name, before, after)
	}
	return nil
}

func findInfo(infos []*AccountInfo, key crypto.Pubkey) *AccountInfo {
	for _, info := range infos {
		if info.key == key {
			return info
		}
	}
	return nil
}
