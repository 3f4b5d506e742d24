// Package transfer is the program that moves lamports from a signing sender
// to a receiver by delegating to the native system transfer.
//
// The program performs no authorization checks of its own. The accounts of
// transfer_sol are declared in TransferSolAccounts and the runtime refuses to
// enter the handler unless the sender signed, both the sender and the
// receiver are writable, and the system program is the delegation target.
package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/eigerco/transfersol/internal/constraint"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/runtime"
	"github.com/eigerco/transfersol/internal/system"
	"github.com/eigerco/transfersol/internal/transaction"
	"github.com/eigerco/transfersol/pkg/log"
)

var ProgramID = crypto.MustParsePubkey("CFHwnFymbR5LSp8TBqUnVJZvWaEFb79xj3723TJviGkw")

const (
	InstructionTransferSol = "transfer_sol"
	DiscriminatorSize      = 8
	amountSize             = 8
)

var transferSolDiscriminator = Discriminator(InstructionTransferSol)

// Discriminator is the 8 byte instruction selector: the first bytes of
// sha256("global:" + name).
func Discriminator(name string) [DiscriminatorSize]byte {
	h := sha256.Sum256([]byte("global:" + name))
	return [DiscriminatorSize]byte(h[:DiscriminatorSize])
}

// TransferSolAccounts is the account context of transfer_sol.
var TransferSolAccounts = constraint.Descriptor{
	constraint.WritableSigner("sender"),
	constraint.Writable("receiver"),
	constraint.Program("system_program", system.ProgramID),
}

// NativeTransfer is the balance-moving primitive the program delegates to.
type NativeTransfer interface {
	Transfer(ic *runtime.InvokeContext, call system.TransferCall, lamports uint64) error
}

// Accounts is the authorization context of one transfer.
type Accounts struct {
	Sender        *runtime.AccountInfo
	Receiver      *runtime.AccountInfo
	SystemProgram *runtime.AccountInfo
}

type Program struct {
	native NativeTransfer
}

func New(native NativeTransfer) *Program {
	return &Program{native: native}
}

func (p *Program) ID() crypto.Pubkey {
	return ProgramID
}

func (p *Program) Entrypoint(data []byte) (runtime.Entrypoint, []byte, error) {
	if len(data) < DiscriminatorSize {
		return runtime.Entrypoint{}, nil, fmt.Errorf("%w: %d bytes is shorter than the discriminator", runtime.ErrInvalidInstructionData, len(data))
	}
	if !bytes.Equal(data[:DiscriminatorSize], transferSolDiscriminator[:]) {
		return runtime.Entrypoint{}, nil, fmt.Errorf("%w: unknown discriminator %x", runtime.ErrInvalidInstructionData, data[:DiscriminatorSize])
	}
	return runtime.Entrypoint{
		Name:     InstructionTransferSol,
		Accounts: TransferSolAccounts,
		Handler:  p.transferSol,
	}, data[DiscriminatorSize:], nil
}

func (p *Program) transferSol(ic *runtime.InvokeContext, accounts runtime.BoundAccounts, args []byte) error {
	if len(args) != amountSize {
		return fmt.Errorf("%w: %s arguments of %d bytes", runtime.ErrInvalidInstructionData, InstructionTransferSol, len(args))
	}
	amount := binary.LittleEndian.Uint64(args)

	return p.TransferValue(ic, Accounts{
		Sender:        accounts.Get("sender"),
		Receiver:      accounts.Get("receiver"),
		SystemProgram: accounts.Get("system_program"),
	}, amount)
}

// TransferValue moves amount lamports from the sender to the receiver with a
// single delegated call to the system program. Errors of the native transfer
// are returned verbatim.
func (p *Program) TransferValue(ic *runtime.InvokeContext, accs Accounts, amount uint64) error {
	log.Program.Debug().
		Stringer("sender", accs.Sender.Key()).
		Stringer("receiver", accs.Receiver.Key()).
		Uint64("amount", amount).
		Msg("transfer_sol")

	call := system.TransferCall{
		Authority: accs.SystemProgram,
		From:      accs.Sender,
		To:        accs.Receiver,
	}
	return p.native.Transfer(ic, call, amount)
}

// NewTransferInstruction builds a transfer_sol instruction.
func NewTransferInstruction(sender, receiver crypto.Pubkey, amount uint64) transaction.Instruction {
	data := make([]byte, DiscriminatorSize+amountSize)
	copy(data, transferSolDiscriminator[:])
	binary.LittleEndian.PutUint64(data[DiscriminatorSize:], amount)

	return transaction.Instruction{
		ProgramID: ProgramID,
		Accounts: []transaction.AccountMeta{
			transaction.NewWritableSigner(sender),
			transaction.NewWritable(receiver),
			transaction.NewReadonly(system.ProgramID),
		},
		Data: data,
	}
}
