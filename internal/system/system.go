// Package system is the native program that owns wallet accounts and moves
// lamports between them.
package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eigerco/transfersol/internal/account"
	"github.com/eigerco/transfersol/internal/constraint"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/runtime"
	"github.com/eigerco/transfersol/internal/transaction"
	"github.com/eigerco/transfersol/pkg/log"
)

var ProgramID = account.SystemProgramID

// Instruction tags, encoded as u32 LE in front of the arguments.
const (
	InstructionCreateAccount uint32 = iota
	InstructionAssign
	InstructionTransfer
)

const (
	tagSize            = 4
	transferArgsSize   = 8
	transferDataLength = tagSize + transferArgsSize
)

var ErrFromMustNotCarryData = errors.New("from account must not carry data")

// TransferAccounts is the account context of a native transfer.
var TransferAccounts = constraint.Descriptor{
	constraint.WritableSigner("from"),
	constraint.Writable("to"),
}

type Program struct{}

func New() *Program {
	return &Program{}
}

func (p *Program) ID() crypto.Pubkey {
	return ProgramID
}

func (p *Program) Entrypoint(data []byte) (runtime.Entrypoint, []byte, error) {
	if len(data) < tagSize {
		return runtime.Entrypoint{}, nil, fmt.Errorf("%w: system instruction of %d bytes", runtime.ErrInvalidInstructionData, len(data))
	}
	switch tag := binary.LittleEndian.Uint32(data); tag {
	case InstructionTransfer:
		return runtime.Entrypoint{
			Name:     "transfer",
			Accounts: TransferAccounts,
			Handler:  processTransfer,
		}, data[tagSize:], nil
	default:
		return runtime.Entrypoint{}, nil, fmt.Errorf("%w: unsupported system instruction %d", runtime.ErrInvalidInstructionData, tag)
	}
}

func processTransfer(ic *runtime.InvokeContext, accounts runtime.BoundAccounts, args []byte) error {
	if len(args) != transferArgsSize {
		return fmt.Errorf("%w: transfer arguments of %d bytes", runtime.ErrInvalidInstructionData, len(args))
	}
	lamports := binary.LittleEndian.Uint64(args)
	return transfer(ic.Rent(), accounts.Get("from"), accounts.Get("to"), lamports)
}

// transfer moves lamports unless that would leave from below the minimum
// balance it has to retain. A zero transfer changes nothing and succeeds.
func transfer(rent account.Rent, from, to *runtime.AccountInfo, lamports uint64) error {
	if from.DataLen() > 0 {
		return fmt.Errorf("%w: %s", ErrFromMustNotCarryData, from.Key())
	}
	if lamports == 0 {
		return nil
	}

	dataLen := uint64(from.DataLen())
	if lamports > rent.Spendable(from.Lamports(), dataLen) {
		return fmt.Errorf("%w: %s holds %d and must retain %d, transfer needs %d",
			runtime.ErrInsufficientFunds, from.Key(), from.Lamports(), rent.MinimumBalance(dataLen), lamports)
	}

	if err := from.Debit(lamports); err != nil {
		return err
	}
	if err := to.Credit(lamports); err != nil {
		return err
	}

	log.Program.Debug().
		Stringer("from", from.Key()).
		Stringer("to", to.Key()).
		Uint64("lamports", lamports).
		Msg("native transfer")
	return nil
}

// TransferInstruction builds a system transfer of lamports from from to to.
func TransferInstruction(from, to crypto.Pubkey, lamports uint64) transaction.Instruction {
	data := make([]byte, transferDataLength)
	binary.LittleEndian.PutUint32(data[:tagSize], InstructionTransfer)
	binary.LittleEndian.PutUint64(data[tagSize:], lamports)

	return transaction.Instruction{
		ProgramID: ProgramID,
		Accounts: []transaction.AccountMeta{
			transaction.NewWritableSigner(from),
			transaction.NewWritable(to),
		},
		Data: data,
	}
}
