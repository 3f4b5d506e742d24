package system

import (
	"github.com/eigerco/transfersol/internal/runtime"
)

// TransferCall is a delegated transfer request: the program to route the call
// through and the accounts it operates on.
type TransferCall struct {
	Authority *runtime.AccountInfo
	From      *runtime.AccountInfo
	To        *runtime.AccountInfo
}

// CPI performs native transfers by invoking the system program from within
// the executing program.
type CPI struct{}

// Transfer issues exactly one delegated call and returns its error unchanged.
func (CPI) Transfer(ic *runtime.InvokeContext, call TransferCall, lamports uint64) error {
	ix := TransferInstruction(call.From.Key(), call.To.Key(), lamports)
	ix.ProgramID = call.Authority.Key()
	return ic.Invoke(ix)
}
