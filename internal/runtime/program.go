package runtime

import (
	"github.com/eigerco/transfersol/internal/constraint"
	"github.com/eigerco/transfersol/internal/crypto"
)

// BoundAccounts are the accounts of an invocation after the gate accepted them.
type BoundAccounts = constraint.Accounts[*AccountInfo]

// Handler is the body of an instruction. It is only entered after the
// accounts satisfied the entrypoint's descriptor.
type Handler func(ic *InvokeContext, accounts BoundAccounts, args []byte) error

// Entrypoint pairs an instruction handler with the accounts it requires.
type Entrypoint struct {
	Name     string
	Accounts constraint.Descriptor
	Handler  Handler
}

// Program is a built-in program the runtime can dispatch instructions to.
type Program interface {
	ID() crypto.Pubkey
	// Entrypoint selects the entrypoint addressed by the instruction data and
	// returns it together with the remaining argument bytes.
	Entrypoint(data []byte) (Entrypoint, []byte, error)
}
