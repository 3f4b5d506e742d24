package runtime

import (
	"errors"
	"fmt"

	"github.com/eigerco/transfersol/internal/crypto"
)

var (
	// ErrAuthorizationRejected wraps every failure raised before a program
	// body runs: missing or invalid signatures and unmet account constraints.
	ErrAuthorizationRejected = errors.New("authorization rejected")
	ErrMissingSignature      = errors.New("missing signature for signer account")
	ErrInvalidSignature      = errors.New("invalid signature")

	ErrEmptyMessage             = errors.New("message has no instructions")
	ErrProgramNotFound          = errors.New("program not found")
	ErrProgramAlreadyRegistered = errors.New("program already registered")
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInvalidEntrypoint        = errors.New("invalid entrypoint declaration")

	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrUnbalancedInstruction       = errors.New("sum of account balances before and after instruction do not match")
	ErrReadonlyLamportChange       = errors.New("instruction changed the balance of a read-only account")
	ErrExternalAccountLamportSpend = errors.New("instruction spent from the balance of an account it does not own")
	ErrExecutableLamportChange     = errors.New("instruction changed the balance of an executable account")
	ErrArithmeticOverflow          = errors.New("arithmetic overflow")

	ErrMissingAccount       = errors.New("instruction references an account the caller does not hold")
	ErrPrivilegeEscalation  = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrAccountNotExecutable = errors.New("program account is not executable")
	ErrCallDepth            = errors.New("cross-program invocation call depth too deep")
	ErrReentrancy           = errors.New("cross-program invocation reentrancy not allowed")
	ErrNoActiveProgram      = errors.New("no program is executing")
)

// InstructionError locates a failure within a transaction.
type InstructionError struct {
	Index   int
	Program crypto.Pubkey
	Err     error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d (program %s): %v", e.Index, e.Program, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// ErrorKind groups errors by who rejected the transfer.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	// KindAuthorizationRejected: the host refused to enter the handler.
	KindAuthorizationRejected
	// KindInsufficientBalance: the native primitive found the balance too low.
	KindInsufficientBalance
	// KindNativeCallFailure: any other failure of the delegated call.
	KindNativeCallFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "success"
	case KindAuthorizationRejected:
		return "authorization_rejected"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindNativeCallFailure:
		return "native_call_failure"
	}
	return "unknown"
}

func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthorizationRejected):
		return KindAuthorizationRejected
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientBalance
	default:
		return KindNativeCallFailure
	}
}
