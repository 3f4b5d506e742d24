package account

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/safemath"
)

// Well known owners.
var (
	// SystemProgramID owns every wallet account and implements native transfers.
	SystemProgramID = crypto.Pubkey{}
	// NativeLoaderID owns the accounts of built-in programs.
	NativeLoaderID = crypto.MustParsePubkey("NativeLoader1111111111111111111111111111111")
)

const (
	BasicMinimumBalance    = 100 // The basic minimum balance every account must retain.
	LamportsPerByte        = 1   // The additional minimum balance per octet of account state.
	AccountStorageOverhead = 128 // Octets charged for the account record itself.

	// MaxDataSize bounds the data a stored account may carry.
	MaxDataSize = 10 * 1024 * 1024

	headerSize = 8 + crypto.PubkeySize + 1 + 4
)

var ErrMalformedAccount = errors.New("malformed account encoding")

// Account is a ledger entry holding a lamport balance.
type Account struct {
	Lamports   uint64
	Owner      crypto.Pubkey
	Executable bool
	Data       []byte
}

// New returns an empty wallet account owned by the system program.
func New(lamports uint64) Account {
	return Account{Lamports: lamports, Owner: SystemProgramID}
}

// Rent defines the minimum balance an account has to retain to stay valid.
type Rent struct {
	BaseMinimumBalance     uint64 `yaml:"base_minimum_balance"`
	LamportsPerByte        uint64 `yaml:"lamports_per_byte"`
	AccountStorageOverhead uint64 `yaml:"account_storage_overhead"`
}

func DefaultRent() Rent {
	return Rent{
		BaseMinimumBalance:     BasicMinimumBalance,
		LamportsPerByte:        LamportsPerByte,
		AccountStorageOverhead: AccountStorageOverhead,
	}
}

// MinimumBalance is the floor an account with dataLen octets of data must keep.
// It saturates at the maximum balance instead of overflowing.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	octets, ok := safemath.Add64(r.AccountStorageOverhead, dataLen)
	if !ok {
		return ^uint64(0)
	}
	perOctet, ok := safemath.Mul64(r.LamportsPerByte, octets)
	if !ok {
		return ^uint64(0)
	}
	total, ok := safemath.Add64(r.BaseMinimumBalance, perOctet)
	if !ok {
		return ^uint64(0)
	}
	return total
}

// Spendable is the part of lamports above the minimum an account holding
// dataLen octets of data retains.
func (r Rent) Spendable(lamports, dataLen uint64) uint64 {
	return safemath.SaturatingSub64(lamports, r.MinimumBalance(dataLen))
}

// MarshalBinary encodes the account as
// lamports (u64 LE) ‖ owner (32) ‖ executable (u8) ‖ len(data) (u32 LE) ‖ data.
func (a Account) MarshalBinary() ([]byte, error) {
	if len(a.Data) > MaxDataSize {
		return nil, fmt.Errorf("account data of %d bytes exceeds %d", len(a.Data), MaxDataSize)
	}
	b := make([]byte, headerSize+len(a.Data))
	binary.LittleEndian.PutUint64(b[0:8], a.Lamports)
	copy(b[8:8+crypto.PubkeySize], a.Owner[:])
	if a.Executable {
		b[8+crypto.PubkeySize] = 1
	}
	binary.LittleEndian.PutUint32(b[headerSize-4:headerSize], uint32(len(a.Data)))
	copy(b[headerSize:], a.Data)
	return b, nil
}

func (a *Account) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedAccount, len(b))
	}
	dataLen := binary.LittleEndian.Uint32(b[headerSize-4 : headerSize])
	if uint64(len(b)-headerSize) != uint64(dataLen) {
		return fmt.Errorf("%w: data length %d, have %d bytes", ErrMalformedAccount, dataLen, len(b)-headerSize)
	}
	switch b[8+crypto.PubkeySize] {
	case 0:
		a.Executable = false
	case 1:
		a.Executable = true
	default:
		return fmt.Errorf("%w: executable flag %d", ErrMalformedAccount, b[8+crypto.PubkeySize])
	}
	a.Lamports = binary.LittleEndian.Uint64(b[0:8])
	a.Owner = crypto.Pubkey(b[8 : 8+crypto.PubkeySize])
	a.Data = nil
	if dataLen > 0 {
		a.Data = append([]byte(nil), b[headerSize:]...)
	}
	return nil
}
