package transaction

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/eigerco/transfersol/internal/crypto"
)

var ErrMessageTooLarge = errors.New("message exceeds encodable size")

// AccountMeta names an account an instruction operates on and the privileges
// it requests for it.
type AccountMeta struct {
	Pubkey     crypto.Pubkey
	IsSigner   bool
	IsWritable bool
}

func NewReadonly(pk crypto.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk}
}

func NewWritable(pk crypto.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk, IsWritable: true}
}

func NewWritableSigner(pk crypto.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pk, IsSigner: true, IsWritable: true}
}

// Instruction is a single call into a program.
type Instruction struct {
	ProgramID crypto.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Message is the signed part of a transaction.
type Message struct {
	RecentBlockhash crypto.Hash
	Instructions    []Instruction
}

// Bytes is the deterministic encoding every signer signs:
//
//	blockhash ‖ u16 #instructions ‖ for each: program ‖ u16 #metas ‖
//	(pubkey ‖ flags)* ‖ u32 len(data) ‖ data
func (m Message) Bytes() ([]byte, error) {
	if len(m.Instructions) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d instructions", ErrMessageTooLarge, len(m.Instructions))
	}
	b := make([]byte, 0, crypto.HashSize+2)
	b = append(b, m.RecentBlockhash[:]...)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(m.Instructions)))
	for i, ix := range m.Instructions {
		if len(ix.Accounts) > math.MaxUint16 || uint64(len(ix.Data)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: instruction %d", ErrMessageTooLarge, i)
		}
		b = append(b, ix.ProgramID[:]...)
		b = binary.LittleEndian.AppendUint16(b, uint16(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			b = append(b, meta.Pubkey[:]...)
			b = append(b, meta.flags())
		}
		b = binary.LittleEndian.AppendUint32(b, uint32(len(ix.Data)))
		b = append(b, ix.Data...)
	}
	return b, nil
}

// ID identifies the message for logging.
func (m Message) ID() (crypto.Hash, error) {
	b, err := m.Bytes()
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.HashData(b), nil
}

const (
	flagSigner byte = 1 << iota
	flagWritable
)

func (meta AccountMeta) flags() byte {
	var f byte
	if meta.IsSigner {
		f |= flagSigner
	}
	if meta.IsWritable {
		f |= flagWritable
	}
	return f
}

// Signers lists the distinct keys any instruction requires a signature from,
// in order of first appearance.
func (m Message) Signers() []crypto.Pubkey {
	seen := crypto.PubkeySet{}
	var signers []crypto.Pubkey
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen.Has(meta.Pubkey) {
				seen.Add(meta.Pubkey)
				signers = append(signers, meta.Pubkey)
			}
		}
	}
	return signers
}

type SignatureEntry struct {
	Pubkey    crypto.Pubkey
	Signature crypto.Signature
}

// Transaction is a message together with the signatures authorising it.
type Transaction struct {
	Message    Message
	Signatures []SignatureEntry
}

func New(blockhash crypto.Hash, instructions ...Instruction) *Transaction {
	return &Transaction{Message: Message{RecentBlockhash: blockhash, Instructions: instructions}}
}

// Sign adds a signature for every keypair over the message bytes.
func (tx *Transaction) Sign(keypairs ...crypto.Keypair) error {
	msg, err := tx.Message.Bytes()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	for _, kp := range keypairs {
		tx.Signatures = append(tx.Signatures, SignatureEntry{
			Pubkey:    kp.Pubkey,
			Signature: kp.Sign(msg),
		})
	}
	return nil
}
