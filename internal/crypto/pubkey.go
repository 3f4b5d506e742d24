package crypto

import (
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"

	"github.com/eigerco/transfersol/internal/crypto/ed25519"
)

var ErrInvalidPubkey = errors.New("invalid pubkey")

// Pubkey addresses an account. Its textual form is base58.
type Pubkey [PubkeySize]byte

func ParsePubkey(s string) (Pubkey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("%w: %q: %v", ErrInvalidPubkey, s, err)
	}
	if len(b) != PubkeySize {
		return Pubkey{}, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidPubkey, s, len(b))
	}
	return Pubkey(b), nil
}

// MustParsePubkey is for compile-time constants only.
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk Pubkey) String() string {
	return base58.Encode(pk[:])
}

func (pk Pubkey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Verify checks an ed25519 signature made by the key's owner over message.
func (pk Pubkey) Verify(message []byte, sig Signature) bool {
	return ed25519.Verify(pk[:], message, sig[:])
}

type Signature [SignatureSize]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// Keypair is an ed25519 signing key with its public address.
type Keypair struct {
	Pubkey  Pubkey
	private ed25519.PrivateKey
}

// GenerateKeypair creates a keypair from randomness read from rand.
func GenerateKeypair(rand io.Reader) (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return Keypair{}, fmt.Errorf("generate key: %w", err)
	}
	return Keypair{Pubkey: Pubkey(pub), private: priv}, nil
}

func NewKeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != SeedSize {
		return Keypair{}, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return Keypair{
		Pubkey:  Pubkey(priv.Public().(ed25519.PublicKey)),
		private: priv,
	}, nil
}

// Seed returns the 32 byte seed the keypair was derived from.
func (k Keypair) Seed() []byte {
	return k.private.Seed()
}

func (k Keypair) Sign(message []byte) Signature {
	return Signature(ed25519.Sign(k.private, message))
}
