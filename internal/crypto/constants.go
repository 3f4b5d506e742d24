package crypto

const (
	HashSize      = 32
	PubkeySize    = 32
	SignatureSize = 64
	SeedSize      = 32
)
