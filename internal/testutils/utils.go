package testutils

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eigerco/transfersol/internal/crypto"
)

func RandomHash(t *testing.T) crypto.Hash {
	var hash crypto.Hash
	_, err := rand.Read(hash[:])
	require.NoError(t, err)
	return hash
}

func RandomPubkey(t *testing.T) crypto.Pubkey {
	var pk crypto.Pubkey
	_, err := rand.Read(pk[:])
	require.NoError(t, err)
	return pk
}

func RandomKeypair(t *testing.T) crypto.Keypair {
	kp, err := crypto.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	return kp
}
