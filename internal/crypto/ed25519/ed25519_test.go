package ed25519

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	pub, priv, err := GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := []byte("message")
	sig := Sign(priv, msg)

	assert.True(t, Verify(pub, msg, sig))
	assert.False(t, Verify(pub, []byte("other"), sig))
	assert.False(t, Verify(pub[:10], msg, sig))
	assert.False(t, Verify(pub, msg, sig[:10]))
}
