package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher_RoundTrip(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("p1")
	require.NoError(t, err)

	assert.NotEqual(t, "p1", hash)
	assert.True(t, h.Verify("p1", hash))
	assert.False(t, h.Verify("p2", hash))
}

func TestNewBcryptHasher_OutOfRangeCostUsesDefault(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).Cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).Cost)
}

func TestVerify_GarbageHash(t *testing.T) {
	assert.False(t, NewBcryptHasher(bcrypt.MinCost).Verify("p1", "not-a-hash"))
}

func TestBcryptHasher_LongPasswords(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	long := strings.Repeat("p", 73)
	hash, err := h.Hash(long)
	require.NoError(t, err)
	assert.True(t, h.Verify(long, hash))

	// inputs sharing a 72-byte prefix must not collide
	prefix := strings.Repeat("p", 72)
	hash, err = h.Hash(prefix + "a")
	require.NoError(t, err)
	assert.False(t, h.Verify(prefix+"b", hash))
	assert.False(t, h.Verify(prefix, hash))
}
