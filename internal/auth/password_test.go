package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, CheckPassword(hash, "s3cret"))
	assert.Error(t, CheckPassword(hash, "nope"))
	assert.Error(t, CheckPassword("not-a-hash", "s3cret"))
}

func TestPasswordHashCost(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, hashCost, cost)
}

func TestPasswordHashesAreSalted(t *testing.T) {
	a, err := HashPassword("s3cret")
	require.NoError(t, err)
	b, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
