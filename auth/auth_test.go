package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hash, err := HashPHC("s3cret")
	require.NoError(t, err)

	ok, err := VerifyPHC(hash, "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPHC(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticTablePlaintextAndHash(t *testing.T) {
	hash, err := HashPHC("hashed-pw")
	require.NoError(t, err)

	table := NewStaticTable([]User{
		{Username: "plain", Password: "plain-pw", Role: "default"},
		{Username: "hashed", PasswordHash: hash, Role: "admin"},
	}, true)

	ok, err := table.Authenticate("c1", "plain", "plain-pw")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = table.Authenticate("c1", "hashed", "hashed-pw")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = table.Authenticate("c1", "hashed", "wrong")
	assert.False(t, ok)

	ok, _ = table.Authenticate("c1", "nobody", "x")
	assert.False(t, ok)
}

func TestAnonymousAllowed(t *testing.T) {
	table := NewStaticTable(nil, true, WithAnonymous(true))
	ok, err := table.Authenticate("c1", "", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDisabledAuthAllowsAll(t *testing.T) {
	table := NewStaticTable(nil, false)
	ok, err := table.Authenticate("c1", "anyone", "whatever")
	require.NoError(t, err)
	assert.True(t, ok)
}
