package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	encoded, err := Hash("secret123")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"))

	require.NoError(t, Verify("secret123", encoded))
	require.ErrorIs(t, Verify("wrong", encoded), ErrMismatch)
}

func TestHashIsSalted(t *testing.T) {
	t.Parallel()

	a, err := Hash("secret123")
	require.NoError(t, err)
	b, err := Hash("secret123")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	t.Parallel()

	require.Error(t, Verify("secret123", "not-a-hash"))
	require.Error(t, Verify("secret123", "$argon2id$v=19$m=65536,t=3,p=2$onlysalt"))
}
