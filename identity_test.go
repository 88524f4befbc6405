package chatsync

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedCredential(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSubjectFromCredential(t *testing.T) {
	t.Run("userId claim wins", func(t *testing.T) {
		id, err := SubjectFromCredential(signedCredential(t, jwt.MapClaims{"userId": "u-1", "sub": "other"}))
		require.NoError(t, err)
		require.Equal(t, "u-1", id)
	})

	t.Run("falls back to sub", func(t *testing.T) {
		id, err := SubjectFromCredential(signedCredential(t, jwt.MapClaims{"sub": "u-2"}))
		require.NoError(t, err)
		require.Equal(t, "u-2", id)
	})

	t.Run("no subject", func(t *testing.T) {
		_, err := SubjectFromCredential(signedCredential(t, jwt.MapClaims{"role": "member"}))
		require.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("not a token", func(t *testing.T) {
		_, err := SubjectFromCredential("sk-plain-api-key")
		require.ErrorIs(t, err, ErrInvalidCredential)
	})
}
