package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	InitJWT("test-secret")

	token, err := GenerateToken(42, "admin", 3600)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "automator", claims.Issuer)
}

func TestParseExpiredToken(t *testing.T) {
	InitJWT("test-secret")

	token, err := GenerateToken(42, "admin", -60)
	require.NoError(t, err)

	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenWrongSecret(t *testing.T) {
	InitJWT("test-secret")
	token, err := GenerateToken(42, "admin", 3600)
	require.NoError(t, err)

	InitJWT("other-secret")
	_, err = ParseToken(token)
	assert.Error(t, err)
}

func TestParseGarbageToken(t *testing.T) {
	InitJWT("test-secret")
	_, err := ParseToken("not.a.token")
	assert.Error(t, err)
}
