package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_USERNAME", "operator")
	t.Setenv("AUTH_PASSWORD", "s3cret")
	t.Setenv("AUTH_USER_ID", "user-1")
	t.Setenv("JWT_SECRET", "test-secret")

	a := NewAuthenticator()
	require.True(t, a.IsEnabled())
	assert.Equal(t, "user-1", a.UserID())

	token, expiresAt, err := a.Authenticate("operator", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Greater(t, expiresAt, int64(0))

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)
	assert.Equal(t, "user-1", claims.UserID)

	_, _, err = a.Authenticate("operator", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = a.Authenticate("someone-else", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateDisabled(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "false")

	a := NewAuthenticator()
	_, _, err := a.Authenticate("operator", "anything")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	m := NewJWTManager()
	_, err := m.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashedPasswordFromEnv(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.Len(t, hash, 60)

	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_USERNAME", "operator")
	t.Setenv("AUTH_PASSWORD", hash)
	t.Setenv("JWT_SECRET", "test-secret")

	a := NewAuthenticator()
	_, _, err = a.Authenticate("operator", "hunter2")
	assert.NoError(t, err)
}
