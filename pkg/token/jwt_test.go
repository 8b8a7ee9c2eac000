package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	m := NewSessionTokenManager("test-secret", 1)

	tok, err := m.GenerateToken("session-123")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "session-123", claims.SessionID)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	tok, err := NewSessionTokenManager("secret-a", 1).GenerateToken("s")
	require.NoError(t, err)

	_, err = NewSessionTokenManager("secret-b", 1).VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	_, err := NewSessionTokenManager("secret", 1).VerifyToken("not-a-token")
	assert.Error(t, err)
}
