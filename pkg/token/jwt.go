// Package token issues and verifies the signed tokens used to open
// websocket chat connections.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTokenManager signs short-lived tokens binding a websocket
// connection to a chat session.
type SessionTokenManager struct {
	secretKey []byte
	tokenDur  time.Duration
}

// SessionClaims carries the session id inside the token.
type SessionClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// NewSessionTokenManager creates a SessionTokenManager.
func NewSessionTokenManager(secret string, tokenExpireHours int) *SessionTokenManager {
	if tokenExpireHours <= 0 {
		tokenExpireHours = 1
	}
	return &SessionTokenManager{
		secretKey: []byte(secret),
		tokenDur:  time.Duration(tokenExpireHours) * time.Hour,
	}
}

// GenerateToken signs a token for the given session.
func (m *SessionTokenManager) GenerateToken(sessionID string) (string, error) {
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken validates the token string and returns its claims.
func (m *SessionTokenManager) VerifyToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
