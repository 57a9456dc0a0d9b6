package chat

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, sub string, method jwt.SigningMethod) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestTokenParserRoundTrip(t *testing.T) {
	p := NewTokenParser("sekrit")
	userID, err := p.Parse(signToken(t, "sekrit", "u42", jwt.SigningMethodHS256))
	require.NoError(t, err)
	require.Equal(t, "u42", userID)
}

func TestTokenParserRejects(t *testing.T) {
	p := NewTokenParser("sekrit")

	_, err := p.Parse("")
	require.Error(t, err)

	_, err = p.Parse("garbage")
	require.Error(t, err)

	// 错误密钥
	_, err = p.Parse(signToken(t, "other", "u42", jwt.SigningMethodHS256))
	require.Error(t, err)

	// 缺 sub
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	s, err := tok.SignedString([]byte("sekrit"))
	require.NoError(t, err)
	_, err = p.Parse(s)
	require.Error(t, err)
}

func TestTokenParserRejectsExpired(t *testing.T) {
	p := NewTokenParser("sekrit")
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte("sekrit"))
	require.NoError(t, err)
	_, err = p.Parse(s)
	require.Error(t, err)
}
