package jwtutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("secret", time.Minute, "ops")
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
	assert.Equal(t, "ops", claims.Subject)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("secret", time.Minute, "ops")
	require.NoError(t, err)

	_, err = ParseToken("other", token)
	assert.Error(t, err)
}

func TestNonPositiveExpirationUsesDefault(t *testing.T) {
	token, err := GenerateToken("secret", -time.Minute, "ops")
	require.NoError(t, err)
	_, err = ParseToken("secret", token)
	assert.NoError(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Operator: "ops",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(past),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ParseToken("secret", token)
	assert.Error(t, err)
}

func TestGenerateRequiresOperator(t *testing.T) {
	_, err := GenerateToken("secret", time.Minute, " ")
	assert.Error(t, err)
}
