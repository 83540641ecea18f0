package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("Secret123!")
	require.NoError(t, err)
	require.NotEqual(t, "Secret123!", hash)

	require.NoError(t, CheckPassword(hash, "Secret123!"))
	require.Error(t, CheckPassword(hash, "secret123!"))
	require.Error(t, CheckPassword(hash, ""))
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a@x.com", "a@x.com"},
		{"  A@X.COM  ", "a@x.com"},
		{"José@example.com", "josé@example.com"}, // NFD to NFC
		{"MiXeD@Example.Com", "mixed@example.com"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, NormalizeEmail(tt.in), "input %q", tt.in)
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := GenerateAccessToken("user-1", "a@x.com", "USER", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token, "test-secret")
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "a@x.com", claims.Email)
	require.Equal(t, "USER", claims.Role)

	_, err = ValidateToken(token, "wrong-secret")
	require.Error(t, err)
}

func TestExpiredAccessToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := GenerateAccessToken("user-1", "a@x.com", "USER", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "test-secret")
	require.Error(t, err)
}

func TestParseIntDefault(t *testing.T) {
	require.Equal(t, 5, ParseIntDefault("", 5))
	require.Equal(t, 5, ParseIntDefault("abc", 5))
	require.Equal(t, 42, ParseIntDefault("42", 5))
}
