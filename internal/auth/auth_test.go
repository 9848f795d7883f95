package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestCheckExpiryAcceptsFutureExpiry(t *testing.T) {
	t.Parallel()
	tok := signToken(t, time.Now().Add(time.Hour))
	if err := CheckExpiry(tok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckExpiryRejectsExpiredToken(t *testing.T) {
	t.Parallel()
	tok := signToken(t, time.Now().Add(-time.Hour))
	if err := CheckExpiry(tok); err == nil {
		t.Fatalf("expected error for expired token")
	}
}

func TestCheckExpiryRejectsMalformedToken(t *testing.T) {
	t.Parallel()
	if err := CheckExpiry("not-a-jwt"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}

func TestAuthorizationHeaderFormat(t *testing.T) {
	t.Parallel()
	if got := AuthorizationHeader("abc"); got != "Bearer abc" {
		t.Fatalf("got %q", got)
	}
}
