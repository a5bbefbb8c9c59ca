package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{
		"sub":      "u123",
		"username": "alice",
		"exp":      exp.Unix(),
	})

	claims, err := Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "u123" || claims.Username != "alice" {
		t.Errorf("claims = %+v, want u123/alice", claims)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt, exp)
	}
}

// Some marketplace tokens carry user_id instead of sub.
func TestParseUserIDFallback(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"user_id": "u456", "username": "bob"})

	claims, err := Parse(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "u456" {
		t.Errorf("UserID = %q, want u456", claims.UserID)
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := Parse("not.a.jwt"); err == nil {
		t.Error("Parse of garbage should fail")
	}
	if _, err := Parse(""); err == nil {
		t.Error("Parse of empty string should fail")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()

	past := &Claims{ExpiresAt: now.Add(-time.Minute)}
	if !past.Expired(now) {
		t.Error("past token not reported expired")
	}

	future := &Claims{ExpiresAt: now.Add(time.Minute)}
	if future.Expired(now) {
		t.Error("future token reported expired")
	}

	// No exp claim: never expires client-side.
	none := &Claims{}
	if none.Expired(now) {
		t.Error("token without exp reported expired")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token")

	if err := SaveToken(path, "  tok-value\n"); err != nil {
		t.Fatal(err)
	}
	got, err := LoadToken(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "tok-value" {
		t.Errorf("LoadToken = %q, want trimmed tok-value", got)
	}
}

func TestLoadTokenMissing(t *testing.T) {
	_, err := LoadToken(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("error = %v, want ErrNoToken", err)
	}
}

func TestLoadTokenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := SaveToken(path, "   "); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadToken(path); !errors.Is(err, ErrNoToken) {
		t.Errorf("error = %v, want ErrNoToken for blank token", err)
	}
}
