// Package auth handles the persisted marketplace bearer token. The token is
// issued by the REST login flow outside this process; tjchat only stores it
// and reads its claims.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no token has been stored for the session.
var ErrNoToken = errors.New("auth: no token stored")

// Claims are the token fields tjchat cares about. The client holds no
// signing key, so claims are extracted without verification; the server
// re-validates the token on every WebSocket upgrade anyway.
type Claims struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at the given time.
// Tokens without an exp claim never expire client-side.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Parse extracts claims from a JWT without verifying its signature.
func Parse(token string) (*Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	out := &Claims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.UserID = sub
	}
	if out.UserID == "" {
		if v, ok := claims["user_id"].(string); ok {
			out.UserID = v
		}
	}
	if v, ok := claims["username"].(string); ok {
		out.Username = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// LoadToken reads the persisted token for a session.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SaveToken persists a token with owner-only permissions.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0600)
}
