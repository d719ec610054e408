package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned by a TokenSource whose token is past its expiry.
var ErrTokenExpired = errors.New("token has expired")

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token. The empty token sends no header.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// TokenFile holds a saved authentication token.
type TokenFile struct {
	AccessToken string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Host        string    `json:"host"`
	Username    string    `json:"username,omitempty"`
}

// NewTokenFile builds a TokenFile, taking the expiry from the token's JWT
// "exp" claim when it has one.
func NewTokenFile(token, host, username string) *TokenFile {
	tf := &TokenFile{AccessToken: token, Host: host, Username: username}
	if exp, ok := jwtExpiry(token); ok {
		tf.ExpiresAt = exp
	}
	return tf
}

// IsExpired returns true if the token has expired (with optional margin).
// Tokens without a known expiry never expire.
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// Token implements TokenSource.
func (t *TokenFile) Token() (string, error) {
	if t.IsExpired(0) {
		return "", fmt.Errorf("%w (expired %s)", ErrTokenExpired, t.ExpiresAt.Format(time.RFC3339))
	}
	return t.AccessToken, nil
}

// jwtExpiry reads the exp claim without verifying the signature; the server
// does the verification, the client only wants to fail fast.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// TokenFilePath returns the default path for the token file.
func TokenFilePath() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "repostream", "token.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "repostream", "token.json")
}

// SaveToken saves a token file to path.
func SaveToken(path string, tf *TokenFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken loads a token file from path.
func LoadToken(path string) (*TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", path, err)
	}
	return &tf, nil
}

// DeleteToken removes the saved token file.
func DeleteToken(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
