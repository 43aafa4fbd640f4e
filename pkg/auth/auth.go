package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
)

// GenerateAPIKey returns a new random API key and the bcrypt hash to put in
// the daemon configuration. Only the hash is ever stored.
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key = base64.RawURLEncoding.EncodeToString(keyBytes)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return key, string(h), nil
}

// KeyVerifier checks API keys against a single bcrypt hash
type KeyVerifier struct {
	hash []byte
}

// NewKeyVerifier creates a verifier. The hash must be a bcrypt hash.
func NewKeyVerifier(hash string) (*KeyVerifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid API key hash: %w", err)
	}
	return &KeyVerifier{hash: []byte(hash)}, nil
}

// Verify returns nil when key matches
func (v *KeyVerifier) Verify(key string) error {
	if key == "" {
		return ErrMissingKey
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// KeyFromRequest extracts the key from "Authorization: Bearer <key>" or the
// X-API-Key header.
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-API-Key")
}

// Middleware rejects requests without a valid key with 401. Paths listed in
// open are served without a key.
func Middleware(v *KeyVerifier, open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if err := v.Verify(KeyFromRequest(r)); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="hourly"`)
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
