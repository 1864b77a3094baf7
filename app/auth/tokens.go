package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// APIKeyLength is the length of an API key in hex characters.
	APIKeyLength = 64
	// FeedTokenLength is the length of a feed token in hex characters.
	FeedTokenLength = 32
)

// ErrMalformedHeader is returned for Authorization headers that are not "Bearer <token>".
var ErrMalformedHeader = errors.New("header format is invalid")

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewAPIKey returns a random 64-hex API key.
func NewAPIKey() (string, error) {
	return randomHex(APIKeyLength / 2)
}

// FeedToken derives the opaque bookmark feed token of a user. The salt
// makes rotation possible without changing the password.
func FeedToken(secret []byte, username, passwordHash, salt string) string {
	mac, err := blake2b.New(FeedTokenLength/2, feedKey(secret))
	if err != nil {
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	mac.Write([]byte(username + ":" + passwordHash + ":" + salt))
	return hex.EncodeToString(mac.Sum(nil))
}

func feedKey(secret []byte) []byte {
	key := blake2b.Sum256(append([]byte("feed-token:"), secret...))
	return key[:]
}

// ValidHex reports whether s is exactly n lowercase or uppercase hex characters.
func ValidHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMalformedHeader
	}
	return token, nil
}
