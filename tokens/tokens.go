package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// RawLength is the number of random bytes behind each token.
	RawLength = 32
	// TTL is how long verification and reset tokens stay valid.
	TTL = 5 * time.Minute
)

// Issue returns a fresh raw token, the hash to persist and the expiry time.
// The raw token is handed to the user (embedded in a link) and never stored.
func Issue() (raw string, hash string, expiry time.Time, err error) {
	buf := make([]byte, RawLength)
	if _, err = rand.Read(buf); err != nil {
		return "", "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, Hash(raw), time.Now().UTC().Add(TTL), nil
}

// Hash returns the hex SHA-256 of a raw token.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether candidate matches the stored hash and the hash is
// still unexpired. The comparison is constant time.
func Verify(candidate, storedHash string, storedExpiry *time.Time) bool {
	if storedHash == "" || storedExpiry == nil {
		return false
	}
	if !time.Now().UTC().Before(*storedExpiry) {
		return false
	}
	computed := Hash(candidate)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
