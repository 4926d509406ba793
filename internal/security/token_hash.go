package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashToken returns the hex-encoded SHA-256 digest of token. Sessions store this instead of the raw token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashEqual compares the digest of providedToken with storedHash in constant time.
func TokenHashEqual(providedToken, storedHash string) bool {
	if providedToken == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(providedToken)), []byte(storedHash)) == 1
}
