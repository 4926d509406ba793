package security

import "time"

// testSecret is a fixed HS256 secret for unit tests only. Do not use in production.
const testSecret = "test-secret-for-unit-tests-only-0123456789"

// NewTestTokenCodec returns a TokenCodec with the embedded test secret, 15m access and 24h refresh TTLs.
// For unit tests only.
func NewTestTokenCodec() *TokenCodec {
	c, err := NewTokenCodec([]byte(testSecret), "test-issuer", 15*time.Minute, 24*time.Hour)
	if err != nil {
		panic(err)
	}
	return c
}
