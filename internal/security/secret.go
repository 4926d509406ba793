package security

import (
	"encoding/base64"
	"errors"
	"os"
	"strings"
)

// ErrMissingSecret is returned when no signing secret is configured.
var ErrMissingSecret = errors.New("signing secret is not set")

// LoadSecret resolves the configured signing secret. s may be inline text, "base64:<data>",
// or "file:<path>" to read the secret from disk (trailing newline trimmed).
func LoadSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrMissingSecret
	}
	var secret []byte
	switch {
	case strings.HasPrefix(s, "base64:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "base64:"))
		if err != nil {
			return nil, err
		}
		secret = b
	case strings.HasPrefix(s, "file:"):
		b, err := os.ReadFile(strings.TrimPrefix(s, "file:"))
		if err != nil {
			return nil, err
		}
		secret = []byte(strings.TrimRight(string(b), "\r\n"))
	default:
		secret = []byte(s)
	}
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return secret, nil
}
