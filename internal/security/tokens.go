package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidSignature is returned when the token signature does not verify or the algorithm is not HS256.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrMalformed is returned when the token cannot be decoded or is missing required claims.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is returned when the signature verifies but the token is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrWeakSecret is returned when the signing secret is shorter than MinSecretLength.
	ErrWeakSecret = errors.New("signing secret too short")
)

// MinSecretLength is the minimum HS256 secret length in bytes.
const MinSecretLength = 32

// TokenKind distinguishes access from refresh tokens so one cannot be presented as the other.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// TokenClaims is the decoded content of a signed token. Timestamps have second precision.
type TokenClaims struct {
	SubjectID   string
	SubjectName string
	Kind        TokenKind
	JTI         string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// jwtClaims is the on-the-wire claim set.
type jwtClaims struct {
	jwt.RegisteredClaims
	SubjectName string    `json:"name"`
	Kind        TokenKind `json:"typ"`
}

// TokenCodec mints and parses HS256 bearer tokens with a single shared secret.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenCodec returns a codec signing with secret. accessTTL should be short and refreshTTL long.
func NewTokenCodec(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenCodec{
		secret:     key,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock returns a copy of the codec that reads the current time from now. Used by tests and the janitor.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *c
	cp.now = now
	return &cp
}

// TTL returns the configured lifetime for kind.
func (c *TokenCodec) TTL(kind TokenKind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Mint signs a new token of the given kind for the subject. Every call uses a fresh random jti.
func (c *TokenCodec) Mint(subjectID, subjectName string, kind TokenKind) (string, *TokenClaims, error) {
	if subjectID == "" {
		return "", nil, errors.New("subject id is required")
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", nil, errors.New("unknown token kind")
	}
	jti, err := uuid.NewRandom()
	if err != nil {
		return "", nil, err
	}
	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(c.TTL(kind))
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   subjectID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SubjectName: subjectName,
		Kind:        kind,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, err
	}
	return token, &TokenClaims{
		SubjectID:   subjectID,
		SubjectName: subjectName,
		Kind:        kind,
		JTI:         claims.ID,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}, nil
}

// Parse verifies the signature and structure of token and checks expiry.
// It returns ErrInvalidSignature, ErrMalformed, or ErrExpired. On ErrExpired the decoded claims are
// also returned since the signature was verified before the expiry check.
func (c *TokenCodec) Parse(token string) (*TokenClaims, error) {
	if token == "" {
		return nil, ErrMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		claims, cerr := c.decode(parsed)
		if cerr != nil {
			return nil, cerr
		}
		return claims, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrInvalidSignature
	default:
		return nil, ErrMalformed
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}
	return c.decode(parsed)
}

func (c *TokenCodec) decode(parsed *jwt.Token) (*TokenClaims, error) {
	if parsed == nil {
		return nil, ErrMalformed
	}
	claims, ok := parsed.Claims.(*jwtClaims)
	if !ok {
		return nil, ErrMalformed
	}
	if claims.ID == "" || claims.Subject == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrMalformed
	}
	if claims.Kind != KindAccess && claims.Kind != KindRefresh {
		return nil, ErrMalformed
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrMalformed
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return nil, ErrMalformed
	}
	return &TokenClaims{
		SubjectID:   claims.Subject,
		SubjectName: claims.SubjectName,
		Kind:        claims.Kind,
		JTI:         claims.ID,
		IssuedAt:    claims.IssuedAt.UTC(),
		ExpiresAt:   claims.ExpiresAt.UTC(),
	}, nil
}
