package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrRecordTampered is returned when a sealed blob fails signature or claim checks.
var ErrRecordTampered = errors.New("session record signature invalid")

const sealerIssuer = "goBankAuth"

type sealedClaims struct {
	Record string `json:"rec"`
	jwt.RegisteredClaims
}

// Sealer signs encoded records as HS256 JWTs so a backend outside the
// process' trust boundary cannot alter the authorization token or state.
type Sealer struct {
	key    []byte
	leeway time.Duration
	now    func() time.Time
}

// NewSealer returns a sealer for the given HMAC key (at least 32 bytes).
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) < 32 {
		return nil, errors.New("sealer key must be at least 32 bytes")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Sealer{key: k, leeway: 30 * time.Second, now: time.Now}, nil
}

// Seal wraps data in a signed token. A positive ttl sets the exp claim.
func (s *Sealer) Seal(data []byte, ttl time.Duration) ([]byte, error) {
	now := s.now()
	claims := sealedClaims{
		Record: base64.RawURLEncoding.EncodeToString(data),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   sealerIssuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("seal record: %w", err)
	}
	return []byte(signed), nil
}

// Open verifies a sealed token and returns the embedded bytes. An expired
// token reads as ErrNotFound.
func (s *Sealer) Open(token []byte) ([]byte, error) {
	claims := &sealedClaims{}
	parsed, err := jwt.ParseWithClaims(
		string(token),
		claims,
		func(*jwt.Token) (interface{}, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sealerIssuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, errors.Join(ErrNotFound, err)
	}
	if err != nil || !parsed.Valid {
		return nil, errors.Join(ErrRecordTampered, err)
	}

	data, err := base64.RawURLEncoding.DecodeString(claims.Record)
	if err != nil {
		return nil, errors.Join(ErrRecordTampered, err)
	}
	return data, nil
}
