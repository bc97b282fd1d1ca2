// Package token issues and verifies the HS256 bearer tokens that identify
// storefront users. Token issuance normally belongs to the auth service; the
// issuing half exists for seeding and tests.
package token

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned for tokens that fail parsing, signature or claim checks.
var ErrInvalid = errors.New("invalid token")

// Manager signs and verifies tokens with a shared secret.
type Manager struct {
	secret []byte
	now    func() time.Time
}

// NewManager returns a Manager using secret as the HMAC key.
func NewManager(secret []byte) *Manager {
	return &Manager{secret: secret, now: time.Now}
}

// Issue returns a signed token whose subject is userID.
func (m *Manager) Issue(userID string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify checks raw and returns its subject.
func (m *Manager) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", errors.Wrap(ErrInvalid, err.Error())
	}
	if claims.Subject == "" {
		return "", errors.Wrap(ErrInvalid, "missing subject")
	}
	return claims.Subject, nil
}
