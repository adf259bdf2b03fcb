// Package identity validates the opaque subject identifier issued by the
// external identity/authentication collaborator (spec section 1, 6): the
// core trusts a signed JWT carrying the subject and role claims and never
// implements its own authentication.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orbitline/sessioncore/domain/user"
)

// ErrUnauthorized is returned for any token that fails validation.
var ErrUnauthorized = errors.New("identity: unauthorized")

// Claims carries the collaborator-issued subject and role.
type Claims struct {
	Subject string    `json:"sub"`
	Role    user.Role `json:"role"`
	jwt.RegisteredClaims
}

// Validator verifies tokens signed by the identity collaborator.
type Validator struct {
	secret   []byte
	audience string
}

// New builds a Validator from the configured signing secret and, if set,
// the expected audience claim.
func New(secret, audience string) *Validator {
	return &Validator{secret: []byte(strings.TrimSpace(secret)), audience: strings.TrimSpace(audience)}
}

// Validate parses and verifies tokenString, returning the subject claims.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("identity: signing secret not configured")
	}
	claims := &Claims{}
	parserOpts := []jwt.ParserOption{}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// Issue mints a signed token for subject/role, used only by tests and local
// tooling to stand in for the identity collaborator.
func (v *Validator) Issue(subject string, role user.Role, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("identity: signing secret not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
