package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	jwt.RegisteredClaims
	UserID  *int64 `json:"id,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// Authenticator signs and validates stateless access tokens. Tokens cannot be
// revoked before expiry short of rotating the secret.
type Authenticator struct {
	secret        []byte
	method        jwt.SigningMethod
	enforceExpiry bool
	now           func() time.Time
}

func NewAuthenticator(secret, algorithm string, enforceExpiry bool) (*Authenticator, error) {
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSigning, algorithm)
	}

	return &Authenticator{
		secret:        []byte(secret),
		method:        method,
		enforceExpiry: enforceExpiry,
		now:           time.Now,
	}, nil
}

func (a *Authenticator) Issue(username string, id int64, isAdmin bool, ttl time.Duration) (string, error) {
	now := a.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:  &id,
		IsAdmin: isAdmin,
	}

	encoded, err := jwt.NewWithClaims(a.method, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, nil
}

func (a *Authenticator) Validate(tokenStr string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{a.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if claims.Subject == "" || claims.UserID == nil {
		return Identity{}, ErrMissingClaims
	}

	if a.enforceExpiry {
		if claims.ExpiresAt == nil {
			return Identity{}, ErrMissingExpiry
		}
		if !a.now().Before(claims.ExpiresAt.Time) {
			return Identity{}, ErrExpired
		}
	}

	return Identity{
		Username: claims.Subject,
		ID:       *claims.UserID,
		IsAdmin:  claims.IsAdmin,
	}, nil
}
