// Package auth issues and verifies the session tokens that gate both the
// websocket handshake and the REST catch-up endpoints. Tokens are HMAC-signed
// JWTs carrying the tenant and user the session belongs to.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token fails signature or claim
	// validation for any reason.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrExpiredToken is returned when a token is well formed but past its
	// expiry.
	ErrExpiredToken = errors.New("auth: token expired")
)

// DefaultTokenTTL is the session lifetime applied when Issue is called with a
// zero ttl.
const DefaultTokenTTL = 12 * time.Hour

// Claims are the JWT claims embedded in every session token.
type Claims struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	jwt.RegisteredClaims
}

// Session identifies the authenticated principal behind a connection or
// request.
type Session struct {
	TenantID string
	UserID   string
	Expires  time.Time
}

// Verifier validates session tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier keyed on secret. The issuer is stamped into
// issued tokens and checked during verification when non-empty.
func NewVerifier(secret []byte, issuer string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	return &Verifier{secret: secret, issuer: issuer}, nil
}

// Issue signs a token for the given tenant and user. A zero ttl falls back to
// DefaultTokenTTL.
func (v *Verifier) Issue(tenantID, userID string, ttl time.Duration) (string, error) {
	if tenantID == "" || userID == "" {
		return "", errors.New("auth: tenant and user required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning the session it encodes.
func (v *Verifier) Verify(tokenString string) (*Session, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == "" || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing tenant or user claim", ErrInvalidToken)
	}

	return &Session{
		TenantID: claims.TenantID,
		UserID:   claims.UserID,
		Expires:  claims.ExpiresAt.Time,
	}, nil
}
