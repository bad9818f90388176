// Package auth resolves caller credentials into ledger identities. It does
// not implement login: sessions are established elsewhere, and this package
// only verifies the bearer tokens and API keys that an established session
// (or machine collaborator) presents.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/verihealth/medledger/internal/ledger"
)

// Claims are the JWT claims of a medledger principal token. Subject is the
// opaque ledger identity.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"` // "owner" or "provider", informational
}

// TokenIssuer issues and verifies principal tokens with an HMAC-SHA256
// service secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	secret — shared HS256 signing secret; must be non-empty.
//	issuerURL — the "iss" claim value, the ledger service base URL.
//	ttl — token lifetime (default: 1 hour).
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}, nil
}

// Issue creates a signed principal token for the given identity.
func (t *TokenIssuer) Issue(id ledger.Identity, role string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign principal token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a principal token, returning the identity it
// carries.
func (t *TokenIssuer) Verify(tokenStr string) (ledger.Identity, *Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return ledger.NoIdentity, nil, fmt.Errorf("verify principal token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return ledger.NoIdentity, nil, fmt.Errorf("principal token has no subject")
	}
	return ledger.Identity(claims.Subject), claims, nil
}
