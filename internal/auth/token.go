package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenIssuer is the iss claim of every admin token.
const TokenIssuer = "intercompbx"

// DefaultTokenTTL is the lifetime of an admin token when none is given.
const DefaultTokenTTL = 24 * time.Hour

// AdminClaims are the claims of a token that grants access to the
// inspection API.
type AdminClaims struct {
	Operator string `json:"op"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 token for operator valid for ttl.
func IssueAdminToken(secret []byte, operator string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("empty signing secret")
	}
	if operator == "" {
		return "", time.Time{}, errors.New("empty operator")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	expiresAt := now.Add(ttl)

	claims := AdminClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    TokenIssuer,
			Subject:   operator,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAdminToken verifies the signature, expiry, and issuer of a token.
func ParseAdminToken(secret []byte, token string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if !claims.VerifyIssuer(TokenIssuer, true) {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.Operator == "" {
		return nil, errors.New("token has no operator")
	}
	return claims, nil
}
