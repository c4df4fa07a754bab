// Package auth issues and checks operator bearer tokens for the admin API.
package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token scopes. ScopeAdmin includes everything ScopeRead allows.
const (
	ScopeRead  = "read"
	ScopeAdmin = "admin"
)

var scopeOrder = []string{ScopeRead, ScopeAdmin}

// ScopeAtLeast reports whether scope grants at least minimum.
func ScopeAtLeast(scope, minimum string) bool {
	have, want := slices.Index(scopeOrder, scope), slices.Index(scopeOrder, minimum)
	return have >= 0 && want >= 0 && have >= want
}

// Claims represents the JWT claims.
type Claims struct {
	Operator string `json:"operator"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenExpiry is the default token lifetime.
const TokenExpiry = 30 * 24 * time.Hour

// GenerateToken creates a new JWT for an operator with a unique JTI.
func GenerateToken(secret, operator, scope string) (string, error) {
	if !ScopeAtLeast(scope, ScopeRead) {
		return "", fmt.Errorf("unknown scope %q", scope)
	}

	now := time.Now()
	claims := Claims{
		Operator: operator,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
