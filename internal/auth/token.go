// Package auth covers the two light credentials a ledger can carry: a
// signed owner token minted at creation time, and an optional passcode
// guarding reads. Possession of the share token is the only credential
// needed to edit; these exist for the destructive and private paths.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidOwnerToken = errors.New("invalid or expired owner token")
	ErrMissingOwnerToken = errors.New("owner token required")
	ErrNotOwner          = errors.New("owner token does not match this ledger")
)

// RoleOwner is the only role minted today. The claim exists so weaker
// roles can be added without reissuing tokens.
const RoleOwner = "owner"

// TokenManager mints and validates the signed owner tokens returned from
// ledger creation. Deleting a ledger requires one.
type TokenManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// Claims ties an owner token to one ledger.
type Claims struct {
	LedgerToken string `json:"ledger_token"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// NewTokenManager creates a manager signing with the given secret.
// tokenDuration bounds how long an owner token stays usable.
func NewTokenManager(secretKey string, tokenDuration time.Duration) *TokenManager {
	return &TokenManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Mint issues an owner token for the ledger with the given share token.
func (m *TokenManager) Mint(ledgerToken string) (string, error) {
	now := time.Now()
	claims := &Claims{
		LedgerToken: ledgerToken,
		Role:        RoleOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign owner token: %w", err)
	}
	return signed, nil
}

// Validate parses an owner token and returns its claims.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOwnerToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidOwnerToken
	}
	return claims, nil
}

// Authorize validates the token and checks it was minted for the given
// ledger with the owner role.
func (m *TokenManager) Authorize(tokenString, ledgerToken string) error {
	claims, err := m.Validate(tokenString)
	if err != nil {
		return err
	}
	if claims.LedgerToken != ledgerToken || claims.Role != RoleOwner {
		return ErrNotOwner
	}
	return nil
}
