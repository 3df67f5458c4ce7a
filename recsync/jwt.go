// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenFunc returns the bearer token for the next backend call
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken always returns tok
func StaticToken(tok string) TokenFunc {
	return func(context.Context) (string, error) {
		if tok == "" {
			return "", &TransportError{Kind: KindReauthenticate, Message: "no token configured"}
		}
		return tok, nil
	}
}

// TokenClaims are the claims carried by device tokens
type TokenClaims struct {
	DeviceID string `json:"did"` // Device ID
	jwt.RegisteredClaims
}

// JWTTokenSource returns tok while its exp claim is in the future. An expired
// or unparsable token yields a reauthenticate error before any request is made.
// The signature is not verified here; the backend does that.
func JWTTokenSource(tok string, now Clock) TokenFunc {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) (string, error) {
		claims := &TokenClaims{}
		_, _, err := jwt.NewParser().ParseUnverified(tok, claims)
		if err != nil {
			return "", &TransportError{Kind: KindReauthenticate, Message: "malformed token", Err: err}
		}
		if claims.ExpiresAt != nil && !now().Before(claims.ExpiresAt.Time) {
			return "", &TransportError{Kind: KindReauthenticate, Message: "token expired"}
		}
		return tok, nil
	}
}

// TokenIssuer signs and validates HS256 device tokens. The CLI uses it to
// mint development tokens and the control API to authenticate callers.
type TokenIssuer struct {
	secret []byte
	issuer string
}

// NewTokenIssuer creates an issuer for secret
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: "go-recsync"}
}

// GenerateToken signs a token for userID on deviceID valid for ttl
func (t *TokenIssuer) GenerateToken(userID, deviceID string, ttl time.Duration) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("token secret is empty")
	}
	now := time.Now()
	claims := &TokenClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    t.issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// ValidateToken verifies signature and expiry and requires sub and did
func (t *TokenIssuer) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device ID) in token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	return claims, nil
}
