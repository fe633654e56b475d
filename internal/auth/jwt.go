package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims represents the identity claims the marketplace puts in its access tokens.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Parser turns bearer tokens into credentials. With a secret configured the
// HMAC signature is verified; without one the marketplace remains the only
// verifier and claims are read unverified (expiry is still enforced).
type Parser struct {
	secret []byte
}

// NewParser creates a parser. secret may be empty.
func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

// Verifies reports whether signatures are checked.
func (p *Parser) Verifies() bool {
	return len(p.secret) > 0
}

// Parse validates token and returns the credential.
func (p *Parser) Parse(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrInvalidToken
	}

	claims := &Claims{}
	if p.Verifies() {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return p.secret, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return Credential{}, ErrExpiredToken
			}
			return Credential{}, ErrInvalidToken
		}
		if !parsed.Valid {
			return Credential{}, ErrInvalidToken
		}
		return Credential{Token: token, Claims: *claims}, nil
	}

	if strings.Count(token, ".") != 2 {
		// opaque token; the marketplace decides
		return Credential{Token: token}, nil
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Credential{Token: token}, nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return Credential{}, ErrExpiredToken
	}
	return Credential{Token: token, Claims: *claims}, nil
}

// ExtractToken prefers the access_token cookie (browsers) and falls back to
// an Authorization bearer header (API clients).
func ExtractToken(cookie, authorization string) string {
	if cookie != "" {
		return cookie
	}
	if strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	}
	return ""
}
