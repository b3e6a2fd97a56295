package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medical-records-access/internal/ports/auth"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSecret     = errors.New("jwt secret not configured")
	ErrInvalidToken = errors.New("invalid token")
)

// claims: sub = user id, role = doctor|patient.
type claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier implementa auth.AuthVerifier con tokens HS256 firmados por el
// identity provider (mismo secreto compartido).
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrInvalidToken
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return auth.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return auth.Claims{}, ErrInvalidToken
	}

	userID := strings.TrimSpace(c.Subject)
	if userID == "" {
		return auth.Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	role, ok := auth.ParseRole(c.Role)
	if !ok {
		return auth.Claims{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}

	return auth.Claims{UserID: userID, Email: c.Email, Role: role}, nil
}

// Sign emite un token para c. Lo usan los tests y el cliente de desarrollo.
func (v *Verifier) Sign(c auth.Claims, ttl time.Duration) (string, error) {
	now := v.now()
	rc := claims{
		Email: c.Email,
		Role:  string(c.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  c.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString(v.secret)
}
