package odin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medical-records-access/internal/ports/auth"
)

var (
	ErrTokenEmpty = errors.New("token is empty")

	// ErrRoleNotAllowed: identidad válida en Odin pero sin rol en este servicio
	// (admin, staff, etc). Envuelve ErrOdinUnauthorized.
	ErrRoleNotAllowed = fmt.Errorf("%w: role not allowed", ErrOdinUnauthorized)
)

// Verifier implementa auth.AuthVerifier sobre Odin y traduce Identity a
// auth.Claims. Sin roles explícitos acepta doctor y patient.
type Verifier struct {
	client  *Client
	allowed map[auth.Role]bool
}

func NewVerifier(client *Client, roles ...auth.Role) *Verifier {
	if len(roles) == 0 {
		roles = []auth.Role{auth.RoleDoctor, auth.RolePatient}
	}
	allowed := make(map[auth.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return &Verifier{client: client, allowed: allowed}
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if v == nil || v.client == nil {
		return auth.Claims{}, ErrOdinNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrTokenEmpty
	}

	id, err := v.client.VerifyToken(ctx, token)
	if err != nil {
		// El middleware decide si corta o no.
		return auth.Claims{}, fmt.Errorf("odin verify failed: %w", err)
	}
	return v.claims(id)
}

func (v *Verifier) claims(id Identity) (auth.Claims, error) {
	userID := strings.TrimSpace(id.UserID)
	if userID == "" {
		// Odin respondió 200 sin sujeto: es un bug del upstream, no del token
		return auth.Claims{}, fmt.Errorf("%w: response missing user_id", ErrOdinUpstream)
	}
	if strings.TrimSpace(id.Role) == "" {
		return auth.Claims{}, fmt.Errorf("%w: response missing role", ErrOdinUpstream)
	}

	role, ok := auth.ParseRole(id.Role)
	if !ok || !v.allowed[role] {
		return auth.Claims{}, fmt.Errorf("%w: %q for user %s", ErrRoleNotAllowed, id.Role, userID)
	}

	return auth.Claims{
		UserID: userID,
		Email:  strings.TrimSpace(id.Email),
		Role:   role,
	}, nil
}
