package auth

import "strings"

// Role es el rol del usuario autenticado.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// ParseRole normaliza el rol; devuelve false si no es conocido.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDoctor:
		return RoleDoctor, true
	case RolePatient:
		return RolePatient, true
	default:
		return "", false
	}
}

// Claims representa la información extraída del token.
type Claims struct {
	UserID string
	Email  string
	Role   Role
}
