package directory

import (
	"context"
	"errors"

	"medical-records-access/internal/ports/auth"
)

var ErrNotFound = errors.New("user not found")

// Profile es la vista de lectura de un usuario. Nunca se persiste en el ledger.
type Profile struct {
	ID        string
	Name      string
	Email     string
	Role      auth.Role
	Specialty string // solo doctores
}

// Lookup resuelve ids opacos a perfiles. Solo lectura.
type Lookup interface {
	ResolveUser(ctx context.Context, id string) (Profile, error)
}
