package memory

import (
	"context"
	"strings"
	"sync"

	"medical-records-access/internal/ports/auth"
	"medical-records-access/internal/ports/directory"
)

// Lookup es el directorio in-memory para modo dev y tests.
type Lookup struct {
	mu   sync.RWMutex
	byID map[string]directory.Profile
}

func NewLookup(seed ...directory.Profile) *Lookup {
	l := &Lookup{byID: make(map[string]directory.Profile)}
	for _, p := range seed {
		l.Put(p)
	}
	return l
}

// DevSeed son los usuarios de ejemplo del modo dev.
func DevSeed() []directory.Profile {
	return []directory.Profile{
		{ID: "D1", Name: "Dra. Ana Ruiz", Email: "ana.ruiz@clinic.test", Role: auth.RoleDoctor, Specialty: "cardiology"},
		{ID: "D2", Name: "Dr. Tomás Vega", Email: "tomas.vega@clinic.test", Role: auth.RoleDoctor, Specialty: "dermatology"},
		{ID: "P1", Name: "Lucía Gómez", Email: "lucia@mail.test", Role: auth.RolePatient},
		{ID: "P2", Name: "Martín Sosa", Email: "martin@mail.test", Role: auth.RolePatient},
	}
}

func (l *Lookup) Put(p directory.Profile) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[p.ID] = p
}

func (l *Lookup) ResolveUser(ctx context.Context, id string) (directory.Profile, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.byID[strings.TrimSpace(id)]
	if !ok {
		return directory.Profile{}, directory.ErrNotFound
	}
	return p, nil
}
