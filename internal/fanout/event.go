package fanout

import (
	"time"

	"medical-records-access/internal/ports/auth"
)

// Kind identifica la variante del evento. El mismo canal lleva eventos de
// acceso y de otros módulos (turnos, archivos compartidos).
type Kind string

const (
	KindRequestCreated Kind = "request.created"
	KindRequestUpdated Kind = "request.updated"
	KindGrantRevoked   Kind = "grant.revoked"

	KindAppointmentUpdated Kind = "appointment.updated"
	KindFileShared         Kind = "file.shared"
)

// Recipient es un destinatario con el rol para el que va dirigido el evento.
// Un suscriptor con otro rol no lo recibe aunque el user id coincida.
type Recipient struct {
	UserID string    `json:"user_id"`
	Role   auth.Role `json:"role"`
}

// Payload lleva los campos propios de cada Kind. Los vacíos se omiten.
type Payload struct {
	RequestID string `json:"request_id,omitempty"`
	GrantID   string `json:"grant_id,omitempty"`
	DoctorID  string `json:"doctor_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Status    string `json:"status,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Extra para kinds de otros módulos (appointment_id, file_id, ...).
	Extra map[string]string `json:"extra,omitempty"`
}

type Event struct {
	Kind Kind `json:"kind"`

	// EntityID es el request o grant al que se refiere el evento.
	// El orden se garantiza solo entre eventos del mismo EntityID.
	EntityID string `json:"entity_id"`

	Recipients []Recipient `json:"recipients"`
	Payload    Payload     `json:"payload"`
	EmittedAt  time.Time   `json:"emitted_at"`
}

// AddressedTo indica si el evento va para (userID, role).
func (e Event) AddressedTo(userID string, role auth.Role) bool {
	for _, r := range e.Recipients {
		if r.UserID == userID && r.Role == role {
			return true
		}
	}
	return false
}
