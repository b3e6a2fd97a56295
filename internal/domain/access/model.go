package access

import (
	"strings"
	"time"
)

type ScopeKind string

const (
	ScopeAllRecords     ScopeKind = "all_records"
	ScopeSpecificRecord ScopeKind = "specific_record"
)

// Scope cubre todos los registros del paciente o uno solo.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	RecordID string    `json:"record_id,omitempty"`
}

func AllRecords() Scope {
	return Scope{Kind: ScopeAllRecords}
}

func SpecificRecord(recordID string) Scope {
	return Scope{Kind: ScopeSpecificRecord, RecordID: strings.TrimSpace(recordID)}
}

// Normalize valida el scope y limpia el record id.
func (s Scope) Normalize() (Scope, error) {
	switch s.Kind {
	case ScopeAllRecords:
		return AllRecords(), nil
	case ScopeSpecificRecord:
		id := strings.TrimSpace(s.RecordID)
		if id == "" {
			return Scope{}, invalid("record_id required for specific_record scope")
		}
		return SpecificRecord(id), nil
	default:
		return Scope{}, invalid("unknown scope kind")
	}
}

// Key identifica el scope dentro del triple (doctor, patient, scope).
func (s Scope) Key() string {
	if s.Kind == ScopeSpecificRecord {
		return "record:" + s.RecordID
	}
	return "all"
}

func (s Scope) String() string { return s.Key() }

// Covers: AllRecords cubre cualquier record; SpecificRecord solo el exacto.
func (s Scope) Covers(recordID string) bool {
	switch s.Kind {
	case ScopeAllRecords:
		return true
	case ScopeSpecificRecord:
		return s.RecordID != "" && s.RecordID == recordID
	default:
		return false
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// CancelReason es el motivo que queda guardado cuando el doctor cancela.
const CancelReason = "canceled by requester"

type Request struct {
	ID string

	DoctorID  string
	PatientID string

	Scope  Scope
	Reason string

	Status          Status
	RejectionReason string

	// GrantID solo se setea al aprobar.
	GrantID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Request) IsPending() bool { return r.Status == StatusPending }

type Grant struct {
	ID string

	// RequestID vacío => grant administrativo.
	RequestID string

	DoctorID  string
	PatientID string
	Scope     Scope

	CreatedAt time.Time
	ExpiresAt *time.Time // nil => sin vencimiento
	RevokedAt *time.Time
}

// ActiveAt: no revocado y no vencido. Se chequean siempre los dos.
func (g Grant) ActiveAt(now time.Time) bool {
	if g.RevokedAt != nil {
		return false
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return false
	}
	return true
}
