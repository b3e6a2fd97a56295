package access

import (
	"context"
	"time"
)

// Repository es el ledger. Errores esperados: ErrNotFound, ErrDuplicatePending
// y ErrStaleState; cualquier otro se considera falla del store.
type Repository interface {
	// CreateRequest falla con ErrDuplicatePending si ya hay uno pending para
	// el mismo (doctor, patient, scope). El chequeo es atómico con el insert.
	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id string) (Request, error)
	ListRequestsByPatient(ctx context.Context, patientID string) ([]Request, error)
	ListRequestsByDoctor(ctx context.Context, doctorID string) ([]Request, error)

	// ResolveRequest guarda r (approved/rejected) solo si sigue pending;
	// si no, ErrStaleState. Si g != nil se inserta en la misma operación.
	ResolveRequest(ctx context.Context, r Request, g *Grant) error

	GetGrant(ctx context.Context, id string) (Grant, error)
	ListGrantsByPatient(ctx context.Context, patientID string) ([]Grant, error)
	ListGrantsByDoctor(ctx context.Context, doctorID string) ([]Grant, error)
	ListGrantsForPair(ctx context.Context, doctorID, patientID string) ([]Grant, error)

	// RevokeGrant setea revoked_at solo si era null; si no, ErrStaleState.
	RevokeGrant(ctx context.Context, id string, at time.Time) error
}
