package records

import "context"

// Checker consulta el store de historias clínicas (externo) para saber
// si un registro sigue existiendo antes de aprobar un acceso puntual.
type Checker interface {
	RecordExists(ctx context.Context, patientID, recordID string) (bool, error)
}
