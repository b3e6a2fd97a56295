package proof

import (
	"context"

	"medical-records-access/internal/fanout"
)

// Recorder ancla en la cadena cada evento de acceso que pasa por el hub.
type Recorder struct {
	chain *Chain
}

func NewRecorder(c *Chain) *Recorder {
	return &Recorder{chain: c}
}

func (r *Recorder) Name() string { return "proof" }

func (r *Recorder) Deliver(_ context.Context, ev fanout.Event) error {
	switch ev.Kind {
	case fanout.KindRequestCreated, fanout.KindRequestUpdated, fanout.KindGrantRevoked:
	default:
		// turnos, archivos: no son cambios de acceso
		return nil
	}

	_, err := r.chain.Append(Entry{
		Kind:      string(ev.Kind),
		EntityID:  ev.EntityID,
		DoctorID:  ev.Payload.DoctorID,
		PatientID: ev.Payload.PatientID,
		Scope:     ev.Payload.Scope,
		Status:    ev.Payload.Status,
		At:        ev.EmittedAt,
	})
	return err
}
