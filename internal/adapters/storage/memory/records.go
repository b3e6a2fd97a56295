package memory

import (
	"context"
	"strings"
	"sync"
)

// RecordIndex es un índice in-memory de (patient, record) para el check de
// existencia al aprobar. El store real de historias es externo.
type RecordIndex struct {
	mu   sync.RWMutex
	byID map[string]struct{}
}

func NewRecordIndex() *RecordIndex {
	return &RecordIndex{byID: make(map[string]struct{})}
}

// DevRecords es el índice del modo dev: historias de los pacientes de
// directory/memory.DevSeed.
func DevRecords() *RecordIndex {
	x := NewRecordIndex()
	for _, id := range []string{"R1", "R2", "R3"} {
		x.Add("P1", id)
	}
	for _, id := range []string{"R1", "R2"} {
		x.Add("P2", id)
	}
	return x
}

func recordKey(patientID, recordID string) string {
	return strings.TrimSpace(patientID) + "/" + strings.TrimSpace(recordID)
}

func (x *RecordIndex) Add(patientID, recordID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byID[recordKey(patientID, recordID)] = struct{}{}
}

func (x *RecordIndex) Remove(patientID, recordID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.byID, recordKey(patientID, recordID))
}

func (x *RecordIndex) RecordExists(ctx context.Context, patientID, recordID string) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.byID[recordKey(patientID, recordID)]
	return ok, nil
}
