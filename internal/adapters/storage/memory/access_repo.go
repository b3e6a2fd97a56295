package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"medical-records-access/internal/domain/access"
)

// accessRepo es el ledger in-memory (modo dev y tests).
// Un solo RWMutex cubre requests, grants y el índice de pendientes, así el
// chequeo de duplicado y el CAS de status son atómicos.
type accessRepo struct {
	mu sync.RWMutex

	requests map[string]access.Request
	grants   map[string]access.Grant

	// pending: triple (doctor|patient|scope) -> request id
	pending map[string]string
}

func NewAccessRepo() access.Repository {
	return &accessRepo{
		requests: make(map[string]access.Request),
		grants:   make(map[string]access.Grant),
		pending:  make(map[string]string),
	}
}

func tripleKey(doctorID, patientID string, s access.Scope) string {
	return doctorID + "|" + patientID + "|" + s.Key()
}

func (r *accessRepo) CreateRequest(ctx context.Context, req access.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ID == "" {
		return errors.New("request id required")
	}
	if _, exists := r.requests[req.ID]; exists {
		return errors.New("request already exists")
	}

	key := tripleKey(req.DoctorID, req.PatientID, req.Scope)
	if req.IsPending() {
		if _, dup := r.pending[key]; dup {
			return access.ErrDuplicatePending
		}
		r.pending[key] = req.ID
	}
	r.requests[req.ID] = req
	return nil
}

func (r *accessRepo) GetRequest(ctx context.Context, id string) (access.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return access.Request{}, access.ErrNotFound
	}
	return req, nil
}

func (r *accessRepo) ListRequestsByPatient(ctx context.Context, patientID string) ([]access.Request, error) {
	return r.listRequests(func(x access.Request) bool { return x.PatientID == patientID }), nil
}

func (r *accessRepo) ListRequestsByDoctor(ctx context.Context, doctorID string) ([]access.Request, error) {
	return r.listRequests(func(x access.Request) bool { return x.DoctorID == doctorID }), nil
}

func (r *accessRepo) listRequests(match func(access.Request) bool) []access.Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]access.Request, 0)
	for _, x := range r.requests {
		if match(x) {
			out = append(out, x)
		}
	}
	return out
}

func (r *accessRepo) ResolveRequest(ctx context.Context, req access.Request, g *access.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.requests[req.ID]
	if !ok {
		return access.ErrNotFound
	}
	// compare-and-swap: solo desde pending
	if !cur.IsPending() {
		return access.ErrStaleState
	}
	if req.IsPending() {
		return errors.New("resolve requires a terminal status")
	}
	if g != nil {
		if g.ID == "" {
			return errors.New("grant id required")
		}
		if _, exists := r.grants[g.ID]; exists {
			return errors.New("grant already exists")
		}
		r.grants[g.ID] = *g
	}

	delete(r.pending, tripleKey(cur.DoctorID, cur.PatientID, cur.Scope))
	r.requests[req.ID] = req
	return nil
}

func (r *accessRepo) GetGrant(ctx context.Context, id string) (access.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.grants[id]
	if !ok {
		return access.Grant{}, access.ErrNotFound
	}
	return g, nil
}

func (r *accessRepo) ListGrantsByPatient(ctx context.Context, patientID string) ([]access.Grant, error) {
	return r.listGrants(func(g access.Grant) bool { return g.PatientID == patientID }), nil
}

func (r *accessRepo) ListGrantsByDoctor(ctx context.Context, doctorID string) ([]access.Grant, error) {
	return r.listGrants(func(g access.Grant) bool { return g.DoctorID == doctorID }), nil
}

func (r *accessRepo) ListGrantsForPair(ctx context.Context, doctorID, patientID string) ([]access.Grant, error) {
	return r.listGrants(func(g access.Grant) bool {
		return g.DoctorID == doctorID && g.PatientID == patientID
	}), nil
}

func (r *accessRepo) listGrants(match func(access.Grant) bool) []access.Grant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]access.Grant, 0)
	for _, g := range r.grants {
		if match(g) {
			out = append(out, g)
		}
	}
	return out
}

func (r *accessRepo) RevokeGrant(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return access.ErrNotFound
	}
	if g.RevokedAt != nil {
		return access.ErrStaleState
	}
	t := at
	g.RevokedAt = &t
	r.grants[id] = g
	return nil
}
