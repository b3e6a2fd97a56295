package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"medical-records-access/internal/fanout"
	"medical-records-access/internal/platform/logger"
	"medical-records-access/internal/ports/auth"
	"medical-records-access/internal/ports/records"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Publisher recibe los eventos después de cada transición persistida.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event) int
}

type Options struct {
	// Publisher nil => no se emiten eventos.
	Publisher Publisher

	// Records nil => no se valida que el record exista al aprobar.
	Records records.Checker

	Logger logger.Logger

	// GrantTTL 0 => grants sin vencimiento.
	GrantTTL time.Duration
}

type Service struct {
	repo    Repository
	pub     Publisher
	records records.Checker
	log     logger.Logger

	grantTTL time.Duration

	now   func() time.Time
	newID func() string
	locks *keyedMutex
}

func NewService(repo Repository, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		pub:      opts.Publisher,
		records:  opts.Records,
		log:      log.With(map[string]any{"component": "access"}),
		grantTTL: opts.GrantTTL,
		now:      time.Now,
		newID:    uuid.NewString,
		locks:    newKeyedMutex(),
	}
}

type CreateRequestInput struct {
	DoctorID  string
	PatientID string
	Scope     Scope
	Reason    string
}

func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (Request, error) {
	doctorID := strings.TrimSpace(in.DoctorID)
	patientID := strings.TrimSpace(in.PatientID)
	reason := strings.TrimSpace(in.Reason)

	if doctorID == "" || patientID == "" {
		return Request{}, invalid("doctor_id and patient_id required")
	}
	if doctorID == patientID {
		return Request{}, invalid("doctor and patient must be different users")
	}
	if reason == "" {
		return Request{}, invalid("reason required")
	}
	scope, err := in.Scope.Normalize()
	if err != nil {
		return Request{}, err
	}

	now := s.now()
	req := Request{
		ID:        s.newID(),
		DoctorID:  doctorID,
		PatientID: patientID,
		Scope:     scope,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	unlock := s.locks.Lock(req.ID)
	defer unlock()

	if err := s.repo.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicatePending) {
			return Request{}, ErrDuplicatePending
		}
		return Request{}, storeErr("create request", err)
	}

	s.log.Info("access request created", map[string]any{
		"request_id": req.ID,
		"doctor_id":  req.DoctorID,
		"patient_id": req.PatientID,
		"scope":      req.Scope.Key(),
	})
	s.publish(ctx, requestEvent(fanout.KindRequestCreated, req, now))
	return req, nil
}

type DecideInput struct {
	RequestID       string
	Decision        Decision
	PatientID       string
	RejectionReason string
}

// Decide aprueba o rechaza un request pending. Aprobar crea el grant en la
// misma operación del repo; nunca queda un approved sin grant.
func (s *Service) Decide(ctx context.Context, in DecideInput) (Request, error) {
	requestID := strings.TrimSpace(in.RequestID)
	patientID := strings.TrimSpace(in.PatientID)
	rejection := strings.TrimSpace(in.RejectionReason)

	if requestID == "" || patientID == "" {
		return Request{}, invalid("request_id and patient_id required")
	}
	switch in.Decision {
	case DecisionApprove:
	case DecisionReject:
		if rejection == "" {
			return Request{}, invalid("rejection reason required")
		}
	default:
		return Request{}, invalid("unknown decision")
	}

	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.PatientID != patientID {
		return Request{}, ErrForbidden
	}
	if !req.IsPending() {
		return Request{}, requestBadState(req)
	}

	now := s.now()
	var grant *Grant

	if in.Decision == DecisionApprove {
		if err := s.checkRecord(ctx, req); err != nil {
			return Request{}, err
		}

		g := Grant{
			ID:        s.newID(),
			RequestID: req.ID,
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Scope:     req.Scope,
			CreatedAt: now,
		}
		if s.grantTTL > 0 {
			exp := now.Add(s.grantTTL)
			g.ExpiresAt = &exp
		}
		grant = &g

		req.Status = StatusApproved
		req.GrantID = g.ID
	} else {
		req.Status = StatusRejected
		req.RejectionReason = rejection
	}
	req.UpdatedAt = now

	if err := s.resolve(ctx, req, grant); err != nil {
		return Request{}, err
	}

	fields := map[string]any{
		"request_id": req.ID,
		"status":     string(req.Status),
		"patient_id": req.PatientID,
	}
	if grant != nil {
		fields["grant_id"] = grant.ID
	}
	s.log.Info("access request decided", fields)

	s.publish(ctx, requestEvent(fanout.KindRequestUpdated, req, now))
	return req, nil
}

// Cancel: el doctor que pidió retira su request. Queda rejected con CancelReason.
func (s *Service) Cancel(ctx context.Context, requestID, doctorID string) (Request, error) {
	requestID = strings.TrimSpace(requestID)
	doctorID = strings.TrimSpace(doctorID)

	if requestID == "" || doctorID == "" {
		return Request{}, invalid("request_id and doctor_id required")
	}

	unlock := s.locks.Lock(requestID)
	defer unlock()

	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.DoctorID != doctorID {
		return Request{}, ErrForbidden
	}
	if !req.IsPending() {
		return Request{}, requestBadState(req)
	}

	now := s.now()
	req.Status = StatusRejected
	req.RejectionReason = CancelReason
	req.UpdatedAt = now

	if err := s.resolve(ctx, req, nil); err != nil {
		return Request{}, err
	}

	s.log.Info("access request canceled", map[string]any{"request_id": req.ID, "doctor_id": doctorID})
	s.publish(ctx, requestEvent(fanout.KindRequestUpdated, req, now))
	return req, nil
}

func (s *Service) Revoke(ctx context.Context, grantID, patientID string) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	patientID = strings.TrimSpace(patientID)

	if grantID == "" || patientID == "" {
		return Grant{}, invalid("grant_id and patient_id required")
	}

	unlock := s.locks.Lock(grantID)
	defer unlock()

	g, err := s.repo.GetGrant(ctx, grantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Grant{}, ErrNotFound
		}
		return Grant{}, storeErr("get grant", err)
	}
	if g.PatientID != patientID {
		return Grant{}, ErrForbidden
	}
	if g.RevokedAt != nil {
		return Grant{}, grantRevokedErr()
	}

	now := s.now()
	if err := s.repo.RevokeGrant(ctx, g.ID, now); err != nil {
		switch {
		case errors.Is(err, ErrStaleState):
			return Grant{}, grantRevokedErr()
		case errors.Is(err, ErrNotFound):
			return Grant{}, ErrNotFound
		default:
			return Grant{}, storeErr("revoke grant", err)
		}
	}
	g.RevokedAt = &now

	s.log.Info("access grant revoked", map[string]any{"grant_id": g.ID, "patient_id": g.PatientID})
	s.publish(ctx, grantEvent(fanout.KindGrantRevoked, g, now))
	return g, nil
}

// CheckAccess es el único camino de lectura válido para autorizar.
func (s *Service) CheckAccess(ctx context.Context, doctorID, patientID, recordID string) (bool, error) {
	doctorID = strings.TrimSpace(doctorID)
	patientID = strings.TrimSpace(patientID)
	recordID = strings.TrimSpace(recordID)

	if doctorID == "" || patientID == "" || recordID == "" {
		return false, invalid("doctor_id, patient_id and record_id required")
	}

	grants, err := s.repo.ListGrantsForPair(ctx, doctorID, patientID)
	if err != nil {
		return false, storeErr("list grants", err)
	}

	now := s.now()
	return lo.SomeBy(grants, func(g Grant) bool {
		return g.ActiveAt(now) && g.Scope.Covers(recordID)
	}), nil
}

func (s *Service) GetRequest(ctx context.Context, id string) (Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Request{}, invalid("request_id required")
	}
	return s.getRequest(ctx, id)
}

func (s *Service) ListRequestsForPatient(ctx context.Context, patientID string) ([]Request, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, invalid("patient_id required")
	}
	items, err := s.repo.ListRequestsByPatient(ctx, patientID)
	if err != nil {
		return nil, storeErr("list requests", err)
	}
	return sortRequests(items), nil
}

func (s *Service) ListRequestsForDoctor(ctx context.Context, doctorID string) ([]Request, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, invalid("doctor_id required")
	}
	items, err := s.repo.ListRequestsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, storeErr("list requests", err)
	}
	return sortRequests(items), nil
}

func (s *Service) ListGrantsForPatient(ctx context.Context, patientID string) ([]Grant, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, invalid("patient_id required")
	}
	items, err := s.repo.ListGrantsByPatient(ctx, patientID)
	if err != nil {
		return nil, storeErr("list grants", err)
	}
	return sortGrants(items), nil
}

func (s *Service) ListGrantsForDoctor(ctx context.Context, doctorID string) ([]Grant, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, invalid("doctor_id required")
	}
	items, err := s.repo.ListGrantsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, storeErr("list grants", err)
	}
	return sortGrants(items), nil
}

// -------------------------
// helpers
// -------------------------

func (s *Service) getRequest(ctx context.Context, id string) (Request, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Request{}, ErrNotFound
		}
		return Request{}, storeErr("get request", err)
	}
	return req, nil
}

func (s *Service) resolve(ctx context.Context, req Request, g *Grant) error {
	err := s.repo.ResolveRequest(ctx, req, g)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrStaleState):
		// Otro proceso ganó la transición; releer para decir a qué estado pasó.
		if current, gerr := s.repo.GetRequest(ctx, req.ID); gerr == nil {
			return requestBadState(current)
		}
		return fmt.Errorf("%w: request already decided", ErrBadState)
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return storeErr("resolve request", err)
	}
}

func (s *Service) checkRecord(ctx context.Context, req Request) error {
	if s.records == nil || req.Scope.Kind != ScopeSpecificRecord {
		return nil
	}
	ok, err := s.records.RecordExists(ctx, req.PatientID, req.Scope.RecordID)
	if err != nil {
		return storeErr("check record", err)
	}
	if !ok {
		return fmt.Errorf("%w: record %s no longer exists", ErrNotFound, req.Scope.RecordID)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev fanout.Event) {
	if s.pub == nil {
		return
	}
	n := s.pub.Publish(ctx, ev)
	s.log.Debug("event published", map[string]any{
		"kind":      string(ev.Kind),
		"entity_id": ev.EntityID,
		"delivered": n,
	})
}

func requestBadState(r Request) error {
	return fmt.Errorf("%w: request already %s", ErrBadState, r.Status)
}

func grantRevokedErr() error {
	return fmt.Errorf("%w: grant already revoked", ErrBadState)
}

func parties(doctorID, patientID string) []fanout.Recipient {
	return []fanout.Recipient{
		{UserID: patientID, Role: auth.RolePatient},
		{UserID: doctorID, Role: auth.RoleDoctor},
	}
}

func requestEvent(kind fanout.Kind, r Request, at time.Time) fanout.Event {
	return fanout.Event{
		Kind:       kind,
		EntityID:   r.ID,
		Recipients: parties(r.DoctorID, r.PatientID),
		Payload: fanout.Payload{
			RequestID: r.ID,
			GrantID:   r.GrantID,
			DoctorID:  r.DoctorID,
			PatientID: r.PatientID,
			Scope:     r.Scope.Key(),
			Status:    string(r.Status),
			Reason:    r.RejectionReason,
		},
		EmittedAt: at,
	}
}

func grantEvent(kind fanout.Kind, g Grant, at time.Time) fanout.Event {
	return fanout.Event{
		Kind:       kind,
		EntityID:   g.ID,
		Recipients: parties(g.DoctorID, g.PatientID),
		Payload: fanout.Payload{
			RequestID: g.RequestID,
			GrantID:   g.ID,
			DoctorID:  g.DoctorID,
			PatientID: g.PatientID,
			Scope:     g.Scope.Key(),
			Status:    "revoked",
		},
		EmittedAt: at,
	}
}

// Más recientes primero.
func sortRequests(items []Request) []Request {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

func sortGrants(items []Grant) []Grant {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}
