package access

import (
	"context"
	"errors"
	"time"

	"medical-records-access/internal/platform/logger"
)

const DefaultReadTimeout = 3 * time.Second

// FallbackPrefix marca los ids del dataset placeholder.
const FallbackPrefix = "fallback-"

// Reader son las lecturas de UI. *Service lo implementa.
type Reader interface {
	ListRequestsForPatient(ctx context.Context, patientID string) ([]Request, error)
	ListRequestsForDoctor(ctx context.Context, doctorID string) ([]Request, error)
	ListGrantsForPatient(ctx context.Context, patientID string) ([]Grant, error)
	ListGrantsForDoctor(ctx context.Context, doctorID string) ([]Grant, error)
}

// ListResult distingue datos del ledger (Fallback=false) del placeholder.
type ListResult[T any] struct {
	Items    []T
	Fallback bool
	Reason   string
}

// ResilientReader aplica deadline a las lecturas y, si el ledger no responde
// o falla, devuelve el placeholder marcado en vez del error.
// Errores de validación se propagan igual.
type ResilientReader struct {
	r       Reader
	timeout time.Duration
	log     logger.Logger
}

func NewResilientReader(r Reader, timeout time.Duration, log logger.Logger) *ResilientReader {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ResilientReader{
		r:       r,
		timeout: timeout,
		log:     log.With(map[string]any{"component": "resilient_reader"}),
	}
}

func (rr *ResilientReader) RequestsForPatient(ctx context.Context, patientID string) (ListResult[Request], error) {
	return readWithFallback(ctx, rr, "requests_for_patient",
		func(ctx context.Context) ([]Request, error) { return rr.r.ListRequestsForPatient(ctx, patientID) },
		func() []Request { return fallbackRequests("", patientID) },
	)
}

func (rr *ResilientReader) RequestsForDoctor(ctx context.Context, doctorID string) (ListResult[Request], error) {
	return readWithFallback(ctx, rr, "requests_for_doctor",
		func(ctx context.Context) ([]Request, error) { return rr.r.ListRequestsForDoctor(ctx, doctorID) },
		func() []Request { return fallbackRequests(doctorID, "") },
	)
}

func (rr *ResilientReader) GrantsForPatient(ctx context.Context, patientID string) (ListResult[Grant], error) {
	return readWithFallback(ctx, rr, "grants_for_patient",
		func(ctx context.Context) ([]Grant, error) { return rr.r.ListGrantsForPatient(ctx, patientID) },
		func() []Grant { return fallbackGrants("", patientID) },
	)
}

func (rr *ResilientReader) GrantsForDoctor(ctx context.Context, doctorID string) (ListResult[Grant], error) {
	return readWithFallback(ctx, rr, "grants_for_doctor",
		func(ctx context.Context) ([]Grant, error) { return rr.r.ListGrantsForDoctor(ctx, doctorID) },
		func() []Grant { return fallbackGrants(doctorID, "") },
	)
}

type readResult[T any] struct {
	items []T
	err   error
}

func readWithFallback[T any](
	ctx context.Context,
	rr *ResilientReader,
	op string,
	call func(context.Context) ([]T, error),
	fallback func() []T,
) (ListResult[T], error) {
	cctx, cancel := context.WithTimeout(ctx, rr.timeout)
	defer cancel()

	// buffer 1: si vence el deadline la goroutine no queda colgada
	done := make(chan readResult[T], 1)
	go func() {
		items, err := call(cctx)
		done <- readResult[T]{items: items, err: err}
	}()

	var reason string
	select {
	case res := <-done:
		if res.err == nil {
			return ListResult[T]{Items: res.items}, nil
		}
		if errors.Is(res.err, ErrInvalidInput) {
			return ListResult[T]{}, res.err
		}
		reason = res.err.Error()

	case <-cctx.Done():
		reason = "timeout after " + rr.timeout.String()
	}

	// el caller se fue: no tiene sentido devolver placeholder
	if err := ctx.Err(); err != nil {
		return ListResult[T]{}, err
	}

	rr.log.Warn("ledger read failed, serving fallback data", map[string]any{
		"op":     op,
		"reason": reason,
	})
	return ListResult[T]{Items: fallback(), Fallback: true, Reason: reason}, nil
}

// Dataset placeholder. Es fijo para que tests y UI lo reconozcan.
var fallbackTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fallbackRequests(doctorID, patientID string) []Request {
	if doctorID == "" {
		doctorID = FallbackPrefix + "doctor"
	}
	if patientID == "" {
		patientID = FallbackPrefix + "patient"
	}
	return []Request{
		{
			ID:        FallbackPrefix + "request-1",
			DoctorID:  doctorID,
			PatientID: patientID,
			Scope:     AllRecords(),
			Reason:    "placeholder: access ledger unavailable",
			Status:    StatusPending,
			CreatedAt: fallbackTime,
			UpdatedAt: fallbackTime,
		},
	}
}

func fallbackGrants(doctorID, patientID string) []Grant {
	if doctorID == "" {
		doctorID = FallbackPrefix + "doctor"
	}
	if patientID == "" {
		patientID = FallbackPrefix + "patient"
	}
	return []Grant{
		{
			ID:        FallbackPrefix + "grant-1",
			RequestID: FallbackPrefix + "request-1",
			DoctorID:  doctorID,
			PatientID: patientID,
			Scope:     AllRecords(),
			CreatedAt: fallbackTime,
		},
	}
}
