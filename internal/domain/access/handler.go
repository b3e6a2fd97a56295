package access

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"medical-records-access/internal/middleware"
	"medical-records-access/internal/ports/auth"
	"medical-records-access/internal/ports/directory"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// ProfileResolver hace el join de lectura con el directorio.
// Ids que no resuelven simplemente no vienen en el map.
type ProfileResolver interface {
	ResolveMany(ctx context.Context, ids []string) map[string]directory.Profile
}

const dataSourceHeader = "X-Data-Source"

func RegisterRoutes(r chi.Router, svc *Service, reader *ResilientReader, profiles ProfileResolver) {
	r.Route("/access-requests", func(ar chi.Router) {
		ar.Post("/", createRequestHandler(svc))
		ar.Post("/{requestID}/approve", decideHandler(svc, DecisionApprove))
		ar.Post("/{requestID}/reject", decideHandler(svc, DecisionReject))
		ar.Post("/{requestID}/cancel", cancelRequestHandler(svc))
	})

	r.Post("/grants/{grantID}/revoke", revokeGrantHandler(svc))
	r.Get("/access-check", checkAccessHandler(svc))

	r.Route("/me", func(mr chi.Router) {
		mr.Get("/access-requests", listMyRequestsHandler(reader, profiles))
		mr.Get("/grants", listMyGrantsHandler(reader, profiles))
	})
}

type createRequestRequest struct {
	PatientID string `json:"patient_id"`
	Scope     Scope  `json:"scope"`
	Reason    string `json:"reason"`
}

type decideRequest struct {
	Reason string `json:"reason"`
}

type profileResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	Specialty string `json:"specialty,omitempty"`
}

type requestResponse struct {
	ID              string    `json:"id"`
	DoctorID        string    `json:"doctor_id"`
	PatientID       string    `json:"patient_id"`
	Scope           Scope     `json:"scope"`
	Reason          string    `json:"reason"`
	Status          Status    `json:"status"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	GrantID         string    `json:"grant_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Doctor  *profileResponse `json:"doctor,omitempty"`
	Patient *profileResponse `json:"patient,omitempty"`
}

type grantResponse struct {
	ID        string     `json:"id"`
	RequestID string     `json:"request_id,omitempty"`
	DoctorID  string     `json:"doctor_id"`
	PatientID string     `json:"patient_id"`
	Scope     Scope      `json:"scope"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	Doctor  *profileResponse `json:"doctor,omitempty"`
	Patient *profileResponse `json:"patient,omitempty"`
}

type listResponse[T any] struct {
	Items    []T    `json:"items"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
}

type checkAccessResponse struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	RecordID  string `json:"record_id"`
	Allowed   bool   `json:"allowed"`
}

// createRequestHandler godoc
// @Summary Pedir acceso a las historias de un paciente
// @Description Solo doctores. Falla con 409 si ya hay un request pending para el mismo paciente y scope.
// @Tags access
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario"
// @Param X-Debug-User-Role header string false "Solo en modo dev, doctor|patient"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body createRequestRequest true "scope.kind: all_records | specific_record"
// @Success 201 {object} requestResponse
// @Failure 400 {string} string "reason vacío / scope inválido"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 409 {string} string "duplicate pending request"
// @Router /access-requests [post]
func createRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireRole(w, r, auth.RoleDoctor)
		if !ok {
			return
		}

		var req createRequestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		out, err := svc.CreateRequest(r.Context(), CreateRequestInput{
			DoctorID:  claims.UserID,
			PatientID: req.PatientID,
			Scope:     req.Scope,
			Reason:    req.Reason,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRequestResponse(out, nil))
	}
}

// decideHandler godoc
// @Summary Aprobar o rechazar un request
// @Description Solo el paciente dueño. Rechazar exige reason. Un segundo intento sobre un request ya decidido devuelve 409 con el estado actual.
// @Tags access
// @Accept json
// @Produce json
// @Param requestID path string true "ID del request"
// @Param payload body decideRequest false "reason (obligatorio para reject)"
// @Success 200 {object} requestResponse
// @Failure 400 {string} string "reason vacío"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "invalid state: request already approved"
// @Router /access-requests/{requestID}/approve [post]
// @Router /access-requests/{requestID}/reject [post]
func decideHandler(svc *Service, decision Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireRole(w, r, auth.RolePatient)
		if !ok {
			return
		}

		// body opcional: vacío (con o sin Content-Length) => sin reason
		var body decideRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		out, err := svc.Decide(r.Context(), DecideInput{
			RequestID:       chi.URLParam(r, "requestID"),
			Decision:        decision,
			PatientID:       claims.UserID,
			RejectionReason: body.Reason,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toRequestResponse(out, nil))
	}
}

func cancelRequestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireRole(w, r, auth.RoleDoctor)
		if !ok {
			return
		}

		out, err := svc.Cancel(r.Context(), chi.URLParam(r, "requestID"), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRequestResponse(out, nil))
	}
}

// revokeGrantHandler godoc
// @Summary Revocar un grant
// @Tags access
// @Produce json
// @Param grantID path string true "ID del grant"
// @Success 200 {object} grantResponse
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "invalid state: grant already revoked"
// @Router /grants/{grantID}/revoke [post]
func revokeGrantHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireRole(w, r, auth.RolePatient)
		if !ok {
			return
		}

		g, err := svc.Revoke(r.Context(), chi.URLParam(r, "grantID"), claims.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantResponse(g, time.Now(), nil))
	}
}

// checkAccessHandler godoc
// @Summary Chequear acceso del doctor autenticado a un record
// @Tags access
// @Produce json
// @Param patient_id query string true "ID del paciente"
// @Param record_id query string true "ID del record"
// @Success 200 {object} checkAccessResponse
// @Failure 400 {string} string "parámetros faltantes"
// @Router /access-check [get]
func checkAccessHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireRole(w, r, auth.RoleDoctor)
		if !ok {
			return
		}

		patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
		recordID := strings.TrimSpace(r.URL.Query().Get("record_id"))

		allowed, err := svc.CheckAccess(r.Context(), claims.UserID, patientID, recordID)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, checkAccessResponse{
			DoctorID:  claims.UserID,
			PatientID: patientID,
			RecordID:  recordID,
			Allowed:   allowed,
		})
	}
}

// listMyRequestsHandler godoc
// @Summary Listar mis access requests
// @Description Paciente: los requests recibidos. Doctor: los enviados. Si el ledger no responde se devuelve un placeholder con fallback=true y X-Data-Source: fallback. Solo para mostrar, no para autorizar.
// @Tags access
// @Produce json
// @Success 200 {object} listResponse[requestResponse]
// @Failure 401 {string} string "unauthorized"
// @Router /me/access-requests [get]
func listMyRequestsHandler(reader *ResilientReader, profiles ProfileResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireRole(w, r, "")
		if !ok {
			return
		}

		var (
			res ListResult[Request]
			err error
		)
		if claims.Role == auth.RoleDoctor {
			res, err = reader.RequestsForDoctor(r.Context(), claims.UserID)
		} else {
			res, err = reader.RequestsForPatient(r.Context(), claims.UserID)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		ids := lo.FlatMap(res.Items, func(x Request, _ int) []string { return []string{x.DoctorID, x.PatientID} })
		known := resolveProfiles(r.Context(), profiles, ids, res.Fallback)

		setDataSource(w, res.Fallback)
		writeJSON(w, http.StatusOK, listResponse[requestResponse]{
			Items:    lo.Map(res.Items, func(x Request, _ int) requestResponse { return toRequestResponse(x, known) }),
			Fallback: res.Fallback,
			Reason:   res.Reason,
		})
	}
}

func listMyGrantsHandler(reader *ResilientReader, profiles ProfileResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireRole(w, r, "")
		if !ok {
			return
		}

		var (
			res ListResult[Grant]
			err error
		)
		if claims.Role == auth.RoleDoctor {
			res, err = reader.GrantsForDoctor(r.Context(), claims.UserID)
		} else {
			res, err = reader.GrantsForPatient(r.Context(), claims.UserID)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		// ?active=true filtra revocados y vencidos
		if strings.EqualFold(r.URL.Query().Get("active"), "true") {
			now := time.Now()
			res.Items = lo.Filter(res.Items, func(g Grant, _ int) bool { return g.ActiveAt(now) })
		}

		ids := lo.FlatMap(res.Items, func(g Grant, _ int) []string { return []string{g.DoctorID, g.PatientID} })
		known := resolveProfiles(r.Context(), profiles, ids, res.Fallback)

		now := time.Now()
		setDataSource(w, res.Fallback)
		writeJSON(w, http.StatusOK, listResponse[grantResponse]{
			Items:    lo.Map(res.Items, func(g Grant, _ int) grantResponse { return toGrantResponse(g, now, known) }),
			Fallback: res.Fallback,
			Reason:   res.Reason,
		})
	}
}

// requireRole exige claims; role vacío acepta cualquiera de los dos.
func requireRole(w http.ResponseWriter, r *http.Request, role auth.Role) (auth.Claims, bool) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return auth.Claims{}, false
	}
	if role != "" && claims.Role != role {
		http.Error(w, "forbidden", http.StatusForbidden)
		return auth.Claims{}, false
	}
	if role == "" && claims.Role != auth.RoleDoctor && claims.Role != auth.RolePatient {
		http.Error(w, "forbidden", http.StatusForbidden)
		return auth.Claims{}, false
	}
	return claims, true
}

func resolveProfiles(ctx context.Context, profiles ProfileResolver, ids []string, fallback bool) map[string]directory.Profile {
	// el placeholder no tiene usuarios reales
	if profiles == nil || fallback || len(ids) == 0 {
		return nil
	}
	return profiles.ResolveMany(ctx, lo.Uniq(ids))
}

func setDataSource(w http.ResponseWriter, fallback bool) {
	if fallback {
		w.Header().Set(dataSourceHeader, "fallback")
		return
	}
	w.Header().Set(dataSourceHeader, "ledger")
}

func toProfileResponse(known map[string]directory.Profile, id string) *profileResponse {
	p, ok := known[id]
	if !ok {
		return nil
	}
	return &profileResponse{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		Role:      string(p.Role),
		Specialty: p.Specialty,
	}
}

func toRequestResponse(x Request, known map[string]directory.Profile) requestResponse {
	return requestResponse{
		ID:              x.ID,
		DoctorID:        x.DoctorID,
		PatientID:       x.PatientID,
		Scope:           x.Scope,
		Reason:          x.Reason,
		Status:          x.Status,
		RejectionReason: x.RejectionReason,
		GrantID:         x.GrantID,
		CreatedAt:       x.CreatedAt,
		UpdatedAt:       x.UpdatedAt,
		Doctor:          toProfileResponse(known, x.DoctorID),
		Patient:         toProfileResponse(known, x.PatientID),
	}
}

func toGrantResponse(g Grant, now time.Time, known map[string]directory.Profile) grantResponse {
	return grantResponse{
		ID:        g.ID,
		RequestID: g.RequestID,
		DoctorID:  g.DoctorID,
		PatientID: g.PatientID,
		Scope:     g.Scope,
		Active:    g.ActiveAt(now),
		CreatedAt: g.CreatedAt,
		ExpiresAt: g.ExpiresAt,
		RevokedAt: g.RevokedAt,
		Doctor:    toProfileResponse(known, g.DoctorID),
		Patient:   toProfileResponse(known, g.PatientID),
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, Message(err), statusFor(err))
}

// Helper local (duplicado por ahora en cada módulo, luego lo centralizamos)
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
