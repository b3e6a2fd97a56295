package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"medical-records-access/internal/domain/access"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type AccessRepo struct {
	db *sql.DB
}

func NewAccessRepo(db *sql.DB) *AccessRepo {
	return &AccessRepo{db: db}
}

const requestColumns = `
	id, doctor_id, patient_id, scope_kind, record_id,
	reason, status, rejection_reason, grant_id,
	created_at, updated_at`

const grantColumns = `
	id, request_id, doctor_id, patient_id, scope_kind, record_id,
	created_at, expires_at, revoked_at`

func (r *AccessRepo) CreateRequest(ctx context.Context, req access.Request) error {
	// el índice parcial access_requests_one_pending hace atómico el chequeo de duplicado
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		req.ID,
		req.DoctorID,
		req.PatientID,
		string(req.Scope.Kind),
		req.Scope.RecordID,
		req.Reason,
		string(req.Status),
		req.RejectionReason,
		req.GrantID,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return access.ErrDuplicatePending
	}
	return err
}

func (r *AccessRepo) GetRequest(ctx context.Context, id string) (access.Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return access.Request{}, access.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.Request{}, access.ErrNotFound
		}
		return access.Request{}, err
	}
	return req, nil
}

func (r *AccessRepo) ListRequestsByPatient(ctx context.Context, patientID string) ([]access.Request, error) {
	return r.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM access_requests
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
}

func (r *AccessRepo) ListRequestsByDoctor(ctx context.Context, doctorID string) ([]access.Request, error) {
	return r.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM access_requests
		WHERE doctor_id = $1
		ORDER BY created_at DESC
	`, doctorID)
}

// ResolveRequest: UPDATE condicional sobre status='pending' + insert del grant
// en la misma transacción.
func (r *AccessRepo) ResolveRequest(ctx context.Context, req access.Request, g *access.Grant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE access_requests
		SET
			status = $2,
			rejection_reason = $3,
			grant_id = $4,
			updated_at = $5
		WHERE id = $1
		  AND status = 'pending'
	`,
		req.ID,
		string(req.Status),
		req.RejectionReason,
		req.GrantID,
		req.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM access_requests WHERE id = $1)`, req.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return access.ErrNotFound
		}
		return access.ErrStaleState
	}

	if g != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO access_grants (`+grantColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			g.ID,
			g.RequestID,
			g.DoctorID,
			g.PatientID,
			string(g.Scope.Kind),
			g.Scope.RecordID,
			g.CreatedAt,
			toNullTime(g.ExpiresAt),
			toNullTime(g.RevokedAt),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *AccessRepo) GetGrant(ctx context.Context, id string) (access.Grant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return access.Grant{}, access.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM access_grants WHERE id = $1`, id)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.Grant{}, access.ErrNotFound
		}
		return access.Grant{}, err
	}
	return g, nil
}

func (r *AccessRepo) ListGrantsByPatient(ctx context.Context, patientID string) ([]access.Grant, error) {
	return r.queryGrants(ctx, `
		SELECT `+grantColumns+` FROM access_grants
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
}

func (r *AccessRepo) ListGrantsByDoctor(ctx context.Context, doctorID string) ([]access.Grant, error) {
	return r.queryGrants(ctx, `
		SELECT `+grantColumns+` FROM access_grants
		WHERE doctor_id = $1
		ORDER BY created_at DESC
	`, doctorID)
}

func (r *AccessRepo) ListGrantsForPair(ctx context.Context, doctorID, patientID string) ([]access.Grant, error) {
	return r.queryGrants(ctx, `
		SELECT `+grantColumns+` FROM access_grants
		WHERE doctor_id = $1
		  AND patient_id = $2
		ORDER BY created_at DESC
	`, doctorID, patientID)
}

func (r *AccessRepo) RevokeGrant(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_grants
		SET revoked_at = $2
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM access_grants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return access.ErrNotFound
	}
	return access.ErrStaleState
}

// -------------------------
// scan helpers
// -------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (access.Request, error) {
	var req access.Request
	var scopeKind, recordID, status string

	if err := s.Scan(
		&req.ID,
		&req.DoctorID,
		&req.PatientID,
		&scopeKind,
		&recordID,
		&req.Reason,
		&status,
		&req.RejectionReason,
		&req.GrantID,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return access.Request{}, err
	}

	req.Scope = access.Scope{Kind: access.ScopeKind(scopeKind), RecordID: recordID}
	req.Status = access.Status(status)
	return req, nil
}

func scanGrant(s scanner) (access.Grant, error) {
	var g access.Grant
	var scopeKind, recordID string
	var expiresAt, revokedAt sql.NullTime

	if err := s.Scan(
		&g.ID,
		&g.RequestID,
		&g.DoctorID,
		&g.PatientID,
		&scopeKind,
		&recordID,
		&g.CreatedAt,
		&expiresAt,
		&revokedAt,
	); err != nil {
		return access.Grant{}, err
	}

	g.Scope = access.Scope{Kind: access.ScopeKind(scopeKind), RecordID: recordID}
	g.ExpiresAt = fromNullTime(expiresAt)
	g.RevokedAt = fromNullTime(revokedAt)
	return g, nil
}

func (r *AccessRepo) queryRequests(ctx context.Context, query string, args ...any) ([]access.Request, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *AccessRepo) queryGrants(ctx context.Context, query string, args ...any) ([]access.Grant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]access.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
