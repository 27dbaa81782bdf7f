package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var columns = []string{
	"id", "latitude", "longitude", "location", "severity", "rain_intensity", "image",
	"processed_image", "is_waterlogged", "confidence_score",
	"user_id", "status", "auto_rejected", "approved_at", "rejected_at", "created_at",
}

var reportColumns = strings.Join(columns, ", ")

// legacyColumns stand in for the classification columns on a schema that
// predates them, so reads keep working while that migration is pending.
var legacyColumns = map[string]string{
	"processed_image":  "NULL::text",
	"is_waterlogged":   "NULL::boolean",
	"confidence_score": "NULL::double precision",
	"auto_rejected":    "FALSE",
}

func selectColumns(alias string, legacy bool) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		if expr, ok := legacyColumns[c]; legacy && ok {
			out[i] = expr + " AS " + c
			continue
		}
		if alias != "" {
			out[i] = alias + "." + c
		} else {
			out[i] = c
		}
	}
	return strings.Join(out, ", ")
}

// readWithFallback runs read against the current schema and retries with the
// legacy column set when the classification columns are missing.
func readWithFallback(read func(legacy bool) error) error {
	err := read(false)
	if isUndefinedColumn(err) {
		return read(true)
	}
	return err
}

// Repository is the report store.
type Repository interface {
	// Create writes every field including classification. Returns
	// ErrSchemaMismatch when the classification columns are missing.
	Create(ctx context.Context, r *Report) error
	// CreateMinimal writes only the base fields as a PENDING report.
	CreateMinimal(ctx context.Context, r *Report) error

	GetByID(ctx context.Context, id int64) (*Report, error)
	ListApproved(ctx context.Context) ([]*Report, error)
	ListForAdmin(ctx context.Context) ([]*AdminReport, error)

	// Approve moves PENDING (or auto-rejected) to APPROVED and bumps the
	// owner's approved_reports in the same transaction.
	Approve(ctx context.Context, id int64, at time.Time) (*Report, error)
	// Reject moves PENDING to REJECTED.
	Reject(ctx context.Context, id int64, at time.Time) (*Report, error)
	// Reclassify overwrites classification fields. When reject is set a
	// PENDING report becomes REJECTED (auto); APPROVED is never demoted and an
	// existing rejected_at is kept.
	Reclassify(ctx context.Context, id int64, c Classification, reject bool, at time.Time) (*Report, error)

	DeleteNonApproved(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new report repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, rep *Report) error {
	query := `
		INSERT INTO reports (
			latitude, longitude, location, severity, rain_intensity, image,
			processed_image, is_waterlogged, confidence_score,
			user_id, status, auto_rejected, rejected_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	err := r.db.QueryRowxContext(ctx, query,
		rep.Latitude, rep.Longitude, rep.Location, rep.Severity, rep.RainIntensity, rep.Image,
		rep.ProcessedImage, rep.IsWaterlogged, rep.Confidence,
		rep.UserID, rep.Status, rep.AutoRejected, rep.RejectedAt, rep.CreatedAt,
	).Scan(&rep.ID)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (r *repository) CreateMinimal(ctx context.Context, rep *Report) error {
	query := `
		INSERT INTO reports (latitude, longitude, location, severity, rain_intensity, image, user_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', $8)
		RETURNING id
	`
	err := r.db.QueryRowxContext(ctx, query,
		rep.Latitude, rep.Longitude, rep.Location, rep.Severity, rep.RainIntensity, rep.Image,
		rep.UserID, rep.CreatedAt,
	).Scan(&rep.ID)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// GetByID returns the report, or nil when absent
func (r *repository) GetByID(ctx context.Context, id int64) (*Report, error) {
	var rep Report
	err := readWithFallback(func(legacy bool) error {
		return r.db.GetContext(ctx, &rep, `SELECT `+selectColumns("", legacy)+` FROM reports WHERE id = $1`, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("report repository get: %w", err)
	}
	return &rep, nil
}

func (r *repository) ListApproved(ctx context.Context) ([]*Report, error) {
	var reports []*Report
	err := readWithFallback(func(legacy bool) error {
		reports = []*Report{}
		query := `SELECT ` + selectColumns("", legacy) + ` FROM reports WHERE status = 'APPROVED' ORDER BY created_at DESC, id DESC`
		return r.db.SelectContext(ctx, &reports, query)
	})
	if err != nil {
		return nil, fmt.Errorf("report repository list approved: %w", err)
	}
	return reports, nil
}

func (r *repository) ListForAdmin(ctx context.Context) ([]*AdminReport, error) {
	var reports []*AdminReport
	err := readWithFallback(func(legacy bool) error {
		reports = []*AdminReport{}
		query := `
			SELECT ` + selectColumns("r", legacy) + `,
			       u.name AS owner_name,
			       u.email AS owner_email,
			       COALESCE(u.trust_score, 0) AS owner_trust_score
			FROM reports r
			LEFT JOIN users u ON u.id = r.user_id
			ORDER BY owner_trust_score DESC, r.created_at DESC, r.id DESC
		`
		return r.db.SelectContext(ctx, &reports, query)
	})
	if err != nil {
		return nil, fmt.Errorf("report repository list admin: %w", err)
	}
	return reports, nil
}

func (r *repository) Approve(ctx context.Context, id int64, at time.Time) (*Report, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("report repository approve begin: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE reports SET status = 'APPROVED', approved_at = $2
		WHERE id = $1 AND (status = 'PENDING' OR (status = 'REJECTED' AND auto_rejected))
		RETURNING ` + reportColumns

	var rep Report
	if err := tx.GetContext(ctx, &rep, query, id, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transitionError(ctx, tx, id)
		}
		return nil, transitionFailure("approve", err)
	}

	if rep.UserID != nil {
		_, err := tx.ExecContext(ctx, `UPDATE users SET approved_reports = approved_reports + 1 WHERE id = $1`, *rep.UserID)
		if err != nil {
			return nil, fmt.Errorf("report repository approve counters: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("report repository approve commit: %w", err)
	}
	return &rep, nil
}

func (r *repository) Reject(ctx context.Context, id int64, at time.Time) (*Report, error) {
	query := `
		UPDATE reports SET status = 'REJECTED', rejected_at = $2, auto_rejected = FALSE
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + reportColumns

	var rep Report
	if err := r.db.GetContext(ctx, &rep, query, id, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transitionError(ctx, r.db, id)
		}
		return nil, transitionFailure("reject", err)
	}
	return &rep, nil
}

func (r *repository) Reclassify(ctx context.Context, id int64, c Classification, reject bool, at time.Time) (*Report, error) {
	query := `
		UPDATE reports SET
			processed_image = $2,
			is_waterlogged = $3,
			confidence_score = $4,
			status = CASE WHEN $5::boolean AND status = 'PENDING' THEN 'REJECTED' ELSE status END,
			auto_rejected = CASE WHEN $5::boolean AND status = 'PENDING' THEN TRUE ELSE auto_rejected END,
			rejected_at = CASE WHEN $5::boolean AND status = 'PENDING' THEN COALESCE(rejected_at, $6) ELSE rejected_at END
		WHERE id = $1
		RETURNING ` + reportColumns

	var rep Report
	err := r.db.GetContext(ctx, &rep, query, id, c.ProcessedImage, c.IsWaterlogged, c.Confidence, reject, at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, transitionFailure("reclassify", err)
	}
	return &rep, nil
}

func (r *repository) DeleteNonApproved(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE status <> 'APPROVED'`)
	if err != nil {
		return 0, fmt.Errorf("report repository delete non-approved: %w", err)
	}
	return res.RowsAffected()
}

func (r *repository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reports`)
	if err != nil {
		return 0, fmt.Errorf("report repository delete all: %w", err)
	}
	return res.RowsAffected()
}

// transitionError explains why a conditional status update matched no row.
func transitionError(ctx context.Context, q sqlx.QueryerContext, id int64) error {
	var current struct {
		Status       Status `db:"status"`
		AutoRejected bool   `db:"auto_rejected"`
	}
	err := sqlx.GetContext(ctx, q, &current, `SELECT status, auto_rejected FROM reports WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReportNotFound
		}
		return fmt.Errorf("report repository load status: %w", err)
	}

	switch current.Status {
	case StatusApproved:
		return ErrAlreadyApproved
	case StatusRejected:
		return ErrAlreadyRejected
	default:
		return fmt.Errorf("report %d is %s but the transition did not apply", id, current.Status)
	}
}

// transitionFailure wraps a failed status change. Transitions need the
// classification columns, so a missing column surfaces as ErrSchemaMismatch.
func transitionFailure(op string, err error) error {
	if isUndefinedColumn(err) {
		return fmt.Errorf("report repository %s: %w: %w", op, ErrSchemaMismatch, err)
	}
	return fmt.Errorf("report repository %s: %w", op, err)
}

func isUndefinedColumn(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42703"
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42703": // undefined_column
			return fmt.Errorf("%w: %s", ErrSchemaMismatch, pqErr.Message)
		case "23503": // foreign_key_violation
			if pqErr.Constraint == "" || strings.Contains(pqErr.Constraint, "user_id") {
				return ErrOwnerNotFound
			}
		}
	}
	return fmt.Errorf("report repository write: %w", err)
}
