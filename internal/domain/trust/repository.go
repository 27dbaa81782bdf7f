package trust

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store persists trust counters.
type Store interface {
	// ListUserIDs returns every user id.
	ListUserIDs(ctx context.Context) ([]int64, error)

	// Recompute derives a user's counters from the reports table and writes
	// them back while holding the user's row lock.
	Recompute(ctx context.Context, userID int64) (Counters, error)

	// ResetAll zeroes every user's counters.
	ResetAll(ctx context.Context) (int64, error)
}

type store struct {
	db *sqlx.DB
}

// NewStore creates the PostgreSQL trust store
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("trust store list users: %w", err)
	}
	return ids, nil
}

func (s *store) Recompute(ctx context.Context, userID int64) (Counters, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Counters{}, fmt.Errorf("trust store begin: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Counters{}, ErrUserNotFound
		}
		return Counters{}, fmt.Errorf("trust store lock user: %w", err)
	}

	var approved []bool
	if err := tx.SelectContext(ctx, &approved, `SELECT status = 'APPROVED' FROM reports WHERE user_id = $1`, userID); err != nil {
		return Counters{}, fmt.Errorf("trust store load reports: %w", err)
	}

	c := Compute(approved)
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET total_reports = $2, approved_reports = $3, trust_score = $4 WHERE id = $1`,
		userID, c.Total, c.Approved, c.Score,
	)
	if err != nil {
		return Counters{}, fmt.Errorf("trust store update counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Counters{}, fmt.Errorf("trust store commit: %w", err)
	}
	return c, nil
}

func (s *store) ResetAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET total_reports = 0, approved_reports = 0, trust_score = 0`)
	if err != nil {
		return 0, fmt.Errorf("trust store reset: %w", err)
	}
	return res.RowsAffected()
}
