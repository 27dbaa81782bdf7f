package trust

import (
	"context"
	"errors"
	"fmt"

	"github.com/floodwatch/floodwatch-api/internal/observability"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
)

// Service recomputes user trust counters from report history.
type Service struct {
	store   Store
	metrics *observability.Metrics
}

// NewService creates the trust aggregator
func NewService(store Store, metrics *observability.Metrics) *Service {
	return &Service{store: store, metrics: metrics}
}

// RecomputeOne recomputes and stores one user's counters.
func (s *Service) RecomputeOne(ctx context.Context, userID int64) (Counters, error) {
	c, err := s.store.Recompute(ctx, userID)
	s.observe(err)
	if err != nil {
		return Counters{}, err
	}

	logger.FromContext(ctx).Debug().
		Int64("user_id", userID).
		Int("total_reports", c.Total).
		Int("approved_reports", c.Approved).
		Int("trust_score", c.Score).
		Msg("Trust score recomputed")
	return c, nil
}

// RecomputeAll recomputes every user. Each user is updated in its own
// transaction; failures are collected and the remaining users still run.
func (s *Service) RecomputeAll(ctx context.Context) ([]UserCounters, error) {
	ids, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]UserCounters, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		c, err := s.store.Recompute(ctx, id)
		s.observe(err)
		if errors.Is(err, ErrUserNotFound) {
			continue
		}
		if err != nil {
			logger.FromContext(ctx).Error().
				Str("event", "score_recompute_failed").
				Int64("user_id", id).
				Err(err).
				Msg("Trust recompute failed")
			errs = append(errs, fmt.Errorf("user %d: %w", id, err))
			continue
		}
		results = append(results, UserCounters{UserID: id, Counters: c})
	}

	logger.FromContext(ctx).Info().
		Int("users", len(ids)).
		Int("updated", len(results)).
		Int("failed", len(errs)).
		Msg("Trust recompute finished")
	return results, errors.Join(errs...)
}

// ResetAll zeroes every user's counters.
func (s *Service) ResetAll(ctx context.Context) (int64, error) {
	return s.store.ResetAll(ctx)
}

func (s *Service) observe(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.TrustRecomputes.WithLabelValues(outcome).Inc()
}
