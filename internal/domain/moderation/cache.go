package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/floodwatch/floodwatch-api/internal/domain/report"
	"github.com/floodwatch/floodwatch-api/internal/observability"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
)

const approvedListingKey = "floodwatch:reports:approved"

// ListingCache holds the public approved-reports listing.
type ListingCache interface {
	Get(ctx context.Context) ([]*report.Report, bool)
	Set(ctx context.Context, reports []*report.Report)
	Invalidate(ctx context.Context)
}

// NewListingCache returns a Redis-backed cache, or a no-op cache when client
// is nil or ttl is not positive.
func NewListingCache(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) ListingCache {
	if client == nil || ttl <= 0 {
		return noopCache{}
	}
	return &redisCache{client: client, ttl: ttl, metrics: metrics}
}

type redisCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

func (c *redisCache) Get(ctx context.Context) ([]*report.Report, bool) {
	data, err := c.client.Get(ctx, approvedListingKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.observe("miss")
		} else {
			c.observe("error")
			logger.FromContext(ctx).Warn().Err(err).Msg("Listing cache read failed")
		}
		return nil, false
	}

	var reports []*report.Report
	if err := json.Unmarshal(data, &reports); err != nil {
		c.observe("error")
		return nil, false
	}
	c.observe("hit")
	return reports, true
}

func (c *redisCache) Set(ctx context.Context, reports []*report.Report) {
	data, err := json.Marshal(reports)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, approvedListingKey, data, c.ttl).Err(); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Listing cache write failed")
	}
}

func (c *redisCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(context.WithoutCancel(ctx), approvedListingKey).Err(); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Listing cache invalidation failed")
	}
}

func (c *redisCache) observe(result string) {
	if c.metrics != nil {
		c.metrics.ListingCache.WithLabelValues(result).Inc()
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context) ([]*report.Report, bool) { return nil, false }
func (noopCache) Set(context.Context, []*report.Report)        {}
func (noopCache) Invalidate(context.Context)                   {}
