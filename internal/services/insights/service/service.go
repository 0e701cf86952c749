// Package service implements the insights read-through proxy: a ClickHouse
// cache in front of the external auxiliary statistics service, failing soft
// (per spec.md §7's Upstream error contract) rather than surfacing a 5xx to
// the caregiver UI.
package service

import (
	"context"
	"time"

	"aginosd/internal/platform/logger"
	"aginosd/internal/services/insights/domain"
)

// Cache is the ClickHouse-backed read-through cache port
type Cache interface {
	Get(ctx context.Context, room string, since, until time.Time) (domain.Insight, bool, error)
	Put(ctx context.Context, in domain.Insight) error
}

// Upstream is the gRPC auxiliary-service client's call surface
type Upstream interface {
	NightMorningInsights(ctx context.Context, room string, since, until time.Time) (domain.UpstreamResult, error)
}

// Service is the read-through proxy
type Service struct {
	Cache    Cache
	Upstream Upstream
}

// New constructs the insights proxy
func New(cache Cache, upstream Upstream) *Service {
	return &Service{Cache: cache, Upstream: upstream}
}

// NightMorningInsights serves from cache when a fresh entry exists,
// otherwise calls the auxiliary service and caches the result; an upstream
// failure returns the error so the caller can render a fail-soft note
// rather than blocking the whole boundary response.
func (s *Service) NightMorningInsights(ctx context.Context, room string, since, until time.Time) (domain.Insight, error) {
	l := logger.Named("insights")

	if cached, ok, err := s.Cache.Get(ctx, room, since, until); err == nil && ok {
		return cached, nil
	} else if err != nil {
		l.Warn().Err(err).Msg("insights cache read failed, falling through to upstream")
	}

	res, err := s.Upstream.NightMorningInsights(ctx, room, since, until)
	if err != nil {
		return domain.Insight{}, err
	}

	now := time.Now().UTC()
	in := domain.Insight{
		Room: room, WindowStart: since, WindowEnd: until,
		EventCount: res.EventCount, QuietestHour: res.QuietestHour, BusiestHour: res.BusiestHour,
		AvgGapSeconds: res.AvgGapSeconds, GeneratedAt: now,
	}

	if err := s.Cache.Put(ctx, in); err != nil {
		l.Warn().Err(err).Msg("insights cache write failed")
	}
	return in, nil
}
