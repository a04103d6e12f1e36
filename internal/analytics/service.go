package analytics

import (
	"context"
	"fmt"
	"time"

	"odprt-chatbot/gateway/internal/upstream"
	"odprt-chatbot/gateway/pkg/cache"
	"odprt-chatbot/gateway/pkg/logger"
)

// dateLayout is the wire format for dashboard range bounds.
const dateLayout = "2006-01-02"

// Source is the slice of the upstream client the analytics service needs.
type Source interface {
	FetchDashboard(ctx context.Context, startDate, endDate string) (upstream.DashboardStats, error)
}

// Service fetches dashboard aggregates and caches them per date range so a
// dashboard full of charts does not fan out into repeated backend calls.
type Service struct {
	source Source
	cache  *cache.Cache
	log    *logger.Logger
}

// NewService creates an analytics service. A nil cache disables caching.
func NewService(source Source, c *cache.Cache, log *logger.Logger) *Service {
	return &Service{source: source, cache: c, log: log}
}

// Range is a validated dashboard date range.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange validates the bounds of a dashboard query. Both dates are
// required and the range must not be inverted.
func ParseRange(startDate, endDate string) (Range, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return Range{}, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return Range{}, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	if end.Before(start) {
		return Range{}, fmt.Errorf("end date %s precedes start date %s", endDate, startDate)
	}
	return Range{Start: start, End: end}, nil
}

func (r Range) key() string {
	return "dashboard:" + r.Start.Format(dateLayout) + ":" + r.End.Format(dateLayout)
}

// Fetch returns the dashboard aggregates for the range, from cache when the
// same range was fetched recently.
func (s *Service) Fetch(ctx context.Context, r Range) (upstream.DashboardStats, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(r.key()); ok {
			if stats, ok := v.(upstream.DashboardStats); ok {
				return stats, nil
			}
		}
	}

	stats, err := s.source.FetchDashboard(ctx, r.Start.Format(dateLayout), r.End.Format(dateLayout))
	if err != nil {
		return upstream.DashboardStats{}, fmt.Errorf("fetch dashboard: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(r.key(), stats)
	}
	return stats, nil
}
