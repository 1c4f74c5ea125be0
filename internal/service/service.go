package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/kjstillabower/blaue-tonne-service/internal/cache"
	"github.com/kjstillabower/blaue-tonne-service/internal/client"
	"github.com/kjstillabower/blaue-tonne-service/internal/models"
	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
	"github.com/kjstillabower/blaue-tonne-service/internal/pdftable"
	"github.com/kjstillabower/blaue-tonne-service/internal/schedule"
)

// Config holds what a ScheduleService serves.
type Config struct {
	Landkreis string
	Plans     []models.Plan
	// CacheTTL is the lifetime of a district's dates. Zero keeps them for the process lifetime.
	CacheTTL time.Duration
}

// ScheduleService answers district lookups with cache-aside over the configured plans.
type ScheduleService struct {
	cache     cache.Cache
	landkreis string
	plans     []models.Plan
	ttl       time.Duration

	tables   *planTables
	lookups  singleflight.Group
	stampede *stampedeTracker
}

// NewScheduleService creates a ScheduleService. Plan tables are extracted with pdftable.Extract.
func NewScheduleService(planClient client.PlanClient, c cache.Cache, cfg Config) *ScheduleService {
	return &ScheduleService{
		cache:     c,
		landkreis: cfg.Landkreis,
		plans:     append([]models.Plan(nil), cfg.Plans...),
		ttl:       cfg.CacheTTL,
		tables:    newPlanTables(planClient, pdftable.Extract),
		stampede:  newStampedeTracker(),
	}
}

// Landkreis returns the administrative district this service answers for.
func (s *ScheduleService) Landkreis() string {
	return s.landkreis
}

// Plans returns a copy of the configured plans.
func (s *ScheduleService) Plans() []models.Plan {
	return append([]models.Plan(nil), s.plans...)
}

// GetDates returns the collection dates of district across all plans, in plan order.
// An unknown district yields schedule.ErrDistrictNotFound and is not cached. Dates
// are never nil, so an empty result encodes as [].
func (s *ScheduleService) GetDates(ctx context.Context, district string) (models.Schedule, error) {
	district = normalizeDistrict(district)
	key := cache.Key(s.landkreis, district)
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	result := models.Schedule{Landkreis: s.landkreis, District: district}

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		if logger != nil {
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("dates").Inc()
		if logger != nil {
			logger.Debug("dates served", zap.String("district", district), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		result.Dates = cached
		result.Cached = true
		return result, nil
	}
	observability.CacheMissesTotal.WithLabelValues("dates").Inc()

	if n := s.stampede.Begin(key); n > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
	}
	defer s.stampede.End(key)

	// The shared lookup must outlive any single caller; each caller still honours its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := s.lookups.DoChan(key, func() (interface{}, error) {
		return s.lookup(shared, key, district)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return models.Schedule{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return models.Schedule{}, res.Err
	}

	result.Dates = append([]string{}, res.Val.([]string)...)
	if logger != nil {
		logger.Debug("dates served",
			zap.String("district", district),
			zap.Bool("cached", false),
			zap.Bool("shared", res.Shared),
			zap.Int("dates", len(result.Dates)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return result, nil
}

// lookup searches every plan and caches the combined dates on success.
func (s *ScheduleService) lookup(ctx context.Context, key, district string) ([]string, error) {
	logger := observability.LoggerFromContext(ctx)
	dates := []string{}

	for _, plan := range s.plans {
		pages, err := s.tables.Get(ctx, plan)
		if errors.Is(err, client.ErrPlanNotFound) {
			observability.DistrictLookupsTotal.WithLabelValues("plan_missing").Inc()
			if logger != nil {
				logger.Warn("plan not found, skipping", zap.String("url", plan.URL))
			}
			continue
		}
		if err != nil {
			observability.DistrictLookupsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("load plan %s: %w", plan.URL, err)
		}

		found, err := schedule.FindDates(pages, district)
		if err != nil {
			observability.DistrictLookupsTotal.WithLabelValues("not_found").Inc()
			return nil, err
		}
		observability.DistrictLookupsTotal.WithLabelValues("found").Inc()
		dates = append(dates, found...)
	}

	if err := s.cache.Set(ctx, key, dates, s.ttl); err != nil && logger != nil {
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return dates, nil
}

// LoadedPlans returns how many plans have been downloaded and extracted so far.
func (s *ScheduleService) LoadedPlans() int {
	return s.tables.Len()
}

// Invalidate drops the cached dates of district.
func (s *ScheduleService) Invalidate(ctx context.Context, district string) error {
	return s.cache.Delete(ctx, cache.Key(s.landkreis, normalizeDistrict(district)))
}

// normalizeDistrict trims and NFC-normalises a district so equivalent spellings share a cache entry.
func normalizeDistrict(district string) string {
	return norm.NFC.String(strings.TrimSpace(district))
}
