package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/blaue-tonne-service/internal/models"
	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
)

// DatesFetcher is implemented by the service layer. Declared here to keep the
// cache package free of a service import.
type DatesFetcher interface {
	GetDates(ctx context.Context, district string) (models.Schedule, error)
}

// CacheWarmer prefetches the dates of frequently requested districts.
type CacheWarmer struct {
	fetcher DatesFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer. logger may be nil.
func NewCacheWarmer(fetcher DatesFetcher, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches every district concurrently so the fetcher populates its cache.
// The returned error joins all per-district failures.
func (w *CacheWarmer) Warm(ctx context.Context, districts []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("districts", len(districts)))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, district := range districts {
		wg.Add(1)
		go func(district string) {
			defer wg.Done()
			if _, err := w.fetcher.GetDates(ctx, district); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", district, err))
				mu.Unlock()
			}
		}(district)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("districts", len(districts)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", duration),
		)
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs Warm once, then again every interval until ctx is done.
// Refreshes only re-fetch districts whose entries have expired.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, districts []string, interval time.Duration) error {
	if err := w.Warm(ctx, districts); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, districts); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
