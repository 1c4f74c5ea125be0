package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/blaue-tonne-service/internal/client"
	"github.com/kjstillabower/blaue-tonne-service/internal/models"
	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
	"github.com/kjstillabower/blaue-tonne-service/internal/pdftable"
)

type extractFunc func(data []byte, pages []int) ([]pdftable.PageTables, error)

// planTables memoises the extracted tables of each plan for the process lifetime.
// Failed loads are not memoised. Concurrent loads of one plan share a single download.
type planTables struct {
	client  client.PlanClient
	extract extractFunc

	mu    sync.RWMutex
	memo  map[string][]pdftable.PageTables
	group singleflight.Group
}

func newPlanTables(c client.PlanClient, extract extractFunc) *planTables {
	return &planTables{
		client:  c,
		extract: extract,
		memo:    make(map[string][]pdftable.PageTables),
	}
}

func planKey(plan models.Plan) string {
	pages := make([]string, len(plan.Pages))
	for i, p := range plan.Pages {
		pages[i] = strconv.Itoa(p)
	}
	return plan.URL + "#" + strings.Join(pages, ",")
}

// Get returns the tables on the plan's pages, downloading and extracting on first use.
func (t *planTables) Get(ctx context.Context, plan models.Plan) ([]pdftable.PageTables, error) {
	key := planKey(plan)
	if pages, ok := t.cached(key); ok {
		observability.CacheHitsTotal.WithLabelValues("plan").Inc()
		return pages, nil
	}
	observability.CacheMissesTotal.WithLabelValues("plan").Inc()

	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		if pages, ok := t.cached(key); ok {
			return pages, nil
		}
		pages, err := t.load(ctx, plan)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.memo[key] = pages
		t.mu.Unlock()
		return pages, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]pdftable.PageTables), nil
}

func (t *planTables) load(ctx context.Context, plan models.Plan) ([]pdftable.PageTables, error) {
	data, err := t.client.FetchPDF(ctx, plan.URL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pages, err := t.extract(data, plan.Pages)
	observability.PDFExtractDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("extract tables: %w", err)
	}

	tables := 0
	for _, p := range pages {
		tables += len(p.Tables)
	}
	observability.PDFTablesExtracted.Observe(float64(tables))
	if logger := observability.LoggerFromContext(ctx); logger != nil {
		logger.Info("plan loaded",
			zap.String("url", plan.URL),
			zap.Ints("pages", plan.Pages),
			zap.Int("bytes", len(data)),
			zap.Int("tables", tables),
		)
	}
	return pages, nil
}

func (t *planTables) cached(key string) ([]pdftable.PageTables, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pages, ok := t.memo[key]
	return pages, ok
}

// Len returns the number of memoised plans.
func (t *planTables) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.memo)
}
