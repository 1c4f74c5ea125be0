//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/blaue-tonne-service/internal/cache"
	"github.com/kjstillabower/blaue-tonne-service/internal/client"
	"github.com/kjstillabower/blaue-tonne-service/internal/config"
	"github.com/kjstillabower/blaue-tonne-service/internal/models"
)

// DefaultLivePlanURL is the published 2025 schedule for Landkreis Rosenheim.
const DefaultLivePlanURL = "https://chiemgau-recycling.de/wp-content/uploads/2025/01/Abfuhrplan_LK_Rosenheim_2025.pdf"

// IntegrationTestConfig holds configuration for tests against the live plan.
type IntegrationTestConfig struct {
	Plan          models.Plan
	District      string // a district known to be in Plan; empty skips positive lookups
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless INTEGRATION_LIVE_PLAN=1, since it downloads from a third-party site.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_LIVE_PLAN") != "1" {
		t.Skip("INTEGRATION_LIVE_PLAN not set, skipping live plan test")
	}

	planURL := os.Getenv("INTEGRATION_PLAN_URL")
	if planURL == "" {
		planURL = DefaultLivePlanURL
	}
	pages := []int{1, 2}
	if s := os.Getenv("INTEGRATION_PLAN_PAGES"); s != "" {
		var err error
		if pages, err = config.ParsePages(s); err != nil {
			t.Fatalf("INTEGRATION_PLAN_PAGES: %v", err)
		}
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		Plan:          models.Plan{URL: planURL, Pages: pages},
		District:      os.Getenv("INTEGRATION_DISTRICT"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// NewIntegrationCache returns the configured cache backend. Memcached falls back to
// the in-memory cache when the server is unreachable. Cleanup is registered on t.
func NewIntegrationCache(t *testing.T, cfg IntegrationTestConfig) cache.Cache {
	t.Helper()
	if cfg.CacheBackend != "memcached" {
		return cache.NewInMemoryCache()
	}
	mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
	if err == nil {
		err = mc.Ping()
	}
	if err != nil {
		t.Logf("Memcached not available (%v), using in-memory cache", err)
		return cache.NewInMemoryCache()
	}
	t.Cleanup(func() { _ = mc.Close() })
	t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
	return mc
}

// NewIntegrationClient returns a plan client with production-like timeouts and one retry.
func NewIntegrationClient(t *testing.T) *client.HTTPPlanClient {
	t.Helper()
	return client.NewHTTPPlanClientWithOptions(client.Options{
		Timeout:       30 * time.Second,
		RetryAttempts: 2,
	})
}
