// Command lookup prints the collection dates of one district and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kjstillabower/blaue-tonne-service/internal/cache"
	"github.com/kjstillabower/blaue-tonne-service/internal/client"
	"github.com/kjstillabower/blaue-tonne-service/internal/config"
	"github.com/kjstillabower/blaue-tonne-service/internal/lookup"
	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
	"github.com/kjstillabower/blaue-tonne-service/internal/schedule"
	"github.com/kjstillabower/blaue-tonne-service/internal/service"
)

func main() {
	cfg, err := lookup.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		exitf(2, "parse flags: %v", err)
	}

	svcCfg, err := config.Load()
	if err != nil {
		exitf(1, "config: %v", err)
	}

	// Logs go to stderr so stdout stays machine-readable.
	logger, err := observability.NewCommandLogger()
	if err != nil {
		exitf(1, "logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	dates, closeCache, err := newCache(svcCfg)
	if err != nil {
		exitf(1, "cache: %v", err)
	}
	defer closeCache()

	svc := service.NewScheduleService(
		client.NewHTTPPlanClientWithOptions(client.Options{
			Timeout:        svcCfg.PlanFetchTimeout,
			RetryAttempts:  svcCfg.RetryAttempts,
			RetryBaseDelay: svcCfg.RetryBaseDelay,
			RetryMaxDelay:  svcCfg.RetryMaxDelay,
			MaxBytes:       svcCfg.PlanMaxBytes,
		}),
		dates,
		service.Config{Landkreis: svcCfg.Landkreis, Plans: svcCfg.Plans, CacheTTL: svcCfg.CacheTTL},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, svcCfg.RequestTimeout)
	defer cancel()
	ctx = observability.WithLogger(ctx, logger)

	if err := lookup.Run(ctx, cfg, svc, os.Stdout); err != nil {
		if errors.Is(err, schedule.ErrDistrictNotFound) {
			exitf(3, "district %q not found in %s", cfg.District, svcCfg.Landkreis)
		}
		logger.Error("lookup failed", zap.String("district", cfg.District), zap.Error(err))
		exitf(1, "lookup: %v", err)
	}
}

// newCache shares the service's memcached entries when that backend is configured,
// so -refresh drops what the server would answer from.
func newCache(cfg *config.Config) (cache.Cache, func(), error) {
	if cfg.CacheBackend != "memcached" {
		return cache.NewInMemoryCache(), func() {}, nil
	}
	mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	if err != nil {
		return nil, nil, err
	}
	return mc, func() { _ = mc.Close() }, nil
}

func exitf(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}
