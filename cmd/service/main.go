package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/blaue-tonne-service/internal/cache"
	"github.com/kjstillabower/blaue-tonne-service/internal/circuitbreaker"
	"github.com/kjstillabower/blaue-tonne-service/internal/client"
	"github.com/kjstillabower/blaue-tonne-service/internal/config"
	httphandler "github.com/kjstillabower/blaue-tonne-service/internal/http"
	"github.com/kjstillabower/blaue-tonne-service/internal/lifecycle"
	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
	"github.com/kjstillabower/blaue-tonne-service/internal/service"
)

const (
	planSourceComponent      = "plan_source"
	startupWarmTimeout       = 2 * time.Minute
	inFlightCheckInterval    = 100 * time.Millisecond
	inFlightDrainTimeout     = 5 * time.Second
	serverReadTimeout        = 10 * time.Second
	serverWriteTimeoutMargin = 5 * time.Second
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("config loaded",
		zap.String("landkreis", cfg.Landkreis),
		zap.Int("plans", len(cfg.Plans)),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("cache_ttl", cfg.CacheTTL))

	planClient := newPlanClient(cfg, logger)

	cacheSvc, memcached, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	logger.Info("cache backend ready", zap.String("backend", cfg.CacheBackend))

	scheduleService := service.NewScheduleService(planClient, cacheSvc, service.Config{
		Landkreis: cfg.Landkreis,
		Plans:     cfg.Plans,
		CacheTTL:  cfg.CacheTTL,
	})

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StartTime:        time.Now(),
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}

	handler := httphandler.NewHandler(scheduleService, healthConfig, logger, httphandler.Options{
		DistrictMinLength: cfg.DistrictMinLength,
		DistrictMaxLength: cfg.DistrictMaxLength,
	})
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Landkreis:      cfg.Landkreis,
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        newLimiter(cfg),
	}, logger)
	observability.RegisterRateLimitGauges(cfg.DegradedWindow)

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	startWarming(warmCtx, cfg, cache.NewCacheWarmer(scheduleService, logger), logger)

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: serverReadTimeout,
		// Cold lookups download and parse a PDF; leave room beyond the request timeout.
		WriteTimeout: cfg.RequestTimeout + serverWriteTimeoutMargin,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopWarming()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), inFlightDrainTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newPlanClient builds the PDF client, guarded by a circuit breaker when a failure threshold is set.
func newPlanClient(cfg *config.Config, logger *zap.Logger) *client.HTTPPlanClient {
	planClient := client.NewHTTPPlanClientWithOptions(client.Options{
		Timeout:        cfg.PlanFetchTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		MaxBytes:       cfg.PlanMaxBytes,
	})
	if cfg.CircuitFailureThreshold <= 0 {
		return planClient
	}

	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitFailureThreshold,
		SuccessThreshold: cfg.CircuitSuccessThreshold,
		Timeout:          cfg.CircuitOpenTimeout,
		Component:        planSourceComponent,
		IsFailure:        client.IsBreakerFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(planSourceComponent, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", planSourceComponent),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	planClient.SetCircuitBreaker(cb)
	observability.CircuitBreakerState.WithLabelValues(planSourceComponent).Set(float64(circuitbreaker.StateClosed))
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.CircuitFailureThreshold),
		zap.Duration("open_timeout", cfg.CircuitOpenTimeout))
	return planClient
}

// newCache returns the configured backend. The memcached handle is also returned so main
// can ping and close it; it is nil for the in-memory backend.
func newCache(cfg *config.Config) (cache.Cache, *cache.MemcachedCache, error) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, fmt.Errorf("memcached: %w", err)
		}
		return mc, mc, nil
	case "in_memory", "":
		return cache.NewInMemoryCache(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// newLimiter returns nil when rate limiting is disabled.
func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = cfg.RateLimitRPS
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
}

// startWarming preloads the configured districts. With an interval it keeps refreshing
// in the background until ctx is cancelled; otherwise it warms once before serving.
func startWarming(ctx context.Context, cfg *config.Config, warmer *cache.CacheWarmer, logger *zap.Logger) {
	if len(cfg.WarmDistricts) == 0 {
		return
	}
	if cfg.WarmInterval > 0 {
		go func() {
			if err := warmer.WarmPeriodic(ctx, cfg.WarmDistricts, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
		return
	}
	warmCtx, cancel := context.WithTimeout(ctx, startupWarmTimeout)
	defer cancel()
	if err := warmer.Warm(warmCtx, cfg.WarmDistricts); err != nil {
		logger.Warn("cache warming failed", zap.Error(err))
	}
}
