package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/blaue-tonne-service/internal/client"
)

const minimalYAML = `
plans:
  - url: https://example.org/abfuhr/plan.pdf
    pages: "1,2"
`

// setupConfigDir writes test.yaml into a temp dir and points Load at it.
func setupConfigDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("ENV_NAME", "test")
	for _, key := range []string{"PORT", "CACHE_BACKEND", "MEMCACHED_ADDRS", "LANDKREIS"} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	setupConfigDir(t, minimalYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Landkreis != "lk_rosenheim" {
		t.Errorf("Landkreis = %q, want lk_rosenheim", cfg.Landkreis)
	}
	if len(cfg.Plans) != 1 || cfg.Plans[0].URL != "https://example.org/abfuhr/plan.pdf" {
		t.Fatalf("Plans = %+v", cfg.Plans)
	}
	if !reflect.DeepEqual(cfg.Plans[0].Pages, []int{1, 2}) {
		t.Errorf("Pages = %v, want [1 2]", cfg.Plans[0].Pages)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.CacheTTL != 0 {
		t.Errorf("CacheTTL = %v, want 0 (process lifetime)", cfg.CacheTTL)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory", cfg.CacheBackend)
	}
	if cfg.RetryAttempts != 1 {
		t.Errorf("RetryAttempts = %d, want 1", cfg.RetryAttempts)
	}
	if cfg.CircuitFailureThreshold != 0 {
		t.Errorf("CircuitFailureThreshold = %d, want 0 (disabled)", cfg.CircuitFailureThreshold)
	}
	if cfg.PlanFetchTimeout != 10*time.Second {
		t.Errorf("PlanFetchTimeout = %v, want 10s", cfg.PlanFetchTimeout)
	}
	if cfg.PlanMaxBytes != client.DefaultMaxBytes {
		t.Errorf("PlanMaxBytes = %d, want %d", cfg.PlanMaxBytes, client.DefaultMaxBytes)
	}
	if cfg.DistrictMinLength != 1 || cfg.DistrictMaxLength != 100 {
		t.Errorf("district length bounds = %d..%d, want 1..100", cfg.DistrictMinLength, cfg.DistrictMaxLength)
	}
}

func TestLoad_FullFile(t *testing.T) {
	setupConfigDir(t, `
landkreis: lk_traunstein
plans:
  - url: https://example.org/a.pdf
    pages: "3"
  - url: https://example.org/b.PDF
server:
  port: "9090"
plan_fetch:
  timeout: 5s
  max_bytes: 1024
request:
  timeout: 20s
cache:
  backend: Memcached
  ttl: 12h
  memcached:
    addrs: cache1:11211,cache2:11211
    timeout: 100ms
    max_idle_conns: 4
  warm:
    districts: [Aschau, Kolbermoor]
    interval: 6h
reliability:
  retry_max_attempts: 3
  retry_base_delay: 50ms
  retry_max_delay: 1s
  rate_limit_rps: 7
  rate_limit_burst: 9
  circuit_breaker:
    failure_threshold: 4
    success_threshold: 2
    open_timeout: 45s
shutdown:
  timeout: 10s
lifecycle:
  degraded_window: 2m
  degraded_error_pct: 30
validation:
  district_min_length: 2
  district_max_length: 60
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Landkreis", cfg.Landkreis, "lk_traunstein"},
		{"Plans[0].Pages", cfg.Plans[0].Pages, []int{3}},
		{"Plans[1].Pages", cfg.Plans[1].Pages, []int{1}},
		{"ServerPort", cfg.ServerPort, "9090"},
		{"PlanFetchTimeout", cfg.PlanFetchTimeout, 5 * time.Second},
		{"PlanMaxBytes", cfg.PlanMaxBytes, int64(1024)},
		{"RequestTimeout", cfg.RequestTimeout, 20 * time.Second},
		{"CacheBackend", cfg.CacheBackend, "memcached"},
		{"CacheTTL", cfg.CacheTTL, 12 * time.Hour},
		{"MemcachedAddrs", cfg.MemcachedAddrs, "cache1:11211,cache2:11211"},
		{"MemcachedTimeout", cfg.MemcachedTimeout, 100 * time.Millisecond},
		{"MemcachedMaxIdleConns", cfg.MemcachedMaxIdleConns, 4},
		{"WarmDistricts", cfg.WarmDistricts, []string{"Aschau", "Kolbermoor"}},
		{"WarmInterval", cfg.WarmInterval, 6 * time.Hour},
		{"RetryAttempts", cfg.RetryAttempts, 3},
		{"RetryBaseDelay", cfg.RetryBaseDelay, 50 * time.Millisecond},
		{"RetryMaxDelay", cfg.RetryMaxDelay, time.Second},
		{"RateLimitRPS", cfg.RateLimitRPS, 7},
		{"RateLimitBurst", cfg.RateLimitBurst, 9},
		{"CircuitFailureThreshold", cfg.CircuitFailureThreshold, 4},
		{"CircuitSuccessThreshold", cfg.CircuitSuccessThreshold, 2},
		{"CircuitOpenTimeout", cfg.CircuitOpenTimeout, 45 * time.Second},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 10 * time.Second},
		{"DegradedWindow", cfg.DegradedWindow, 2 * time.Minute},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 30},
		{"DistrictMinLength", cfg.DistrictMinLength, 2},
		{"DistrictMaxLength", cfg.DistrictMaxLength, 60},
	}
	for _, c := range checks {
		if !reflect.DeepEqual(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setupConfigDir(t, minimalYAML+"cache:\n  backend: in_memory\n")
	t.Setenv("PORT", "7070")
	t.Setenv("CACHE_BACKEND", "memcached")
	t.Setenv("MEMCACHED_ADDRS", "mc:11211")
	t.Setenv("LANDKREIS", "lk_muenchen")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "7070" {
		t.Errorf("ServerPort = %q, want 7070", cfg.ServerPort)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "mc:11211" {
		t.Errorf("MemcachedAddrs = %q, want mc:11211", cfg.MemcachedAddrs)
	}
	if cfg.Landkreis != "lk_muenchen" {
		t.Errorf("Landkreis = %q, want lk_muenchen", cfg.Landkreis)
	}
}

func TestLoad_RequestTimeoutCoversPlanFetch(t *testing.T) {
	setupConfigDir(t, minimalYAML+"plan_fetch:\n  timeout: 40s\nrequest:\n  timeout: 5s\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 41*time.Second {
		t.Errorf("RequestTimeout = %v, want 41s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidDurationsFallBack(t *testing.T) {
	setupConfigDir(t, minimalYAML+"shutdown:\n  timeout: soon\ncache:\n  ttl: forever\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s fallback", cfg.ShutdownTimeout)
	}
	if cfg.CacheTTL != 0 {
		t.Errorf("CacheTTL = %v, want 0 fallback", cfg.CacheTTL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no plans", "landkreis: lk_rosenheim\n", "at least one plan"},
		{"non pdf url", "plans:\n  - url: https://example.org/plan.html\n", "URL must point to a PDF file"},
		{"bad pages", "plans:\n  - url: https://example.org/a.pdf\n    pages: \"1,x\"\n", "invalid page"},
		{"zero page", "plans:\n  - url: https://example.org/a.pdf\n    pages: \"0\"\n", "1-based"},
		{"bad backend", minimalYAML + "cache:\n  backend: redis\n", "cache.backend"},
		{"negative ttl", minimalYAML + "cache:\n  ttl: -1h\n", "cache.ttl"},
		{"bad landkreis", minimalYAML + "landkreis: LK Rosenheim\n", "landkreis"},
		{"bad length bounds", minimalYAML + "validation:\n  district_min_length: 50\n  district_max_length: 10\n", "district_min_length"},
		{"negative rps", minimalYAML + "reliability:\n  rate_limit_rps: -1\n", "rate_limit_rps"},
		{"bad pct", minimalYAML + "lifecycle:\n  degraded_error_pct: 150\n", "degraded_error_pct"},
		{"bad yaml", "plans: [\n", "parse config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupConfigDir(t, tt.yaml)

			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tt.wantErr)
			}
			if cfg != nil {
				t.Errorf("Load() config = %+v, want nil on error", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimit(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantRPS   int
		wantBurst int
	}{
		{"omitted uses default", minimalYAML, 20, 50},
		{"explicit zero disables", minimalYAML + "reliability:\n  rate_limit_rps: 0\n", 0, 50},
		{"explicit value", minimalYAML + "reliability:\n  rate_limit_rps: 3\n  rate_limit_burst: 4\n", 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupConfigDir(t, tt.yaml)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.RateLimitRPS != tt.wantRPS || cfg.RateLimitBurst != tt.wantBurst {
				t.Errorf("rate limit = %d/%d, want %d/%d", cfg.RateLimitRPS, cfg.RateLimitBurst, tt.wantRPS, tt.wantBurst)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	setupConfigDir(t, minimalYAML)
	t.Setenv("ENV_NAME", "staging")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_RepositoryConfigs(t *testing.T) {
	for _, name := range []string{"dev", "prod"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CONFIG_DIR", filepath.Join("..", "..", "config"))
			t.Setenv("ENV_NAME", name)
			for _, key := range []string{"PORT", "CACHE_BACKEND", "MEMCACHED_ADDRS", "LANDKREIS"} {
				t.Setenv(key, "")
			}

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(cfg.Plans) == 0 {
				t.Error("no plans configured")
			}
		})
	}
}

func TestParsePages(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"", []int{1}, false},
		{"1,2", []int{1, 2}, false},
		{" 2 , 4 ", []int{2, 4}, false},
		{"1,,2", nil, true},
		{"-1", nil, true},
		{"one", nil, true},
	}
	for _, tt := range tests {
		got, err := ParsePages(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePages(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParsePages(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDurationOrZero(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"", time.Minute, time.Minute},
		{"0", time.Minute, 0},
		{"0s", time.Minute, 0},
		{"90s", 0, 90 * time.Second},
		{"bogus", time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := parseDurationOrZero(tt.in, tt.def); got != tt.want {
			t.Errorf("parseDurationOrZero(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
