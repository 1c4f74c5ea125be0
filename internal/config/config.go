package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/blaue-tonne-service/internal/client"
	"github.com/kjstillabower/blaue-tonne-service/internal/models"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	Landkreis string
	Plans     []models.Plan

	ServerPort string

	PlanFetchTimeout time.Duration
	PlanMaxBytes     int64
	RequestTimeout   time.Duration

	// CacheTTL of zero keeps dates for the process lifetime.
	CacheTTL     time.Duration
	CacheBackend string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RateLimitRPS of zero disables the limiter.
	RateLimitRPS   int
	RateLimitBurst int

	// CircuitFailureThreshold of zero disables the breaker.
	CircuitFailureThreshold int
	CircuitSuccessThreshold int
	CircuitOpenTimeout      time.Duration

	ShutdownTimeout time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	WarmDistricts []string
	WarmInterval  time.Duration

	DistrictMinLength int
	DistrictMaxLength int
}

// envOverrides are the variables that take precedence over the YAML file.
type envOverrides struct {
	EnvName        string `env:"ENV_NAME" envDefault:"dev"`
	ConfigDir      string `env:"CONFIG_DIR"`
	Port           string `env:"PORT"`
	CacheBackend   string `env:"CACHE_BACKEND"`
	MemcachedAddrs string `env:"MEMCACHED_ADDRS"`
	Landkreis      string `env:"LANDKREIS"`
}

type filePlan struct {
	URL   string `yaml:"url"`
	Pages string `yaml:"pages"`
}

type fileConfig struct {
	Landkreis string     `yaml:"landkreis"`
	Plans     []filePlan `yaml:"plans"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	PlanFetch struct {
		Timeout  string `yaml:"timeout"`
		MaxBytes int64  `yaml:"max_bytes"`
	} `yaml:"plan_fetch"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm struct {
			Districts []string `yaml:"districts"`
			Interval  string   `yaml:"interval"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     *int   `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Validation struct {
		DistrictMinLength int `yaml:"district_min_length"`
		DistrictMaxLength int `yaml:"district_max_length"`
	} `yaml:"validation"`
}

var landkreisPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Load reads config/{ENV_NAME}.yaml (default dev) relative to the working
// directory, or CONFIG_DIR when set, then applies env overrides.
func Load() (*Config, error) {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	dir := ov.ConfigDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: get working directory: %w", err)
		}
		dir = filepath.Join(cwd, "config")
	}
	return loadFile(filepath.Join(dir, ov.EnvName+".yaml"), ov)
}

func loadFile(configPath string, ov envOverrides) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.Landkreis = firstNonEmpty(ov.Landkreis, fc.Landkreis, "lk_rosenheim")
	for i, p := range fc.Plans {
		pages, err := ParsePages(p.Pages)
		if err != nil {
			return nil, fmt.Errorf("plans[%d]: %w", i, err)
		}
		cfg.Plans = append(cfg.Plans, models.Plan{URL: strings.TrimSpace(p.URL), Pages: pages})
	}

	cfg.ServerPort = firstNonEmpty(ov.Port, fc.Server.Port, "8080")

	cfg.PlanFetchTimeout = parseDuration(fc.PlanFetch.Timeout, 10*time.Second)
	cfg.PlanMaxBytes = fc.PlanFetch.MaxBytes
	if cfg.PlanMaxBytes <= 0 {
		cfg.PlanMaxBytes = client.DefaultMaxBytes
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)

	cfg.CacheTTL = parseDurationOrZero(fc.Cache.TTL, 0)
	cfg.CacheBackend = strings.ToLower(firstNonEmpty(ov.CacheBackend, fc.Cache.Backend, "in_memory"))
	cfg.MemcachedAddrs = firstNonEmpty(ov.MemcachedAddrs, fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.WarmDistricts = fc.Cache.Warm.Districts
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	// An explicit 0 disables rate limiting; omitting the key keeps the default.
	cfg.RateLimitRPS = 20
	if fc.Reliability.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.Reliability.RateLimitRPS
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 50
	}
	cfg.CircuitFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	cfg.CircuitSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	if cfg.CircuitSuccessThreshold <= 0 {
		cfg.CircuitSuccessThreshold = 1
	}
	cfg.CircuitOpenTimeout = parseDuration(fc.Reliability.CircuitBreaker.OpenTimeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.DistrictMinLength = fc.Validation.DistrictMinLength
	if cfg.DistrictMinLength <= 0 {
		cfg.DistrictMinLength = 1
	}
	cfg.DistrictMaxLength = fc.Validation.DistrictMaxLength
	if cfg.DistrictMaxLength <= 0 {
		cfg.DistrictMaxLength = 100
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParsePages turns a page selection like "1,2" into 1-based page numbers.
// An empty selection means the first page.
func ParsePages(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{1}, nil
	}
	var pages []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid page %q", part)
		}
		if n < 1 {
			return nil, fmt.Errorf("page %d: pages are 1-based", n)
		}
		pages = append(pages, n)
	}
	return pages, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	if s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks cross-field constraints. RequestTimeout is raised to cover
// at least one plan download.
func validate(cfg *Config) error {
	var errs []error

	if !landkreisPattern.MatchString(cfg.Landkreis) {
		errs = append(errs, fmt.Errorf("landkreis %q must match %s", cfg.Landkreis, landkreisPattern))
	}
	if len(cfg.Plans) == 0 {
		errs = append(errs, errors.New("at least one plan is required"))
	}
	for i, p := range cfg.Plans {
		if err := client.ValidatePlanURL(p.URL); err != nil {
			errs = append(errs, fmt.Errorf("plans[%d].url %q: %w", i, p.URL, err))
		}
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend))
	}
	if cfg.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative, got %s", cfg.CacheTTL))
	}
	if cfg.WarmInterval < 0 {
		errs = append(errs, fmt.Errorf("cache.warm.interval must not be negative, got %s", cfg.WarmInterval))
	}
	if cfg.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("reliability.rate_limit_rps must not be negative, got %d", cfg.RateLimitRPS))
	}
	if cfg.DegradedErrorPct > 100 {
		errs = append(errs, fmt.Errorf("lifecycle.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct))
	}
	if cfg.DistrictMinLength > cfg.DistrictMaxLength {
		errs = append(errs, fmt.Errorf("validation.district_min_length %d exceeds max %d", cfg.DistrictMinLength, cfg.DistrictMaxLength))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if cfg.RequestTimeout <= cfg.PlanFetchTimeout {
		cfg.RequestTimeout = cfg.PlanFetchTimeout + time.Second
	}
	return nil
}
