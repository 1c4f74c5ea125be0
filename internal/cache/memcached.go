package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
)

const (
	keyPrefix = "blaue-tonne:"

	// memcached treats expirations above 30 days as absolute unix timestamps.
	maxRelativeExp = 30 * 24 * 60 * 60

	// memcached rejects keys longer than this.
	maxKeyLength = 250
)

var ErrKeyTooLong = errors.New("cache key too long")

// MemcachedCache implements Cache on memcached. Values are JSON arrays.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// such as "localhost:11211" or "host1:11211,host2:11211". Zero timeout and
// maxIdleConns keep the client defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key escapes k so district names with spaces or umlauts are valid memcached keys.
func (c *MemcachedCache) key(k string) (string, error) {
	full := keyPrefix + url.QueryEscape(k)
	if len(full) > maxKeyLength {
		return "", ErrKeyTooLong
	}
	return full, nil
}

// Get implements Cache.Get. Returns (nil, false, nil) on miss.
func (c *MemcachedCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	k, err := c.key(key)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	item, err := c.client.Get(k)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			observeOp("get", "miss", start)
			return nil, false, nil
		}
		observeOp("get", "error", start)
		observability.CacheErrorsTotal.WithLabelValues("get", errorCategory(err)).Inc()
		return nil, false, err
	}
	observeOp("get", "hit", start)

	var dates []string
	if err := json.Unmarshal(item.Value, &dates); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", "decode").Inc()
		return nil, false, err
	}
	if dates == nil {
		dates = []string{}
	}
	return dates, true, nil
}

// Set implements Cache.Set. A zero ttl stores without expiry; ttls beyond
// memcached's relative limit are clamped to 30 days.
func (c *MemcachedCache) Set(ctx context.Context, key string, dates []string, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	k, err := c.key(key)
	if err != nil {
		return err
	}
	if dates == nil {
		dates = []string{}
	}
	raw, err := json.Marshal(dates)
	if err != nil {
		return err
	}

	start := time.Now()
	err = c.client.Set(&memcache.Item{
		Key:        k,
		Value:      raw,
		Expiration: expiration(ttl),
	})
	if err != nil {
		observeOp("set", "error", start)
		observability.CacheErrorsTotal.WithLabelValues("set", errorCategory(err)).Inc()
		return err
	}
	observeOp("set", "ok", start)
	return nil
}

// Delete implements Cache.Delete. A missing key is not an error.
func (c *MemcachedCache) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	k, err := c.key(key)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := c.client.Delete(k); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		observeOp("delete", "error", start)
		observability.CacheErrorsTotal.WithLabelValues("delete", errorCategory(err)).Inc()
		return err
	}
	observeOp("delete", "ok", start)
	return nil
}

// Ping checks that every memcached server answers. Used by /health.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes idle connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

func expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	sec := int64(ttl / time.Second)
	if sec < 1 {
		sec = 1
	}
	if sec > maxRelativeExp {
		sec = maxRelativeExp
	}
	return int32(sec)
}

func observeOp(op, result string, start time.Time) {
	observability.CacheOperationDurationSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

func errorCategory(err error) string {
	var connectErr *memcache.ConnectTimeoutError
	switch {
	case errors.As(err, &connectErr):
		return "connect_timeout"
	case errors.Is(err, memcache.ErrNoServers):
		return "no_servers"
	case errors.Is(err, memcache.ErrServerError):
		return "server_error"
	case errors.Is(err, memcache.ErrMalformedKey):
		return "malformed_key"
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return "timeout"
	}
	return "unknown"
}
