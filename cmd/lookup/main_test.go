package main

import (
	"testing"

	"github.com/kjstillabower/blaue-tonne-service/internal/cache"
	"github.com/kjstillabower/blaue-tonne-service/internal/config"
	"github.com/kjstillabower/blaue-tonne-service/internal/lookup"
	"github.com/kjstillabower/blaue-tonne-service/internal/service"
)

var _ lookup.Fetcher = (*service.ScheduleService)(nil)

func TestNewCache(t *testing.T) {
	c, closeCache, err := newCache(&config.Config{CacheBackend: "in_memory"})
	if err != nil {
		t.Fatalf("in_memory: err = %v", err)
	}
	closeCache()
	if _, ok := c.(*cache.InMemoryCache); !ok {
		t.Errorf("in_memory backend = %T", c)
	}

	c, closeCache, err = newCache(&config.Config{CacheBackend: "memcached", MemcachedAddrs: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("memcached: err = %v", err)
	}
	defer closeCache()
	if _, ok := c.(*cache.MemcachedCache); !ok {
		t.Errorf("memcached backend = %T", c)
	}
}
