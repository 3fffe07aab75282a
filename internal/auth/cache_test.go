package auth

import (
	"testing"
	"time"
)

func TestQueryCacheExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := NewQueryCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.Set(cacheKeyUser, "u1")
	if v, ok := cache.Get(cacheKeyUser); !ok || v != "u1" {
		t.Fatalf("expected cached value, got %v ok=%t", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get(cacheKeyUser); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestQueryCacheInvalidateByPrefix(t *testing.T) {
	cache := NewQueryCache(time.Minute)
	cache.Set(cacheKeyUser, 1)
	cache.Set(cacheKeySession, 2)
	cache.Set("profile/avatar", 3)

	cache.Invalidate("auth/")

	if _, ok := cache.Get(cacheKeyUser); ok {
		t.Fatalf("auth/user should be invalidated")
	}
	if _, ok := cache.Get(cacheKeySession); ok {
		t.Fatalf("auth/session should be invalidated")
	}
	if _, ok := cache.Get("profile/avatar"); !ok {
		t.Fatalf("entries outside the prefix must survive")
	}

	cache.Clear()
	if _, ok := cache.Get("profile/avatar"); ok {
		t.Fatalf("Clear should drop everything")
	}
	if !cache.GetUpdatedAt("profile/avatar").IsZero() {
		t.Fatalf("Clear should drop timestamps")
	}
}

func TestQueryCacheSetIfGenerationDropsStaleWrites(t *testing.T) {
	cache := NewQueryCache(time.Minute)

	gen := cache.Generation()
	cache.Clear()
	if cache.SetIfGeneration(cacheKeyUser, "u1", gen) {
		t.Fatalf("write started before Clear must be dropped")
	}
	if _, ok := cache.Get(cacheKeyUser); ok {
		t.Fatalf("stale value reached the cache")
	}

	gen = cache.Generation()
	cache.Invalidate("auth/")
	if cache.SetIfGeneration(cacheKeyUser, "u1", gen) {
		t.Fatalf("write started before Invalidate must be dropped")
	}

	gen = cache.Generation()
	if !cache.SetIfGeneration(cacheKeyUser, "u2", gen) {
		t.Fatalf("write with current generation should be stored")
	}
	if v, ok := cache.Get(cacheKeyUser); !ok || v != "u2" {
		t.Fatalf("expected u2, got %v ok=%t", v, ok)
	}
}
