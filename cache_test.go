package main

import (
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	cache := newTTLCache()

	cache.put("a", 42, time.Minute)
	got, ok := cache.get("a")
	if !ok {
		t.Fatal("expected hit for fresh entry")
	}
	if got.(int) != 42 {
		t.Errorf("expected 42, got %v", got)
	}

	if _, ok := cache.get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCacheExpiry(t *testing.T) {
	cache := newTTLCache()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	cache.now = func() time.Time { return now }

	cache.put("k", "v", 5*time.Minute)

	now = base.Add(4 * time.Minute)
	if _, ok := cache.get("k"); !ok {
		t.Error("entry should still be alive before its TTL")
	}

	now = base.Add(6 * time.Minute)
	if _, ok := cache.get("k"); ok {
		t.Error("entry should be gone after its TTL")
	}

	// Lazy eviction removed the entry, so it stays gone even if the clock moves back.
	now = base
	if _, ok := cache.get("k"); ok {
		t.Error("expired entry should have been evicted on read")
	}
}

func TestCacheZeroTTLIsNoop(t *testing.T) {
	cache := newTTLCache()
	cache.put("k", "v", 0)
	if _, ok := cache.get("k"); ok {
		t.Error("ttl <= 0 should not store anything")
	}
	cache.put("k", "v", -time.Second)
	if _, ok := cache.get("k"); ok {
		t.Error("negative ttl should not store anything")
	}
}

func TestCacheKeyDeterministic(t *testing.T) {
	a := cacheKey("/candles/days", map[string]string{"market": "KRW-BTC", "count": "200"})
	b := cacheKey("/candles/days", map[string]string{"count": "200", "market": "KRW-BTC"})
	if a != b {
		t.Errorf("same logical request should produce the same key: %q vs %q", a, b)
	}

	c := cacheKey("/candles/days", map[string]string{"count": "200", "market": "KRW-ETH"})
	if a == c {
		t.Error("different params should produce different keys")
	}

	if cacheKey("/ticker", nil) != "/ticker" {
		t.Error("no params should key on the path alone")
	}
}
