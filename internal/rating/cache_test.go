package rating

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T) *ScoreCache {
	t.Helper()
	s := miniredis.RunT(t)
	cache, err := NewScoreCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("create score cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestScoreCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, 1); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, 1, 42.5); err != nil {
		t.Fatalf("set: %v", err)
	}
	score, ok, err := cache.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || score != 42.5 {
		t.Fatalf("score = %v ok = %v", score, ok)
	}
}

func TestScoreCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, 1, 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, err := cache.Get(ctx, 1); err != nil || ok {
		t.Fatalf("expected miss after invalidation, got ok=%v err=%v", ok, err)
	}
}

func TestNilCacheIsInert(t *testing.T) {
	var cache *ScoreCache
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, 1); err != nil || ok {
		t.Fatalf("nil cache Get: ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, 1, 5); err != nil {
		t.Fatalf("nil cache Set: %v", err)
	}
	if err := cache.Invalidate(ctx, 1); err != nil {
		t.Fatalf("nil cache Invalidate: %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("nil cache Close: %v", err)
	}
}
