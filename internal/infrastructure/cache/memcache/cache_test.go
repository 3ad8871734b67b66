package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

func TestCacheExpiresEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := New(10)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "k", domain.NormalizedQuery{CleanText: "wallet"}, time.Minute)
	if q, ok, _ := c.Get(ctx, "k"); !ok || q.CleanText != "wallet" {
		t.Fatalf("expected hit, got %v %+v", ok, q)
	}
	now = now.Add(time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("expected expiry at ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped")
	}
}

func TestCacheEvictsWhenFull(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := New(2)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "short", domain.NormalizedQuery{}, time.Minute)
	_ = c.Set(ctx, "long", domain.NormalizedQuery{}, time.Hour)
	_ = c.Set(ctx, "new", domain.NormalizedQuery{}, time.Hour)

	if c.Len() != 2 {
		t.Fatalf("expected bounded size, got %d", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Fatalf("expected entry closest to expiry to be evicted")
	}
	if _, ok, _ := c.Get(ctx, "long"); !ok {
		t.Fatalf("expected long entry to survive")
	}
}

func TestCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := New(0)
	_ = c.Set(context.Background(), "k", domain.NormalizedQuery{}, 0)
	if c.Len() != 0 {
		t.Fatalf("expected no entry for zero ttl")
	}
}
