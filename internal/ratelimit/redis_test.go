package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiter(t *testing.T, window time.Duration, max int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLimiter(rdb, window, max), mr
}

func TestRedisLimiter_AllowsUpToMax(t *testing.T) {
	l, _ := newRedisLimiter(t, time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := l.Check(ctx, "1.2.3.4")
		if err != nil {
			t.Fatal(err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	dec, err := l.Check(ctx, "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed {
		t.Error("request over the limit should be denied")
	}
	if time.Until(dec.ResetAt) <= 0 || time.Until(dec.ResetAt) > time.Minute {
		t.Errorf("resetAt should fall inside the window, got %v", dec.ResetAt)
	}
}

func TestRedisLimiter_IndependentKeys(t *testing.T) {
	l, _ := newRedisLimiter(t, time.Minute, 1)
	ctx := context.Background()

	if dec, _ := l.Check(ctx, "a"); !dec.Allowed {
		t.Fatal("first key should be allowed")
	}
	if dec, _ := l.Check(ctx, "b"); !dec.Allowed {
		t.Error("a different key must have its own counter")
	}
	if dec, _ := l.Check(ctx, "a"); dec.Allowed {
		t.Error("first key should now be denied")
	}
}

func TestRedisLimiter_WindowExpiry(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Minute, 1)
	ctx := context.Background()

	l.Check(ctx, "k") //nolint:errcheck
	if dec, _ := l.Check(ctx, "k"); dec.Allowed {
		t.Fatal("second request should be denied")
	}

	mr.FastForward(time.Minute + time.Second)

	if dec, _ := l.Check(ctx, "k"); !dec.Allowed {
		t.Error("counter should reset once the window TTL expires")
	}
}

func TestRedisLimiter_DegradesOpenWhenRedisDown(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Minute, 1)
	ctx := context.Background()

	mr.Close()

	dec, err := l.Check(ctx, "k")
	if err != nil {
		t.Fatalf("backend failure must not surface as an error: %v", err)
	}
	if !dec.Allowed {
		t.Error("the limiter must degrade open when Redis is unreachable")
	}
}

func TestRedisLimiter_KeysAreNamespaced(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Minute, 5)
	l.Check(context.Background(), "1.2.3.4") //nolint:errcheck

	if !mr.Exists(keyPrefix + "1.2.3.4") {
		t.Errorf("expected counter under %q", keyPrefix+"1.2.3.4")
	}
}
