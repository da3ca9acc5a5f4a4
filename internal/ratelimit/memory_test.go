package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryLimiter_AllowsUpToMax(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := l.Check(ctx, "1.2.3.4")
		if err != nil {
			t.Fatal(err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if dec.Remaining != 3-(i+1) {
			t.Errorf("request %d: remaining = %d, want %d", i+1, dec.Remaining, 3-(i+1))
		}
	}

	dec, _ := l.Check(ctx, "1.2.3.4")
	if dec.Allowed {
		t.Error("request over the limit should be denied")
	}
	if dec.Remaining != 0 {
		t.Errorf("denied decision remaining = %d, want 0", dec.Remaining)
	}
	if dec.ResetAt.IsZero() {
		t.Error("denied decision must carry the window reset time")
	}
}

func TestMemoryLimiter_IndependentKeys(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 1)
	ctx := context.Background()

	if dec, _ := l.Check(ctx, "1.2.3.4"); !dec.Allowed {
		t.Fatal("first key should be allowed")
	}
	if dec, _ := l.Check(ctx, "5.6.7.8"); !dec.Allowed {
		t.Error("a different key must have its own window")
	}
	if dec, _ := l.Check(ctx, "1.2.3.4"); dec.Allowed {
		t.Error("first key should now be denied")
	}
}

func TestMemoryLimiter_WindowReset(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	l := NewMemoryLimiter(time.Minute, 1)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if dec, _ := l.Check(ctx, "k"); !dec.Allowed {
		t.Fatal("first request should pass")
	}
	if dec, _ := l.Check(ctx, "k"); dec.Allowed {
		t.Fatal("second request in the window should be denied")
	}

	// Just before the boundary: still denied.
	now = base.Add(time.Minute - time.Nanosecond)
	if dec, _ := l.Check(ctx, "k"); dec.Allowed {
		t.Error("request before the reset should still be denied")
	}

	// At the boundary the window resets.
	now = base.Add(time.Minute)
	dec, _ := l.Check(ctx, "k")
	if !dec.Allowed {
		t.Error("request at the reset time should start a fresh window")
	}
	if want := now.Add(time.Minute); !dec.ResetAt.Equal(want) {
		t.Errorf("new window resetAt = %v, want %v", dec.ResetAt, want)
	}
}

func TestMemoryLimiter_ConcurrentBurstExactCount(t *testing.T) {
	const max = 50
	l := NewMemoryLimiter(time.Minute, max)
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make(chan bool, max*2)
	for i := 0; i < max*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, _ := l.Check(ctx, "burst")
			allowed <- dec.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != max {
		t.Errorf("exactly %d requests should pass, got %d", max, count)
	}
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	l := NewMemoryLimiter(time.Minute, 5)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Check(ctx, fmt.Sprintf("key-%d", i)) //nolint:errcheck
	}

	now = base.Add(2 * time.Minute)
	l.Sweep()

	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	if total != 0 {
		t.Errorf("expected all expired entries swept, %d remain", total)
	}
}
