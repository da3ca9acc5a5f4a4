// Package ratelimit implements the per-client fixed-window request limiter.
//
// Two interchangeable backends exist: in-process sharded counters for
// single-instance deployments, and Redis counters for multi-replica ones.
// The limiter is a soft control against runaway clients, not a security
// boundary: counters reset on process restart and clients without a
// forwarded IP share the "unknown" bucket.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter checks whether the client identified by key may proceed.
type Limiter interface {
	Check(ctx context.Context, key string) (Decision, error)
}

// ClientKey derives the rate-limit bucket for a request from its forwarded-IP
// headers: the first X-Forwarded-For hop, then X-Real-IP, then a shared
// "unknown" bucket. The shared bucket is an accepted weakness; callers
// behind proxies that strip both headers pool a single quota.
func ClientKey(xForwardedFor, xRealIP string) string {
	if xForwardedFor != "" {
		first := xForwardedFor
		if i := strings.IndexByte(first, ','); i >= 0 {
			first = first[:i]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(xRealIP); ip != "" {
		return ip
	}
	return "unknown"
}

// RetryAfter returns the Retry-After value in whole seconds for a denied
// request: the time until the window resets, rounded up, minimum 1.
func RetryAfter(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
