package ratelimit

import (
	"testing"
	"time"
)

func TestClientKey(t *testing.T) {
	cases := []struct {
		name string
		xff  string
		xrip string
		want string
	}{
		{"first xff hop", "203.0.113.9, 10.0.0.1, 10.0.0.2", "", "203.0.113.9"},
		{"single xff", "203.0.113.9", "", "203.0.113.9"},
		{"xff with spaces", "  203.0.113.9 , 10.0.0.1", "", "203.0.113.9"},
		{"xff wins over xrip", "203.0.113.9", "198.51.100.7", "203.0.113.9"},
		{"xrip fallback", "", "198.51.100.7", "198.51.100.7"},
		{"xrip trimmed", "", " 198.51.100.7 ", "198.51.100.7"},
		{"empty first hop falls through", " , 10.0.0.1", "198.51.100.7", "198.51.100.7"},
		{"nothing", "", "", "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClientKey(tc.xff, tc.xrip); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		resetAt time.Time
		want    int
	}{
		{"rounds up", now.Add(1500 * time.Millisecond), 2},
		{"whole seconds", now.Add(30 * time.Second), 30},
		{"minimum one", now.Add(10 * time.Millisecond), 1},
		{"already past", now.Add(-time.Second), 1},
		{"exactly now", now, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RetryAfter(tc.resetAt, now); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}
