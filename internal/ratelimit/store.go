// Package ratelimit implements the per-client window counters consulted by
// admission control.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Limits configures a fixed window: at most MaxPerWindow requests are allowed
// per key within Window.
type Limits struct {
	MaxPerWindow int
	Window       time.Duration
}

// DefaultLimits returns 12 requests per minute.
func DefaultLimits() Limits {
	return Limits{MaxPerWindow: 12, Window: time.Minute}
}

// Decision is the outcome of one check-and-increment.
type Decision struct {
	Allowed   bool
	Limit     int
	Count     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the time left in the current window, rounded up to whole
// seconds and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	left := d.ResetAt.Sub(now)
	secs := int64(math.Ceil(left.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Store counts requests per key. CheckAndIncrement is atomic per key: the
// window reset, the increment and the decision happen in one step.
type Store interface {
	CheckAndIncrement(ctx context.Context, key string) (Decision, error)
}

func decide(limits Limits, count int, resetAt time.Time) Decision {
	remaining := limits.MaxPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limits.MaxPerWindow,
		Limit:     limits.MaxPerWindow,
		Count:     count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
