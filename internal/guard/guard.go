// Package guard limits how often a subject may perform an action and
// remembers which keys have already been seen.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"threadline/internal/observability"

	"github.com/redis/go-redis/v9"
)

// RateGuard is a fixed-window per-(action, subject) limiter.
type RateGuard interface {
	// IsActionAllowed counts one attempt and reports whether it fits in the
	// current window. A denied attempt still counts.
	IsActionAllowed(ctx context.Context, action, subject string, max int, window time.Duration) (bool, error)
}

// ErrInvalidLimit is returned for a non-positive max or window.
var ErrInvalidLimit = errors.New("guard: max and window must be positive")

func key(action, subject string) string {
	return fmt.Sprintf("rl:%s:%s", action, subject)
}

func record(action string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	observability.GuardDecisions.WithLabelValues(action, outcome).Inc()
}

// incrWindow increments the counter and starts the window on the first hit in
// one round trip, so concurrent callers never see a key without a TTL.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisGuard keeps window counters in Redis and is shared across nodes.
type RedisGuard struct {
	rdb redis.Scripter
}

// NewRedisGuard returns a guard backed by rdb.
func NewRedisGuard(rdb redis.Scripter) *RedisGuard {
	return &RedisGuard{rdb: rdb}
}

// IsActionAllowed implements RateGuard.
func (g *RedisGuard) IsActionAllowed(ctx context.Context, action, subject string, max int, window time.Duration) (bool, error) {
	if max <= 0 || window <= 0 {
		return false, ErrInvalidLimit
	}
	ctx, span := observability.TraceRedisOperation(ctx, "rate_guard")
	defer span.End()

	n, err := incrWindow.Run(ctx, g.rdb, []string{key(action, subject)}, window.Milliseconds()).Int64()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("rate guard %s: %w", action, err)
	}
	allowed := n <= int64(max)
	record(action, allowed)
	return allowed, nil
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryGuard is a single-process RateGuard.
type MemoryGuard struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryGuard returns an in-process guard using the wall clock.
func NewMemoryGuard() *MemoryGuard {
	return NewMemoryGuardWithClock(time.Now)
}

// NewMemoryGuardWithClock returns an in-process guard using now as its clock.
func NewMemoryGuardWithClock(now func() time.Time) *MemoryGuard {
	return &MemoryGuard{windows: make(map[string]*window), now: now}
}

// IsActionAllowed implements RateGuard.
func (g *MemoryGuard) IsActionAllowed(_ context.Context, action, subject string, max int, win time.Duration) (bool, error) {
	if max <= 0 || win <= 0 {
		return false, ErrInvalidLimit
	}
	now := g.now()
	k := key(action, subject)

	g.mu.Lock()
	w, ok := g.windows[k]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		g.windows[k] = w
	}
	w.count++
	allowed := w.count <= max
	g.mu.Unlock()

	record(action, allowed)
	return allowed, nil
}

// Sweep drops expired windows.
func (g *MemoryGuard) Sweep() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, w := range g.windows {
		if !now.Before(w.resetAt) {
			delete(g.windows, k)
		}
	}
}
