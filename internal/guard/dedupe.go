package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"threadline/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Deduper claims keys for a TTL. The first caller to claim a key wins.
type Deduper interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisDeduper claims keys with SET NX PX.
type RedisDeduper struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisDeduper returns a Deduper that namespaces keys under prefix.
func NewRedisDeduper(rdb redis.Cmdable, prefix string) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, prefix: prefix}
}

// FirstSeen implements Deduper.
func (d *RedisDeduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, span := observability.TraceRedisOperation(ctx, "dedupe")
	defer span.End()

	ok, err := d.rdb.SetNX(ctx, d.prefix+key, 1, ttl).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("dedupe %s: %w", key, err)
	}
	return ok, nil
}

// minSweepAt is the map size at which FirstSeen first sweeps expired claims.
const minSweepAt = 1024

// MemoryDeduper is a single-process Deduper. Expired claims are swept once the
// map doubles past the live count of the previous sweep.
type MemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	sweepAt int
	now     func() time.Time
}

// NewMemoryDeduper returns an in-process deduper using the wall clock.
func NewMemoryDeduper() *MemoryDeduper {
	return NewMemoryDeduperWithClock(time.Now)
}

// NewMemoryDeduperWithClock returns an in-process deduper using now as its clock.
func NewMemoryDeduperWithClock(now func() time.Time) *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), sweepAt: minSweepAt, now: now}
}

// FirstSeen implements Deduper.
func (d *MemoryDeduper) FirstSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	if len(d.seen) >= d.sweepAt {
		d.sweepLocked(now)
		d.sweepAt = max(2*len(d.seen), minSweepAt)
	}
	return true, nil
}

// Sweep drops expired claims.
func (d *MemoryDeduper) Sweep() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepLocked(now)
}

func (d *MemoryDeduper) sweepLocked(now time.Time) {
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
}
