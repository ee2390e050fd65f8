package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Direction distinguishes the two sync flows. Markers for opposite directions
// never suppress each other.
type Direction string

const (
	DirectionToExternal   Direction = "toExternal"
	DirectionFromExternal Direction = "fromExternal"
)

// LoopGuard is a short-TTL marker cache that debounces repeated syncs of the
// same entity in the same direction. It is a best-effort race suppressor, not
// mutual exclusion: the equality short-circuit in the inbound handlers is what
// actually breaks sync loops.
type LoopGuard interface {
	// Check reports whether a sync for this entity/direction already fired
	// within the TTL window. A clear check marks the window as used.
	Check(ctx context.Context, entityType, entityID string, direction Direction) bool
}

func guardKey(entityType, entityID string, direction Direction) string {
	return fmt.Sprintf("sync:%s:%s:%s", entityType, entityID, direction)
}

// redisLoopGuard stores markers in Redis using SET NX with expiry, giving an
// atomic check-and-set.
type redisLoopGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLoopGuard builds a Redis-backed guard.
func NewRedisLoopGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) LoopGuard {
	return &redisLoopGuard{client: client, ttl: ttl, logger: logger}
}

func (g *redisLoopGuard) Check(ctx context.Context, entityType, entityID string, direction Direction) bool {
	key := guardKey(entityType, entityID, direction)
	set, err := g.client.SetNX(ctx, key, "1", g.ttl).Result()
	if err != nil {
		// fail open: a missed debounce is recoverable, a blocked sync is not
		g.logger.Warn("loop guard unavailable", zap.String("key", key), zap.Error(err))
		return false
	}
	if !set {
		g.logger.Debug("sync suppressed by loop guard", zap.String("key", key))
	}
	return !set
}

// memoryLoopGuard is an in-process guard with an injectable clock, used in
// tests and single-node deployments without Redis.
type memoryLoopGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryLoopGuard builds an in-memory guard. A nil now func uses the wall
// clock.
func NewMemoryLoopGuard(ttl time.Duration, now func() time.Time) LoopGuard {
	if now == nil {
		now = time.Now
	}
	return &memoryLoopGuard{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     now,
	}
}

func (g *memoryLoopGuard) Check(ctx context.Context, entityType, entityID string, direction Direction) bool {
	key := guardKey(entityType, entityID, direction)
	current := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	if setAt, ok := g.entries[key]; ok && current.Sub(setAt) < g.ttl {
		return true
	}
	g.entries[key] = current
	return false
}
