package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chatmemory/backend/internal/platform/logger"
)

// RateLimiter enforces a per-key fixed window quota. Allow reports whether
// the call may proceed and, when it may not, how long to wait.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	Close() error
}

type redisRateLimiter struct {
	log    *logger.Logger
	rdb    *goredis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisRateLimiter builds a limiter over REDIS_ADDR. The counter key is
// derived from the window start so concurrent instances share one budget.
func NewRedisRateLimiter(log *logger.Logger, limit int, window time.Duration) (RateLimiter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisRateLimiter{
		log:    log.With("service", "RedisRateLimiter"),
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: "ratelimit",
	}, nil
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, windowStart.Unix())

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit incr: %w", err)
	}

	if incr.Val() > int64(l.limit) {
		return false, windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}

func (l *redisRateLimiter) Close() error {
	return l.rdb.Close()
}

type memoryWindow struct {
	start time.Time
	count int
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*memoryWindow
}

// NewMemoryRateLimiter is the single-process fallback used when no redis
// address is configured.
func NewMemoryRateLimiter(limit int, window time.Duration) RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &memoryRateLimiter{limit: limit, window: window, windows: map[string]*memoryWindow{}}
}

func (l *memoryRateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Truncate(l.window)
	w := l.windows[key]
	if w == nil || !w.start.Equal(windowStart) {
		w = &memoryWindow{start: windowStart}
		l.windows[key] = w
	}
	w.count++
	if w.count > l.limit {
		return false, windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}

func (l *memoryRateLimiter) Close() error { return nil }
