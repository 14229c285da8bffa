// Package ratelimit enforces the per-hour request allowance of each API key. Two backends
// are provided: a Redis GCRA limiter shared by every replica, and an in-process token bucket
// for single-node deployments and tests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Result describes the outcome of a single Allow call
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether one more request under key fits in perHour.
type Limiter interface {
	Allow(ctx context.Context, key string, perHour int) (Result, error)
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// RedisLimiter is a Limiter backed by redis_rate.
type RedisLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
}

// NewRedisLimiter connects to addr and verifies the server answers.
func NewRedisLimiter(ctx context.Context, addr, password string, db int) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisLimiter{client: client, limiter: redis_rate.NewLimiter(client)}, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, perHour int) (Result, error) {
	if perHour <= 0 {
		return Result{Allowed: true, Remaining: -1}, nil
	}
	res, err := l.limiter.Allow(ctx, key, redis_rate.PerHour(perHour))
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check for %s: %w", key, err)
	}
	return Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Close releases the redis connection pool
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// ---------------------------------------------------------------------------
// In-process token bucket
// ---------------------------------------------------------------------------

// bucket tracks the tokens left for a single key
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter implements a token bucket per key with a burst of one hour's allowance.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

// NewMemoryLimiter creates a limiter that drops idle buckets every cleanupInterval.
func NewMemoryLimiter(cleanupInterval time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanup(cleanupInterval)
	}
	return l
}

// cleanup periodically removes buckets that have been idle for over an hour,
// at which point they would be full again anyway.
func (l *MemoryLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, b := range l.buckets {
				if now.Sub(b.lastUpdate) > time.Hour {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *MemoryLimiter) Stop() {
	l.stopped.Do(func() { close(l.stopCh) })
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, perHour int) (Result, error) {
	if perHour <= 0 {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	capacity := float64(perHour)
	tokensPerSecond := capacity / time.Hour.Seconds()

	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: capacity, lastUpdate: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastUpdate).Seconds()
		b.tokens = min(capacity, b.tokens+elapsed*tokensPerSecond)
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return Result{Allowed: true, Remaining: int(b.tokens)}, nil
	}

	wait := time.Duration((1 - b.tokens) / tokensPerSecond * float64(time.Second))
	return Result{Allowed: false, Remaining: 0, RetryAfter: wait}, nil
}
