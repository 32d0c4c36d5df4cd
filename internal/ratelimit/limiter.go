// Package ratelimit applies per-client token-bucket limiting to the
// streaming endpoint. There is no auth layer here, so clients are keyed by
// address.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a thread-safe token bucket refilled at a constant rate.
type bucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newBucket(capacity, refillRate float64) *bucket {
	return &bucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *bucket) remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// refill adds tokens for elapsed time. Must be called with lock held.
func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Limiter manages one bucket per client key with periodic cleanup of idle
// buckets.
type Limiter struct {
	capacity   float64
	refillRate float64

	mu      sync.RWMutex
	buckets map[string]*bucket

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Config holds limiter settings.
type Config struct {
	RequestsPerSecond float64 // sustained rate per client
	BurstSize         float64 // burst capacity per client
}

// NewLimiter creates a limiter with the given per-client budget.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 10
	}
	l := &Limiter{
		capacity:        cfg.BurstSize,
		refillRate:      cfg.RequestsPerSecond,
		buckets:         make(map[string]*bucket),
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from the given client key may proceed.
// An empty key is always allowed.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		return true
	}
	return l.getBucket(key).allow()
}

// Remaining returns the tokens left for a client key.
func (l *Limiter) Remaining(key string) float64 {
	if key == "" {
		return l.capacity
	}
	return l.getBucket(key).remaining()
}

// Capacity returns the per-client burst size.
func (l *Limiter) Capacity() float64 { return l.capacity }

// Close stops the background cleanup.
func (l *Limiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
	return nil
}

func (l *Limiter) getBucket(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = newBucket(l.capacity, l.refillRate)
	l.buckets[key] = b
	return b
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets back at (near) full capacity, i.e. idle clients.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.remaining() >= l.capacity*0.95 {
			delete(l.buckets, key)
		}
	}
}
