// Package ratelimit bounds outbound vendor calls with a lazily refilled token bucket.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrExceedsCapacity is returned when a caller asks for more tokens than the bucket can ever hold
var ErrExceedsCapacity = errors.New("ratelimit: requested tokens exceed bucket capacity")

// Config describes a bucket
type Config struct {
	Capacity        int           // max tokens (burst)
	RefillPerSecond float64       // tokens added per second
	PollInterval    time.Duration // WaitFor sleep between attempts
}

// ShopifyREST is the Admin REST leaky bucket: 40 calls, 2/s refill
func ShopifyREST() Config {
	return Config{Capacity: 40, RefillPerSecond: 2, PollInterval: 100 * time.Millisecond}
}

// Bucket is a token bucket. Tokens are refilled on every call from the elapsed
// time since the previous one; there is no background timer.
type Bucket struct {
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	mu            sync.Mutex
	cooldownUntil time.Time
}

// New creates a full bucket using the wall clock
func New(cfg Config) *Bucket {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock creates a full bucket reading time from now
func NewWithClock(cfg Config, now func() time.Time) *Bucket {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillPerSecond < 0 {
		cfg.RefillPerSecond = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if now == nil {
		now = time.Now
	}
	return &Bucket{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
		now:     now,
	}
}

// Config returns the normalized configuration
func (b *Bucket) Config() Config {
	return b.cfg
}

// Acquire consumes n tokens if they are available right now
func (b *Bucket) Acquire(n int) bool {
	if n <= 0 {
		return true
	}
	if n > b.cfg.Capacity {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Before(b.cooldownUntil) {
		return false
	}
	return b.limiter.AllowN(now, n)
}

// WaitFor blocks until n tokens were acquired or ctx is done
func (b *Bucket) WaitFor(ctx context.Context, n int) error {
	if n > b.cfg.Capacity {
		return ErrExceedsCapacity
	}
	for {
		if b.Acquire(n) {
			return nil
		}
		timer := time.NewTimer(b.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Penalize refuses all tokens until d has elapsed (vendor Retry-After)
func (b *Bucket) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if until := b.now().Add(d); until.After(b.cooldownUntil) {
		b.cooldownUntil = until
	}
}

// Tokens returns the tokens available now, within [0, capacity]
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.limiter.TokensAt(b.now())
	if t < 0 {
		return 0
	}
	if c := float64(b.cfg.Capacity); t > c {
		return c
	}
	return t
}
