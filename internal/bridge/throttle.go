package bridge

import (
	"context"
	"math"
	"sync"
	"time"
)

// ThrottleConfig paces relay messages per chat with a token bucket.
type ThrottleConfig struct {
	Burst        int
	RefillPerMin int
	IdleTTL      time.Duration
}

type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastRef  time.Time
	lastSeen time.Time
}

// Throttle is safe for concurrent use. A nil Throttle never waits.
type Throttle struct {
	cfg      ThrottleConfig
	rate     float64 // tokens per second
	capacity float64

	mu        sync.Mutex
	buckets   map[int64]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RefillPerMin < 1 {
		cfg.RefillPerMin = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	return &Throttle{
		cfg:       cfg,
		rate:      float64(cfg.RefillPerMin) / 60.0,
		capacity:  float64(cfg.Burst),
		buckets:   make(map[int64]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (t *Throttle) getBucket(chatID int64, now time.Time) *bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastSweep) >= t.cfg.IdleTTL {
		for id, b := range t.buckets {
			if now.Sub(b.lastSeen) > t.cfg.IdleTTL {
				delete(t.buckets, id)
			}
		}
		t.lastSweep = now
	}
	b := t.buckets[chatID]
	if b == nil {
		b = &bucket{tokens: t.capacity, lastRef: now, lastSeen: now}
		t.buckets[chatID] = b
	}
	return b
}

// allow takes a token if one is available, otherwise reports how long until
// the next one.
func (t *Throttle) allow(chatID int64, now time.Time) (bool, time.Duration) {
	b := t.getBucket(chatID, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRef).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(t.capacity, b.tokens+elapsed*t.rate)
		b.lastRef = now
	}
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		b.lastSeen = now
		return true, 0
	}
	needed := 1.0 - b.tokens
	return false, time.Duration(math.Ceil(needed / t.rate * float64(time.Second)))
}

// Wait blocks until chatID may send. It returns false if ctx ends first.
func (t *Throttle) Wait(ctx context.Context, chatID int64) bool {
	if t == nil {
		return ctx.Err() == nil
	}
	for {
		ok, retry := t.allow(chatID, t.now())
		if ok {
			return true
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
