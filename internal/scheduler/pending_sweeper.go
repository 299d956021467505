package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/logger"
)

const (
	// DefaultPendingTTL is the age after which a deferred bridge activation is dropped
	DefaultPendingTTL = 5 * time.Minute
	// DefaultSweepInterval is how often pending activations are checked
	DefaultSweepInterval = 30 * time.Second
)

// Expirer drops pending activations created before cutoff and reports how
// many it dropped.
type Expirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time) int
}

// PendingSweeper periodically expires bridge activations that were requested
// while a server was starting but never consumed, for example because the
// server was started outside the bot.
type PendingSweeper struct {
	target   Expirer
	logger   logger.Logger
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	done     chan struct{}
}

// NewPendingSweeper creates a new sweeper
func NewPendingSweeper(
	target Expirer,
	log logger.Logger,
	interval time.Duration,
	ttl time.Duration,
) *PendingSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	return &PendingSweeper{
		target:   target,
		logger:   log,
		interval: interval,
		ttl:      ttl,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *PendingSweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweeper and waits for an in-progress sweep to finish
func (s *PendingSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.done
	}
}

// Sweep expires everything older than the TTL once
func (s *PendingSweeper) Sweep(ctx context.Context) int {
	n := s.target.ExpirePending(ctx, s.now().Add(-s.ttl))
	if n > 0 {
		s.logger.Info("expired pending bridge activations",
			logger.Int("expired", n),
			logger.Duration("ttl", s.ttl))
	} else {
		s.logger.Debug("no pending bridge activations to expire")
	}
	return n
}
