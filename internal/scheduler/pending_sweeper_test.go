package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/logger"
)

type recordingExpirer struct {
	mu      sync.Mutex
	cutoffs []time.Time
	calls   chan struct{}
}

func (r *recordingExpirer) ExpirePending(_ context.Context, cutoff time.Time) int {
	r.mu.Lock()
	r.cutoffs = append(r.cutoffs, cutoff)
	r.mu.Unlock()
	if r.calls != nil {
		select {
		case r.calls <- struct{}{}:
		default:
		}
	}
	return 1
}

func TestPendingSweeper_Sweep(t *testing.T) {
	target := &recordingExpirer{}
	s := NewPendingSweeper(target, logger.Nop(), time.Hour, 5*time.Minute)

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	if n := s.Sweep(context.Background()); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if len(target.cutoffs) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(target.cutoffs))
	}
	if want := fixed.Add(-5 * time.Minute); !target.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", target.cutoffs[0], want)
	}
}

func TestPendingSweeper_Defaults(t *testing.T) {
	s := NewPendingSweeper(&recordingExpirer{}, logger.Nop(), 0, 0)
	if s.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultSweepInterval)
	}
	if s.ttl != DefaultPendingTTL {
		t.Errorf("ttl = %v, want %v", s.ttl, DefaultPendingTTL)
	}
}

func TestPendingSweeper_StartStop(t *testing.T) {
	target := &recordingExpirer{calls: make(chan struct{}, 1)}
	s := NewPendingSweeper(target, logger.Nop(), 5*time.Millisecond, time.Minute)

	s.Start(context.Background())
	select {
	case <-target.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}

	s.Stop()
	s.Stop() // idempotent
}

func TestPendingSweeper_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewPendingSweeper(&recordingExpirer{}, logger.Nop(), time.Hour, time.Minute)
	s.Start(ctx)
	cancel()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not exit on context cancel")
	}
}
