package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/bridge"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
)

// Poller reports whether the chat transport has completed a poll.
type Poller interface {
	Polled() bool
}

// Pinger checks a backing store. Nil means the store is not configured.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionLister exposes the live bridges.
type SessionLister interface {
	Sessions() []bridge.Session
}

// PendingLister exposes deferred bridge activations.
type PendingLister interface {
	Snapshot() []bridge.Pending
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedCIDRS []string         // IPs allowed to access the ops endpoints
	TrustProxy   bool             // true if running behind a trusted reverse proxy
	Transport    Poller           // chat transport
	Redis        Pinger           // optional
	Sessions     SessionLister    // bridge registry
	Pending      PendingLister    // deferred activations
}

// Now returns the current time through TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
