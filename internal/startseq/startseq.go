// Package startseq starts a managed server and waits, with a bound, for its
// log to confirm readiness.
package startseq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"vawter.tech/stopper"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
	"github.com/MrSnakeDoc/mcbot/internal/logsource"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultReadyMarker = "]: Done"
)

// ErrAlreadyStarting is returned when a sequence for the same identity is in
// flight.
var ErrAlreadyStarting = errors.New("startseq: start already in progress")

// Outcome of a start sequence.
type Outcome int

const (
	// Confirmed means the ready marker was seen within the bound.
	Confirmed Outcome = iota
	// TimedOut means the bound elapsed first. The process is left running.
	TimedOut
)

func (o Outcome) String() string {
	if o == Confirmed {
		return "confirmed"
	}
	return "timed_out"
}

// Hooks are called as a sequence progresses. Either may be nil.
type Hooks struct {
	// Started runs once the start action has been issued.
	Started func(ctx context.Context)
	// Ready runs on the watcher goroutine as soon as the marker is seen, even
	// if Run has already given up waiting. Its context outlives the
	// cancellation of Run's context.
	Ready func(ctx context.Context)
}

// Starter issues the start action for a unit without waiting for it.
type Starter interface {
	Start(ctx context.Context, unit string) error
}

type Sequencer struct {
	starter  Starter
	follower logsource.Follower
	timeout  time.Duration
	marker   string
	log      logger.Logger

	mu       sync.Mutex
	inflight map[domain.ServiceIdentity]struct{}
}

func New(starter Starter, follower logsource.Follower, timeout time.Duration, marker string, log logger.Logger) *Sequencer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if marker == "" {
		marker = DefaultReadyMarker
	}
	return &Sequencer{
		starter:  starter,
		follower: follower,
		timeout:  timeout,
		marker:   marker,
		log:      log,
		inflight: make(map[domain.ServiceIdentity]struct{}),
	}
}

func (s *Sequencer) claim(id domain.ServiceIdentity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Sequencer) release(id domain.ServiceIdentity) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// InFlight reports whether a sequence for id is running.
func (s *Sequencer) InFlight(id domain.ServiceIdentity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inflight[id]
	return busy
}

// Run starts srv and blocks until the ready marker shows up in its log, the
// bound elapses, or ctx is done. It never stops the server.
func (s *Sequencer) Run(ctx context.Context, srv domain.Server, hooks Hooks) (Outcome, error) {
	if !s.claim(srv.Identity) {
		return TimedOut, ErrAlreadyStarting
	}
	defer s.release(srv.Identity)

	log := s.log.With(logger.Identity(srv.Identity.String()), logger.String("task_id", uuid.NewString()))

	// Follow first so a fast server cannot print the marker before we listen.
	stream, err := s.follower.Follow(ctx, srv)
	if err != nil {
		return TimedOut, fmt.Errorf("follow %s: %w", srv.Unit, err)
	}
	defer func() { _ = stream.Close() }()

	if err := s.starter.Start(ctx, srv.Unit); err != nil {
		return TimedOut, fmt.Errorf("start %s: %w", srv.Unit, err)
	}
	log.Info("start issued, waiting for ready marker", logger.Duration("timeout", s.timeout))
	if hooks.Started != nil {
		hooks.Started(ctx)
	}

	ready := make(chan struct{})
	sctx := stopper.WithContext(ctx)
	sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case line, ok := <-stream.Lines():
				if !ok {
					return nil
				}
				if !strings.Contains(line, s.marker) {
					continue
				}
				log.Info("ready marker seen")
				// The marker alone decides the outcome; the hook runs outside the bound.
				close(ready)
				if hooks.Ready != nil {
					hooks.Ready(context.WithoutCancel(ctx))
				}
				return nil
			}
		}
	})

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var (
		outcome Outcome
		runErr  error
	)
	select {
	case <-ready:
		outcome = Confirmed
	case <-timer.C:
		outcome = TimedOut
		log.Warn("no ready marker before timeout; server left running")
	case <-ctx.Done():
		outcome, runErr = TimedOut, ctx.Err()
	}

	sctx.Stop(0)
	_ = sctx.Wait()
	return outcome, runErr
}
