// Package logsource follows a managed server's log as a live line stream.
//
// A Stream starts at "now": history written before Follow returns is never
// replayed. Streams are not restartable; open a fresh one per watch.
package logsource

import (
	"context"
	"time"

	"vawter.tech/stopper"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

// closeGrace is how long a stream's goroutines get to exit after Close.
const closeGrace = 250 * time.Millisecond

// Stream is a live sequence of log lines. Lines is closed when the source
// ends, the parent context is done, or Close is called.
type Stream interface {
	Lines() <-chan string
	Close() error
}

// Follower opens streams for a server.
type Follower interface {
	Follow(ctx context.Context, srv domain.Server) (Stream, error)
}

// Auto follows the log file when the server has one, the journal otherwise.
type Auto struct {
	Journal Follower
	File    Follower
}

func (a Auto) Follow(ctx context.Context, srv domain.Server) (Stream, error) {
	if srv.LogFile != "" && a.File != nil {
		return a.File.Follow(ctx, srv)
	}
	return a.Journal.Follow(ctx, srv)
}

type lineStream struct {
	lines chan string
	sctx  *stopper.Context
}

func newLineStream(ctx context.Context) *lineStream {
	return &lineStream{
		lines: make(chan string, 16),
		sctx:  stopper.WithContext(ctx),
	}
}

func (s *lineStream) Lines() <-chan string { return s.lines }

func (s *lineStream) Close() error {
	s.sctx.Stop(closeGrace)
	return s.sctx.Wait()
}

// emit delivers line unless the stream is shutting down.
func (s *lineStream) emit(ctx context.Context, line string) bool {
	select {
	case s.lines <- line:
		return true
	case <-s.sctx.Stopping():
		return false
	case <-ctx.Done():
		return false
	}
}
