package bridge

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
	"vawter.tech/stopper"

	"github.com/MrSnakeDoc/mcbot/internal/chat"
	"github.com/MrSnakeDoc/mcbot/internal/domain"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
	"github.com/MrSnakeDoc/mcbot/internal/logsource"
)

// chatLine matches a player chat entry in a server log, e.g.
// "[12:00:00] [Server thread/INFO]: <Alice> hello".
var chatLine = regexp.MustCompile(`INFO\]: <([A-Za-z0-9_]+)> (.*)$`)

// ExtractChat returns the speaker and message of a chat log line.
func ExtractChat(line string) (speaker, message string, ok bool) {
	m := chatLine.FindStringSubmatch(ansi.Strip(line))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// FormatOutbound renders "speaker: message" with the speaker in bold.
func FormatOutbound(chatID int64, speaker, message string) chat.Reply {
	return chat.Reply{
		ChatID: chatID,
		Text:   speaker + ": " + message,
		Bold:   []chat.Span{{Offset: 0, Length: chat.UTF16Len(speaker)}},
	}
}

// RelayTask forwards chat lines from one server's log to one chat until
// cancelled or until the log stream ends.
type RelayTask struct {
	session Session
	sctx    *stopper.Context
	done    chan struct{}
}

// RelayDeps are the collaborators a relay task needs.
type RelayDeps struct {
	Follower logsource.Follower
	Sender   chat.Sender
	Throttle *Throttle
	Log      logger.Logger
}

// StartRelay opens the log stream for srv synchronously, so a failure to
// follow is returned to the caller, then forwards lines in the background.
// The task lives under parent, not under the request that created it.
func StartRelay(parent context.Context, deps RelayDeps, srv domain.Server, chatID int64) (*RelayTask, error) {
	sctx := stopper.WithContext(parent)
	stream, err := deps.Follower.Follow(sctx, srv)
	if err != nil {
		sctx.Stop(0)
		return nil, fmt.Errorf("follow %s: %w", srv.Unit, err)
	}

	t := &RelayTask{
		session: Session{
			Identity: srv.Identity,
			ChatID:   chatID,
			TaskID:   uuid.NewString(),
			Since:    time.Now(),
		},
		sctx: sctx,
		done: make(chan struct{}),
	}
	log := deps.Log.With(
		logger.Identity(srv.Identity.String()),
		logger.Chat(chatID),
		logger.String("task_id", t.session.TaskID),
	)

	sctx.Defer(func() { _ = stream.Close() })
	sctx.Go(func(sctx *stopper.Context) error {
		defer close(t.done)
		defer sctx.Stop(0)
		ctx, cancel := stoppingContext(sctx)
		defer cancel()
		log.Info("relay started")
		defer log.Info("relay stopped")

		for {
			select {
			case <-sctx.Stopping():
				return nil
			case line, ok := <-stream.Lines():
				if !ok {
					log.Warn("log stream ended")
					return nil
				}
				speaker, message, ok := ExtractChat(line)
				if !ok {
					continue
				}
				if !deps.Throttle.Wait(ctx, chatID) {
					return nil
				}
				if _, err := deps.Sender.Send(ctx, FormatOutbound(chatID, speaker, message)); err != nil && !sctx.IsStopping() {
					log.Warn("relay send failed", logger.Error(err))
				}
			}
		}
	})
	return t, nil
}

// stoppingContext is cancelled as soon as sctx starts stopping, before its
// grace period ends.
func stoppingContext(sctx *stopper.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(sctx)
	go func() {
		select {
		case <-sctx.Stopping():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}

// Cancel asks the task to stop and returns immediately. Output already
// handed to the transport is not retracted.
func (t *RelayTask) Cancel() { t.sctx.Stop(0) }

// Done is closed once the relay loop has exited.
func (t *RelayTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the task and its log stream are fully released.
func (t *RelayTask) Wait() error { return t.sctx.Wait() }

func (t *RelayTask) Session() Session { return t.session }
