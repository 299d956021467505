// Package dispatch routes inbound chat messages to server lifecycle actions,
// status reports and the chat bridge.
//
// Each message is handled on its own; nothing about a chat is remembered
// between messages except the bridge registry and pending activations.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/bridge"
	"github.com/MrSnakeDoc/mcbot/internal/chat"
	"github.com/MrSnakeDoc/mcbot/internal/domain"
	"github.com/MrSnakeDoc/mcbot/internal/locale"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
	"github.com/MrSnakeDoc/mcbot/internal/startseq"
)

// CallbackEnableBridge is the data carried by the inline button offered with
// a start acknowledgement.
const CallbackEnableBridge = "bridge:enable"

// Stopper issues the stop action for a unit.
type Stopper interface {
	Stop(ctx context.Context, unit string) error
}

type Prober interface {
	Probe(ctx context.Context, srv domain.Server) (domain.ServiceStatus, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, ep domain.ConsoleEndpoint, author, text string) error
}

type Sequencer interface {
	Run(ctx context.Context, srv domain.Server, hooks startseq.Hooks) (startseq.Outcome, error)
}

// RelaySpawner starts a relay task forwarding srv's chat to chatID.
type RelaySpawner func(srv domain.Server, chatID int64) (*bridge.RelayTask, error)

// Deps is everything the dispatcher touches. It is built once at startup.
type Deps struct {
	Servers  domain.Directory
	Chats    map[int64]domain.ServiceIdentity
	Init     Stopper
	Probe    Prober
	Console  Broadcaster
	Starter  Sequencer
	Registry *bridge.Registry
	Pending  *bridge.PendingActivations
	Spawn    RelaySpawner
	Sender   chat.Sender
	Catalog  *locale.Catalog
	Log      logger.Logger
}

type Dispatcher struct {
	Deps
}

func New(d Deps) *Dispatcher {
	return &Dispatcher{Deps: d}
}

type command int

const (
	cmdNone command = iota
	cmdStart
	cmdStop
	cmdStatus
	cmdEnableBridge
	cmdDisableBridge
	cmdLicence
)

var commands = map[string]command{
	"/start_server":       cmdStart,
	"/stop_server":        cmdStop,
	"/status_server":      cmdStatus,
	"/enable_chatbridge":  cmdEnableBridge,
	"/disable_chatbridge": cmdDisableBridge,
	"/licence":            cmdLicence,
}

// parseCommand recognises the first word of text, ignoring a "@botname"
// suffix.
func parseCommand(text string) command {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return cmdNone
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return commands[strings.ToLower(name)]
}

func (d *Dispatcher) server(chatID int64) (domain.Server, bool) {
	id, ok := d.Chats[chatID]
	if !ok {
		return domain.Server{}, false
	}
	return d.Servers.Lookup(id)
}

// OnChatMessage handles one inbound message from any chat.
func (d *Dispatcher) OnChatMessage(ctx context.Context, msg chat.Message) {
	srv, ok := d.server(msg.ChatID)
	if !ok {
		d.Log.Debug("message from unconfigured chat dropped", logger.Chat(msg.ChatID))
		return
	}
	log := d.Log.With(
		logger.String("request_id", msg.RequestID),
		logger.Chat(msg.ChatID),
		logger.Identity(srv.Identity.String()),
	)

	switch parseCommand(msg.Text) {
	case cmdStart:
		d.handleStart(ctx, log, srv, msg)
	case cmdStop:
		d.handleStop(ctx, log, srv, msg)
	case cmdStatus:
		d.handleStatus(ctx, log, srv, msg)
	case cmdEnableBridge:
		d.handleEnableBridge(ctx, log, srv, msg)
	case cmdDisableBridge:
		d.handleDisableBridge(ctx, log, srv, msg)
	case cmdLicence:
		d.reply(ctx, log, msg, locale.Licence, nil)
	default:
		d.relayInbound(ctx, log, srv, msg)
	}
}

// OnCallback handles an inline button press.
func (d *Dispatcher) OnCallback(ctx context.Context, cb chat.Callback) {
	srv, ok := d.server(cb.Message.ChatID)
	if !ok {
		d.Log.Debug("callback from unconfigured chat dropped", logger.Chat(cb.Message.ChatID))
		return
	}
	log := d.Log.With(
		logger.String("request_id", cb.Message.RequestID),
		logger.Chat(cb.Message.ChatID),
		logger.Identity(srv.Identity.String()),
		logger.String("callback", cb.Data),
	)

	if cb.Data == CallbackEnableBridge {
		if err := d.Sender.ClearButtons(ctx, cb.Message.ChatID, cb.Message.MessageID); err != nil {
			log.Warn("clear inline button failed", logger.Error(err))
		}
		d.handleEnableBridge(ctx, log, srv, cb.Message)
	} else {
		log.Debug("unknown callback data")
	}

	if err := d.Sender.AnswerCallback(ctx, cb.ID, ""); err != nil {
		log.Warn("answer callback failed", logger.Error(err))
	}
}

func (d *Dispatcher) relayInbound(ctx context.Context, log logger.Logger, srv domain.Server, msg chat.Message) {
	if !d.Registry.IsActive(srv.Identity) || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if err := d.Console.Broadcast(ctx, srv.Console, msg.AuthorDisplayName, msg.Text); err != nil {
		log.Warn("relay to server failed", logger.Error(err))
	}
}

func (d *Dispatcher) probe(ctx context.Context, log logger.Logger, srv domain.Server, msg chat.Message) (domain.ServiceStatus, bool) {
	st, err := d.Probe.Probe(ctx, srv)
	if err != nil {
		log.Error("status probe failed", logger.Error(err))
		d.reply(ctx, log, msg, locale.GenericFailure, nil)
		return st, false
	}
	log.Debug("status probed", logger.String("status", st.String()))
	return st, true
}

func (d *Dispatcher) handleStart(ctx context.Context, log logger.Logger, srv domain.Server, msg chat.Message) {
	st, ok := d.probe(ctx, log, srv, msg)
	if !ok {
		return
	}
	switch st.Kind {
	case domain.Starting:
		d.reply(ctx, log, msg, locale.StartAlreadyStarting, nil)
		return
	case domain.Running:
		d.reply(ctx, log, msg, locale.StartAlreadyRunning, nil)
		return
	}

	hooks := startseq.Hooks{
		Started: func(ctx context.Context) {
			d.send(ctx, log, chat.Reply{
				ChatID:  msg.ChatID,
				ReplyTo: msg.MessageID,
				Text:    d.Catalog.Text(locale.StartIssued, nil),
				Buttons: []chat.Button{{
					Text: d.Catalog.Text(locale.BridgeInlineButton, nil),
					Data: CallbackEnableBridge,
				}},
			})
		},
		Ready: func(ctx context.Context) {
			d.reply(ctx, log, msg, locale.StartReady, nil)
			if p, ok := d.Pending.Consume(srv.Identity); ok {
				log.Info("activating bridge requested during start", logger.String("pending_request_id", p.RequestID))
				d.activate(ctx, log, srv, pendingMessage(p))
			}
		},
	}

	outcome, err := d.Starter.Run(ctx, srv, hooks)
	switch {
	case errors.Is(err, startseq.ErrAlreadyStarting):
		d.reply(ctx, log, msg, locale.StartAlreadyStarting, nil)
	case err != nil && ctx.Err() != nil:
		log.Info("start sequence abandoned", logger.Error(err))
	case err != nil:
		log.Error("start failed", logger.Error(err))
		d.reply(ctx, log, msg, locale.GenericFailure, nil)
	case outcome == startseq.TimedOut:
		d.reply(ctx, log, msg, locale.StartUnknown, nil)
		if p, ok := d.Pending.Consume(srv.Identity); ok {
			d.reply(ctx, log, pendingMessage(p), locale.BridgePendingDropped, nil)
		}
	default:
		log.Info("start confirmed")
	}
}

func (d *Dispatcher) handleStop(ctx context.Context, log logger.Logger, srv domain.Server, msg chat.Message) {
	st, ok := d.probe(ctx, log, srv, msg)
	if !ok {
		return
	}
	switch st.Kind {
	case domain.Inactive:
		d.reply(ctx, log, msg, locale.StopNotRunning, nil)
	case domain.Starting:
		d.reply(ctx, log, msg, locale.StopWhileStarting, nil)
	case domain.Running:
		if d.Registry.Deactivate(srv.Identity) == bridge.Deactivated {
			log.Info("bridge deactivated before stop")
		}
		if err := d.Init.Stop(ctx, srv.Unit); err != nil {
			log.Error("stop failed", logger.Error(err))
			d.reply(ctx, log, msg, locale.GenericFailure, nil)
			return
		}
		log.Info("stop issued")
		d.reply(ctx, log, msg, locale.StopIssued, nil)
	}
}

func (d *Dispatcher) handleStatus(ctx context.Context, log logger.Logger, srv domain.Server, msg chat.Message) {
	st, ok := d.probe(ctx, log, srv, msg)
	if !ok {
		return
	}
	switch st.Kind {
	case domain.Inactive:
		d.reply(ctx, log, msg, locale.StatusNotRunning, nil)
	case domain.Starting:
		d.reply(ctx, log, msg, locale.StatusStarting, nil)
	case domain.Running:
		d.reply(ctx, log, msg, locale.StatusRunning, map[string]string{
			"current": strconv.Itoa(st.CurrentPlayers),
			"max":     strconv.Itoa(st.MaxPlayers),
			"players": strings.Join(st.Players, ", "),
		})
	}
}

func (d *Dispatcher) handleEnableBridge(ctx context.Context, log logger.Logger, srv domain.Server, msg chat.Message) {
	st, ok := d.probe(ctx, log, srv, msg)
	if !ok {
		return
	}
	switch st.Kind {
	case domain.Inactive:
		d.reply(ctx, log, msg, locale.BridgeNotRunning, nil)
	case domain.Starting:
		res := d.Pending.TryRecord(bridge.Pending{
			Identity:  srv.Identity,
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			RequestID: msg.RequestID,
		})
		if res == bridge.AlreadyPending {
			d.reply(ctx, log, msg, locale.BridgeAlreadyPrepared, nil)
			return
		}
		log.Info("bridge activation deferred until ready")
		d.reply(ctx, log, msg, locale.BridgeAfterStart, nil)
	case domain.Running:
		d.activate(ctx, log, srv, msg)
	}
}

// activate runs tryActivate against a server known to be running.
func (d *Dispatcher) activate(ctx context.Context, log logger.Logger, srv domain.Server, msg chat.Message) {
	res, err := d.Registry.TryActivate(srv.Identity, func() (*bridge.RelayTask, error) {
		return d.Spawn(srv, msg.ChatID)
	})
	if err != nil {
		log.Error("bridge activation failed", logger.Error(err))
		d.reply(ctx, log, msg, locale.GenericFailure, nil)
		return
	}
	if res == bridge.AlreadyActive {
		d.reply(ctx, log, msg, locale.BridgeAlreadyActive, nil)
		return
	}
	log.Info("bridge activated")
	d.reply(ctx, log, msg, locale.BridgeActivated, nil)
}

func (d *Dispatcher) handleDisableBridge(ctx context.Context, log logger.Logger, srv domain.Server, msg chat.Message) {
	st, ok := d.probe(ctx, log, srv, msg)
	if !ok {
		return
	}

	removed := false
	switch st.Kind {
	case domain.Starting:
		if _, ok := d.Pending.Consume(srv.Identity); ok {
			removed = true
		}
		fallthrough
	case domain.Running:
		if d.Registry.Deactivate(srv.Identity) == bridge.Deactivated {
			removed = true
		}
	}

	if removed {
		log.Info("bridge deactivated")
		d.reply(ctx, log, msg, locale.BridgeDeactivated, nil)
		return
	}
	d.reply(ctx, log, msg, locale.BridgeWasInactive, nil)
}

// ExpirePending drops pending activations created before cutoff and tells
// each requester.
func (d *Dispatcher) ExpirePending(ctx context.Context, cutoff time.Time) int {
	expired := d.Pending.Expire(cutoff)
	for _, p := range expired {
		log := d.Log.With(
			logger.String("request_id", p.RequestID),
			logger.Chat(p.ChatID),
			logger.Identity(p.Identity.String()),
		)
		log.Info("pending bridge activation expired", logger.Duration("age", time.Since(p.CreatedAt)))
		d.reply(ctx, log, pendingMessage(p), locale.BridgePendingDropped, nil)
	}
	return len(expired)
}

func pendingMessage(p bridge.Pending) chat.Message {
	return chat.Message{ChatID: p.ChatID, MessageID: p.MessageID, RequestID: p.RequestID}
}

func (d *Dispatcher) reply(ctx context.Context, log logger.Logger, msg chat.Message, key string, args map[string]string) {
	d.send(ctx, log, chat.Reply{
		ChatID:  msg.ChatID,
		ReplyTo: msg.MessageID,
		Text:    strings.TrimSpace(d.Catalog.Text(key, args)),
	})
}

func (d *Dispatcher) send(ctx context.Context, log logger.Logger, r chat.Reply) {
	if _, err := d.Sender.Send(ctx, r); err != nil {
		log.Warn("reply failed", logger.Error(err))
	}
}
