// Package telegram is the Telegram Bot API transport: a long-poll update
// loop feeding a chat handler, and a chat.Sender for replies.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/MrSnakeDoc/mcbot/internal/chat"
	"github.com/MrSnakeDoc/mcbot/internal/logger"
)

const (
	defaultPollTimeout = 30 * time.Second
	retryMin           = time.Second
	retryMax           = 30 * time.Second
)

// Handler receives updates from configured chats.
type Handler interface {
	OnChatMessage(ctx context.Context, msg chat.Message)
	OnCallback(ctx context.Context, cb chat.Callback)
}

type Config struct {
	Token string
	// APIEndpoint is a format string with two %s verbs (token, method).
	// Empty means the public Bot API.
	APIEndpoint string
	PollTimeout time.Duration
	// Chats lists the chats whose updates are handled.
	Chats []int64
}

type Transport struct {
	bot         *tgbotapi.BotAPI
	offsets     chat.OffsetStore
	log         logger.Logger
	pollTimeout time.Duration
	allowed     map[int64]struct{}

	polled   atomic.Bool
	handlers sync.WaitGroup
}

// New authenticates against the Bot API (getMe) and returns a transport.
func New(cfg Config, offsets chat.OffsetStore, log logger.Logger) (*Transport, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	allowed := make(map[int64]struct{}, len(cfg.Chats))
	for _, id := range cfg.Chats {
		allowed[id] = struct{}{}
	}

	log.Info("telegram bot authenticated", logger.String("username", bot.Self.UserName))
	return &Transport{
		bot:         bot,
		offsets:     offsets,
		log:         log,
		pollTimeout: pollTimeout,
		allowed:     allowed,
	}, nil
}

// Polled reports whether at least one getUpdates call succeeded.
func (t *Transport) Polled() bool { return t.polled.Load() }

type pollResult struct {
	updates []tgbotapi.Update
	err     error
}

// Run long-polls until ctx is done, handing each update to h on its own
// goroutine. It waits for in-flight handlers before returning.
func (t *Transport) Run(ctx context.Context, h Handler) error {
	defer t.handlers.Wait()

	offset, err := t.offsets.Load(ctx)
	if err != nil {
		t.log.Warn("load update offset failed, starting from pending updates", logger.Error(err))
		offset = 0
	}

	backoff := retryMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = int(t.pollTimeout / time.Second)
		cfg.AllowedUpdates = []string{"message", "callback_query"}

		// getUpdates is not context aware; abandon it on shutdown. Its updates
		// are not acknowledged and will be delivered again next run.
		res := make(chan pollResult, 1)
		go func() {
			updates, err := t.bot.GetUpdates(cfg)
			res <- pollResult{updates, err}
		}()

		var r pollResult
		select {
		case <-ctx.Done():
			return nil
		case r = <-res:
		}

		if r.err != nil {
			t.log.Warn("getUpdates failed", logger.Error(r.err), logger.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, retryMax)
			continue
		}
		backoff = retryMin
		t.polled.Store(true)

		for _, u := range r.updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			t.handle(ctx, h, u)
		}
		if len(r.updates) > 0 {
			if err := t.offsets.Save(ctx, offset); err != nil {
				t.log.Warn("save update offset failed", logger.Error(err), logger.Int("offset", offset))
			}
		}
	}
}

func (t *Transport) handle(ctx context.Context, h Handler, u tgbotapi.Update) {
	switch {
	case u.Message != nil && u.Message.Chat != nil:
		if !t.configured(u.Message.Chat.ID) {
			t.log.Debug("update from unconfigured chat", logger.Chat(u.Message.Chat.ID))
			return
		}
		msg := fromMessage(u.Message)
		t.handlers.Add(1)
		go func() {
			defer t.handlers.Done()
			h.OnChatMessage(ctx, msg)
		}()

	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		if !t.configured(u.CallbackQuery.Message.Chat.ID) {
			t.log.Debug("callback from unconfigured chat", logger.Chat(u.CallbackQuery.Message.Chat.ID))
			return
		}
		cb := chat.Callback{
			ID:      u.CallbackQuery.ID,
			Data:    u.CallbackQuery.Data,
			Message: fromMessage(u.CallbackQuery.Message),
		}
		t.handlers.Add(1)
		go func() {
			defer t.handlers.Done()
			h.OnCallback(ctx, cb)
		}()
	}
}

func (t *Transport) configured(chatID int64) bool {
	_, ok := t.allowed[chatID]
	return ok
}

func fromMessage(m *tgbotapi.Message) chat.Message {
	msg := chat.Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Text:      m.Text,
		RequestID: uuid.NewString(),
	}
	if m.From != nil {
		msg.AuthorDisplayName = m.From.UserName
		if msg.AuthorDisplayName == "" {
			msg.AuthorDisplayName = m.From.FirstName
		}
	}
	return msg
}

// Send implements chat.Sender.
func (t *Transport) Send(ctx context.Context, r chat.Reply) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	mc := tgbotapi.NewMessage(r.ChatID, r.Text)
	if r.ReplyTo != 0 {
		mc.ReplyToMessageID = r.ReplyTo
		mc.AllowSendingWithoutReply = true
	}
	for _, span := range r.Bold {
		mc.Entities = append(mc.Entities, tgbotapi.MessageEntity{
			Type:   "bold",
			Offset: span.Offset,
			Length: span.Length,
		})
	}
	if len(r.Buttons) > 0 {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r.Buttons))
		for _, b := range r.Buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		mc.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}

	sent, err := t.bot.Send(mc)
	if err != nil {
		return 0, fmt.Errorf("telegram sendMessage to %d: %w", r.ChatID, err)
	}
	return sent.MessageID, nil
}

// ClearButtons removes the inline keyboard from a message.
func (t *Transport) ClearButtons(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	if _, err := t.bot.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, empty)); err != nil {
		return fmt.Errorf("telegram editMessageReplyMarkup: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query so the client stops spinning.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("telegram answerCallbackQuery: %w", err)
	}
	return nil
}
