// Package chat holds the transport-neutral message types shared by the
// dispatcher, the relay and the chat transports.
package chat

import (
	"context"
	"unicode/utf16"
)

// Message is one inbound text message.
type Message struct {
	ChatID            int64
	MessageID         int
	AuthorDisplayName string
	Text              string
	RequestID         string
}

// Callback is a press on an inline button.
type Callback struct {
	ID      string
	Data    string
	Message Message
}

// Span marks a range of a reply's text. Offset and Length count UTF-16 code
// units, which is what chat platforms use for entity ranges.
type Span struct {
	Offset int
	Length int
}

// Button is an inline button carrying callback data.
type Button struct {
	Text string
	Data string
}

// Reply is one outbound message. ReplyTo is zero for unsolicited messages.
type Reply struct {
	ChatID  int64
	ReplyTo int
	Text    string
	Bold    []Span
	Buttons []Button
}

// Sender delivers replies through a chat transport.
type Sender interface {
	Send(ctx context.Context, r Reply) (messageID int, err error)
	ClearButtons(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
