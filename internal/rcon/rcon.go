// Package rcon talks to a game server's remote console.
//
// Two backends implement Executor: Native speaks the Source RCON wire
// protocol directly over TCP, Mcrcon shells out to the mcrcon binary.
// Console layers the two operations the bot needs (list, broadcast) on top
// of either backend.
//
// A server whose process is up but whose console listener is not bound yet
// yields ErrConnectionFailed. Callers treat that as "still starting", not as
// a failure.
package rcon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

var (
	// ErrConnectionFailed means nothing accepted the connection.
	ErrConnectionFailed = errors.New("rcon: connection failed")

	// ErrAuthFailed means the server rejected the password.
	ErrAuthFailed = errors.New("rcon: authentication failed")

	// ErrProtocol means the server sent something that is not an RCON packet.
	ErrProtocol = errors.New("rcon: protocol error")
)

// Executor runs one console command and returns its textual output.
type Executor interface {
	Exec(ctx context.Context, ep domain.ConsoleEndpoint, command string) (string, error)
}

// Console exposes the console operations the bot uses.
type Console struct {
	exec Executor
}

// NewConsole wraps an executor.
func NewConsole(exec Executor) *Console {
	return &Console{exec: exec}
}

// List runs the "list" command.
func (c *Console) List(ctx context.Context, ep domain.ConsoleEndpoint) (string, error) {
	return c.exec.Exec(ctx, ep, "list")
}

// Broadcast shows a chat line from author to every player.
func (c *Console) Broadcast(ctx context.Context, ep domain.ConsoleEndpoint, author, text string) error {
	cmd, err := TellrawCommand(author, text)
	if err != nil {
		return err
	}
	_, err = c.exec.Exec(ctx, ep, cmd)
	return err
}

// TellrawCommand renders a tellraw command that prints "<author>: <text>" to
// all players with the author in bold. Both parts are JSON-encoded so chat
// text cannot escape the component list.
func TellrawCommand(author, text string) (string, error) {
	components := []any{
		"",
		map[string]any{"text": author, "bold": true},
		map[string]any{"text": ": " + text},
	}
	raw, err := json.Marshal(components)
	if err != nil {
		return "", fmt.Errorf("encode tellraw payload: %w", err)
	}
	return "tellraw @a " + string(raw), nil
}
