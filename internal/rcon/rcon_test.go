package rcon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

// fakeServer answers one connection the way a game server would.
func fakeServer(t *testing.T, password string, reply func(cmd string) string) domain.ConsoleEndpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, password, reply)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return domain.ConsoleEndpoint{Host: host, Port: port, Password: password}
}

func serveConn(conn net.Conn, password string, reply func(string) string) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)
	for {
		p, err := readPacket(r)
		if err != nil {
			return
		}
		switch p.Type {
		case packetTypeAuth:
			id := p.ID
			if p.Body != password {
				id = -1
			}
			_, _ = conn.Write(packet{ID: p.ID, Type: packetTypeResponse}.encode())
			_, _ = conn.Write(packet{ID: id, Type: packetTypeCommand}.encode())
		case packetTypeCommand:
			_, _ = conn.Write(packet{ID: p.ID, Type: packetTypeResponse, Body: reply(p.Body)}.encode())
		}
	}
}

func TestNativeExec(t *testing.T) {
	ep := fakeServer(t, "secret", func(cmd string) string {
		if cmd == "list" {
			return "There are 1 of a max of 20 players online: Alice"
		}
		return ""
	})

	out, err := NewConsole(NewNative(2*time.Second)).List(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, "There are 1 of a max of 20 players online: Alice", out)
}

func TestNativeWrongPassword(t *testing.T) {
	ep := fakeServer(t, "secret", func(string) string { return "" })
	ep.Password = "nope"

	_, err := NewNative(2*time.Second).Exec(context.Background(), ep, "list")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestNativeConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	ep := domain.ConsoleEndpoint{Host: "127.0.0.1", Port: addr.Port}
	_, err = NewNative(2*time.Second).Exec(context.Background(), ep, "list")
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestBroadcastSendsTellraw(t *testing.T) {
	got := make(chan string, 1)
	ep := fakeServer(t, "pw", func(cmd string) string {
		got <- cmd
		return ""
	})

	err := NewConsole(NewNative(2*time.Second)).Broadcast(context.Background(), ep, "Bob", "hi")
	require.NoError(t, err)
	assert.Equal(t, `tellraw @a ["",{"bold":true,"text":"Bob"},{"text":": hi"}]`, <-got)
}

func TestTellrawCommandEscapes(t *testing.T) {
	cmd, err := TellrawCommand(`Ev"e`, `say "hi" \o/`)
	require.NoError(t, err)

	var parts []any
	require.NoError(t, json.Unmarshal([]byte(cmd[len("tellraw @a "):]), &parts))
	require.Len(t, parts, 3)
	assert.Equal(t, `Ev"e`, parts[1].(map[string]any)["text"])
	assert.Equal(t, `: say "hi" \o/`, parts[2].(map[string]any)["text"])
}

type exitErr struct{ code int }

func (e exitErr) Error() string { return "exit status " + strconv.Itoa(e.code) }
func (e exitErr) ExitCode() int { return e.code }

func TestMcrconExec(t *testing.T) {
	ep := domain.ConsoleEndpoint{Host: "localhost", Port: 25575, Password: "pw"}

	tests := []struct {
		name    string
		stdout  string
		stderr  string
		err     error
		want    string
		wantErr error
	}{
		{name: "ok", stdout: "There are 0 of a max of 20 players online: ", want: "There are 0 of a max of 20 players online: "},
		{name: "port closed", stderr: "Connection failed.\nError 111: Connection refused\n", err: exitErr{1}, wantErr: ErrConnectionFailed},
		{name: "bad password", stderr: "Authentication failed!\n", err: exitErr{1}, wantErr: ErrAuthFailed},
		{name: "missing binary", err: errors.New("exec: \"mcrcon\": executable file not found in $PATH")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotArgs []string
			m := NewMcrcon("", time.Second)
			m.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
				gotArgs = append([]string{name}, args...)
				return []byte(tt.stdout), []byte(tt.stderr), tt.err
			}

			out, err := m.Exec(context.Background(), ep, "list")
			assert.Equal(t, []string{"mcrcon", "-H", "localhost", "-P", "25575", "-p", "pw", "list"}, gotArgs)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.err != nil:
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrConnectionFailed)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, out)
			}
		})
	}
}
