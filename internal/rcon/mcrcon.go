package rcon

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

// connectionFailedMarker is what mcrcon prints to stderr when the port is closed.
const connectionFailedMarker = "Connection failed"

// Mcrcon runs commands through the mcrcon binary.
type Mcrcon struct {
	Path    string
	Timeout time.Duration

	run func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// NewMcrcon returns an exec backend. An empty path means "mcrcon" on $PATH.
func NewMcrcon(path string, timeout time.Duration) *Mcrcon {
	if path == "" {
		path = "mcrcon"
	}
	return &Mcrcon{Path: path, Timeout: timeout, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Exec runs command against ep.
func (m *Mcrcon) Exec(ctx context.Context, ep domain.ConsoleEndpoint, command string) (string, error) {
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	args := []string{"-H", ep.Host, "-P", strconv.Itoa(ep.Port), "-p", ep.Password, command}
	run := m.run
	if run == nil {
		run = runCommand
	}
	stdout, stderr, err := run(ctx, m.Path, args...)

	errText := string(stderr)
	if strings.Contains(errText, connectionFailedMarker) {
		return "", fmt.Errorf("%w: %s", ErrConnectionFailed, ep.Addr())
	}
	if err != nil {
		if strings.Contains(strings.ToLower(errText), "authentication failed") {
			return "", ErrAuthFailed
		}
		return "", fmt.Errorf("mcrcon %s: %w (stderr: %s)", ep.Addr(), err, strings.TrimSpace(errText))
	}
	return string(stdout), nil
}
