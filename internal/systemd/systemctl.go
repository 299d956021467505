// Package systemd drives managed units through systemctl.
package systemd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// inactiveExitCode is what `systemctl is-active` returns for a unit that is
// not active. It is a status, not a failure.
const inactiveExitCode = 3

// Client controls units via systemctl, optionally through sudo.
type Client struct {
	// UseSudo prefixes every invocation with SudoCommand.
	UseSudo bool
	// SudoCommand defaults to "sudo".
	SudoCommand string
	// SystemctlPath defaults to "systemctl".
	SystemctlPath string
	// Timeout bounds a single invocation.
	Timeout time.Duration

	// run is swapped in tests.
	run func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// New returns a Client that uses sudo unless the process already runs as root.
func New() *Client {
	return &Client{
		UseSudo:       os.Geteuid() != 0,
		SudoCommand:   "sudo",
		SystemctlPath: "systemctl",
		Timeout:       10 * time.Second,
		run:           runCommand,
	}
}

// WithSudo overrides sudo usage.
func (c *Client) WithSudo(use bool, command string) *Client {
	c.UseSudo = use
	if command != "" {
		c.SudoCommand = command
	}
	return c
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (c *Client) exec(ctx context.Context, args ...string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	name := c.SystemctlPath
	if c.UseSudo {
		args = append([]string{c.SystemctlPath}, args...)
		name = c.SudoCommand
	}

	run := c.run
	if run == nil {
		run = runCommand
	}
	stdout, stderr, err := run(ctx, name, args...)
	if err != nil {
		return string(stdout), &CommandError{Args: args, Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}
	return string(stdout), nil
}

// Start queues a start job for unit and returns without waiting for it.
func (c *Client) Start(ctx context.Context, unit string) error {
	_, err := c.exec(ctx, "start", "--no-block", unit)
	return err
}

// Stop queues a stop job for unit and returns without waiting for it.
func (c *Client) Stop(ctx context.Context, unit string) error {
	_, err := c.exec(ctx, "stop", "--no-block", unit)
	return err
}

// IsActive reports whether unit is in the "active" state.
func (c *Client) IsActive(ctx context.Context, unit string) (bool, error) {
	out, err := c.exec(ctx, "is-active", unit)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.exitCode() == inactiveExitCode {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(out) == "active", nil
}

// CommandError describes a failed systemctl invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("systemctl %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("systemctl %s: %v (stderr: %s)", strings.Join(e.Args, " "), e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// exitCode extracts the process exit code, or -1 when the command never ran.
func (e *CommandError) exitCode() int {
	var coder interface{ ExitCode() int }
	if errors.As(e.Err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
