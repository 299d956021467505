package logsource

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"vawter.tech/stopper"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

const maxLineSize = 1 << 20

// Journal follows a unit through `journalctl -f -n 0 -u <unit>`.
type Journal struct {
	UseSudo        bool
	SudoCommand    string
	JournalctlPath string

	// command is swapped in tests.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewJournal uses sudo unless the process already runs as root.
func NewJournal() *Journal {
	return &Journal{
		UseSudo:        os.Geteuid() != 0,
		SudoCommand:    "sudo",
		JournalctlPath: "journalctl",
		command:        exec.CommandContext,
	}
}

func (j *Journal) argv(unit string) (string, []string) {
	args := []string{"-f", "-n", "0", "-u", unit}
	if j.UseSudo {
		return j.SudoCommand, append([]string{j.JournalctlPath}, args...)
	}
	return j.JournalctlPath, args
}

func (j *Journal) Follow(ctx context.Context, srv domain.Server) (Stream, error) {
	s := newLineStream(ctx)

	cctx, cancel := context.WithCancel(ctx)
	name, args := j.argv(srv.Unit)
	command := j.command
	if command == nil {
		command = exec.CommandContext
	}
	cmd := command(cctx, name, args...)
	// SIGTERM is relayed by sudo to journalctl; SIGKILL would not be.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 2 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("journalctl %s: %w", srv.Unit, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("journalctl %s: %w", srv.Unit, err)
	}

	// Killing the process is what unblocks the scanner.
	s.sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-sctx.Stopping():
		case <-ctx.Done():
		}
		cancel()
		return nil
	})

	s.sctx.Go(func(sctx *stopper.Context) error {
		defer close(s.lines)
		defer func() {
			cancel()
			_ = cmd.Wait()
		}()

		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for sc.Scan() {
			if !s.emit(ctx, sc.Text()) {
				return nil
			}
		}
		return nil
	})

	return s, nil
}
