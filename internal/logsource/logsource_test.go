package logsource

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

func next(t *testing.T, s Stream) string {
	t.Helper()
	select {
	case line, ok := <-s.Lines():
		require.True(t, ok, "stream closed")
		return line
	case <-time.After(3 * time.Second):
		t.Fatal("no line within 3s")
		return ""
	}
}

func TestJournalArgv(t *testing.T) {
	j := NewJournal()

	j.UseSudo = true
	name, args := j.argv("minecraft-server@lobby.service")
	assert.Equal(t, "sudo", name)
	assert.Equal(t, []string{"journalctl", "-f", "-n", "0", "-u", "minecraft-server@lobby.service"}, args)

	j.UseSudo = false
	name, args = j.argv("minecraft-server@lobby.service")
	assert.Equal(t, "journalctl", name)
	assert.Equal(t, []string{"-f", "-n", "0", "-u", "minecraft-server@lobby.service"}, args)
}

func TestJournalFollowStreamsAndCloses(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	j := NewJournal()
	j.command = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "printf 'one\\ntwo\\n'; exec sleep 30")
	}

	s, err := j.Follow(context.Background(), domain.Server{Unit: "x.service"})
	require.NoError(t, err)

	assert.Equal(t, "one", next(t, s))
	assert.Equal(t, "two", next(t, s))

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked on a running follower")
	}

	_, ok := <-s.Lines()
	assert.False(t, ok)
}

func TestJournalFollowEndsWithContext(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	j := NewJournal()
	j.command = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "exec sleep 30")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s, err := j.Follow(ctx, domain.Server{Unit: "x.service"})
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-s.Lines():
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("stream still open after cancel")
	}
	require.NoError(t, s.Close())
}

func appendTo(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFileFollowSkipsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")
	appendTo(t, path, "old line\n")

	s, err := NewFile().Follow(context.Background(), domain.Server{Identity: "lobby", LogFile: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	appendTo(t, path, "[12:00:00] [Server thread/INFO]: <Alice> hi\n")
	assert.Equal(t, "[12:00:00] [Server thread/INFO]: <Alice> hi", next(t, s))
}

func TestFileFollowJoinsPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")
	appendTo(t, path, "")

	s, err := NewFile().Follow(context.Background(), domain.Server{Identity: "lobby", LogFile: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	appendTo(t, path, "half")
	time.Sleep(50 * time.Millisecond)
	appendTo(t, path, " and half\n")
	assert.Equal(t, "half and half", next(t, s))
}

func TestFileFollowSurvivesRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.log")
	appendTo(t, path, "")

	s, err := NewFile().Follow(context.Background(), domain.Server{Identity: "lobby", LogFile: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	appendTo(t, path, "before\n")
	assert.Equal(t, "before", next(t, s))

	require.NoError(t, os.Rename(path, filepath.Join(dir, "old.log")))
	appendTo(t, path, "after\n")
	assert.Equal(t, "after", next(t, s))
}

func TestFileFollowRequiresPath(t *testing.T) {
	_, err := NewFile().Follow(context.Background(), domain.Server{Identity: "lobby"})
	assert.Error(t, err)
}

type stubFollower struct{ called bool }

func (f *stubFollower) Follow(context.Context, domain.Server) (Stream, error) {
	f.called = true
	return nil, nil
}

func TestAutoPicksSource(t *testing.T) {
	journal, file := &stubFollower{}, &stubFollower{}
	a := Auto{Journal: journal, File: file}

	_, _ = a.Follow(context.Background(), domain.Server{LogFile: "/var/log/mc.log"})
	assert.True(t, file.called)
	assert.False(t, journal.called)

	_, _ = a.Follow(context.Background(), domain.Server{})
	assert.True(t, journal.called)
}
