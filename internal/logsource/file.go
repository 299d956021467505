package logsource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/MrSnakeDoc/mcbot/internal/domain"
)

// File tails the server's LogFile. It survives rotation by rename (the new
// file is read from the start) and by truncation.
type File struct{}

func NewFile() *File { return &File{} }

type tail struct {
	path    string
	fh      *os.File
	r       *bufio.Reader
	offset  int64
	partial string
}

func openTail(path string, fromEnd bool) (*tail, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var offset int64
	if fromEnd {
		if offset, err = fh.Seek(0, io.SeekEnd); err != nil {
			_ = fh.Close()
			return nil, err
		}
	}
	return &tail{path: path, fh: fh, r: bufio.NewReader(fh), offset: offset}, nil
}

func (t *tail) close() error {
	if t.fh == nil {
		return nil
	}
	err := t.fh.Close()
	t.fh = nil
	return err
}

func (t *tail) reopen() error {
	_ = t.close()
	next, err := openTail(t.path, false)
	if err != nil {
		return err
	}
	*t = *next
	return nil
}

// drain reads every complete line currently in the file. It returns false
// when emit refused a line.
func (t *tail) drain(emit func(string) bool) bool {
	if t.fh == nil {
		return true
	}
	if fi, err := t.fh.Stat(); err == nil && fi.Size() < t.offset {
		if _, err := t.fh.Seek(0, io.SeekStart); err == nil {
			t.r.Reset(t.fh)
			t.offset = 0
			t.partial = ""
		}
	}
	for {
		chunk, err := t.r.ReadString('\n')
		t.offset += int64(len(chunk))
		if err != nil {
			t.partial += chunk
			return true
		}
		line := strings.TrimRight(t.partial+chunk, "\r\n")
		t.partial = ""
		if !emit(line) {
			return false
		}
	}
}

func (f *File) Follow(ctx context.Context, srv domain.Server) (Stream, error) {
	if srv.LogFile == "" {
		return nil, fmt.Errorf("logsource: %s has no log file", srv.Identity)
	}
	path := filepath.Clean(srv.LogFile)

	t, err := openTail(path, true)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = t.close()
		return nil, fmt.Errorf("watch log %s: %w", path, err)
	}
	// The directory, not the file, so a rotated-in file is seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		_ = t.close()
		return nil, fmt.Errorf("watch log %s: %w", path, err)
	}

	s := newLineStream(ctx)
	s.sctx.Defer(func() {
		_ = watcher.Close()
		_ = t.close()
	})

	emit := func(line string) bool { return s.emit(ctx, line) }

	s.sctx.Go(func(sctx *stopper.Context) error {
		defer close(s.lines)
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ctx.Done():
				return nil

			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				switch {
				case ev.Has(fsnotify.Create):
					if err := t.reopen(); err != nil {
						continue
					}
				case ev.Has(fsnotify.Write):
				default:
					continue
				}
				if !t.drain(emit) {
					return nil
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	})

	return s, nil
}
