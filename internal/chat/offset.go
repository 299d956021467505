package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// OffsetStore checkpoints the transport's next update offset so a restart
// does not replay commands that were already handled.
type OffsetStore interface {
	Load(ctx context.Context) (int, error)
	Save(ctx context.Context, offset int) error
}

// MemoryOffsetStore keeps the offset for the lifetime of the process only.
type MemoryOffsetStore struct {
	mu     sync.Mutex
	offset int
}

func NewMemoryOffsetStore() *MemoryOffsetStore { return &MemoryOffsetStore{} }

func (s *MemoryOffsetStore) Load(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset, nil
}

func (s *MemoryOffsetStore) Save(_ context.Context, offset int) error {
	s.mu.Lock()
	s.offset = offset
	s.mu.Unlock()
	return nil
}

// FileOffsetStore keeps the offset in a small text file, replaced atomically
// on every save.
type FileOffsetStore struct {
	path string
}

func NewFileOffsetStore(path string) *FileOffsetStore { return &FileOffsetStore{path: path} }

// Load returns 0 when the file does not exist yet.
func (s *FileOffsetStore) Load(context.Context) (int, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read offset %s: %w", s.path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("parse offset %s: %w", s.path, err)
	}
	return offset, nil
}

func (s *FileOffsetStore) Save(_ context.Context, offset int) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create offset dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, []byte(strconv.Itoa(offset)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write offset %s: %w", s.path, err)
	}
	return nil
}
