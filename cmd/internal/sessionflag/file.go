package sessionflag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileStore keeps the flag in a small JSON file so that several processes
// (CLI invocations, a long-running chat session) share one view of it.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

type fileRecord struct {
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFileStore returns a store backed by path. The parent directory is
// created on first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrConfig)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &FileStore{path: abs, now: time.Now}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(context.Context) (bool, error) {
	rec, err := s.read()
	if err != nil {
		return false, err
	}
	return rec.Active, nil
}

func (s *FileStore) Set(_ context.Context, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("session flag dir: %w", err)
	}

	b, err := json.Marshal(fileRecord{Active: active, UpdatedAt: s.now().UTC()})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".flag-*")
	if err != nil {
		return fmt.Errorf("session flag temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("session flag write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session flag close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("session flag rename: %w", err)
	}
	return nil
}

func (s *FileStore) read() (fileRecord, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileRecord{}, nil
	}
	if err != nil {
		return fileRecord{}, fmt.Errorf("session flag read: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return fileRecord{}, fmt.Errorf("session flag decode: %w", err)
	}
	return rec, nil
}

// Watch calls fn with the new value whenever another writer changes the file.
// It blocks until ctx is done. Writes replace the file by rename, so the
// parent directory is watched rather than the file itself.
func (s *FileStore) Watch(ctx context.Context, log *slog.Logger, fn func(active bool)) error {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session flag dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session flag watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("session flag watch %s: %w", dir, err)
	}

	last, _ := s.Get(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			cur, err := s.Get(ctx)
			if err != nil {
				log.Warn("sessionflag.watch.read_failed", "path", s.path, "err", err)
				continue
			}
			if cur == last {
				continue
			}
			last = cur
			log.Debug("sessionflag.watch.changed", "path", s.path, "active", cur)
			fn(cur)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("sessionflag.watch.error", "path", s.path, "err", err)
		}
	}
}
