package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "scorewatch/pkg/logx"
)

// fileStore keeps the blob in one file. Save writes <path>.tmp, syncs it
// and renames it over <path>, so readers only ever see a complete blob.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("no snapshot yet; starting empty", logx.String("path", s.path))
		return Empty(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("snapshot: read %s: %w", s.path, err)
	}

	st, savedAt, err := Decode(b)
	if err != nil {
		return State{}, fmt.Errorf("snapshot: %s: %w", s.path, err)
	}
	s.log.Debug("snapshot loaded",
		logx.String("path", s.path),
		logx.Int("items", len(st.Details)),
		logx.Time("saved_at", savedAt),
	)
	return st, nil
}

func (s *fileStore) Save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(st, time.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error { return nil }
