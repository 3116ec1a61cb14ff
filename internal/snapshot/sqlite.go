package snapshot

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "scorewatch/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// sqliteStore keeps the blob in a single-row table. The upsert replaces
// the row in one statement, which SQLite applies atomically.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapshot: migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (State, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM snapshot WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		s.log.Info("no snapshot yet; starting empty")
		return Empty(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("snapshot: query: %w", err)
	}
	st, savedAt, err := Decode(blob)
	if err != nil {
		return State{}, err
	}
	s.log.Debug("snapshot loaded", logx.Int("items", len(st.Details)), logx.Time("saved_at", savedAt))
	return st, nil
}

func (s *sqliteStore) Save(ctx context.Context, st State) error {
	now := time.Now()
	blob, err := Encode(st, now)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshot(id, blob, items, saved_at) VALUES(1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET blob=excluded.blob, items=excluded.items, saved_at=excluded.saved_at`,
		blob, len(st.Details), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("snapshot: upsert: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
