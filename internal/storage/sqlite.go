package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"slackriver/internal/chat"
	logx "slackriver/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	display_name TEXT NOT NULL,
	updated_at   INTEGER NOT NULL DEFAULT (unixepoch())
);`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutUser(ctx context.Context, id string, u chat.UserRef) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if id == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, display_name) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, display_name=excluded.display_name, updated_at=unixepoch()`,
		id, u.Name, u.DisplayName,
	)
	return err
}

func (s *sqliteStore) LoadUsers(ctx context.Context) (map[string]chat.UserRef, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, display_name FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]chat.UserRef{}
	for rows.Next() {
		var id string
		var u chat.UserRef
		if err := rows.Scan(&id, &u.Name, &u.DisplayName); err != nil {
			return nil, err
		}
		out[id] = u
	}
	return out, rows.Err()
}
