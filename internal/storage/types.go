package storage

import (
	"context"
	"errors"
	"time"

	"slackriver/internal/chat"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": snapshot + jsonl journal next to Path
//   - "sqlite": SQLite database file at Path
//   - "redis": a hash on RedisAddr, keyed by Path or "slackriver:users"
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisAddr   string
}

// Store keeps resolved users keyed by platform user id.
type Store interface {
	PutUser(ctx context.Context, id string, u chat.UserRef) error
	LoadUsers(ctx context.Context) (map[string]chat.UserRef, error)
	Close() error
}
